package reading

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/catalog"
	"github.com/BTreeMap/TarotPipe/internal/history"
	"github.com/BTreeMap/TarotPipe/internal/models"
)

// DefaultCompletionTimeout bounds the interpretation request.
const DefaultCompletionTimeout = 20 * time.Second

const systemPrompt = `Ты опытный и тёплый таролог. Пиши по-русски, на "ты", без markdown.
Дай толкование расклада в 2-4 коротких абзацах: свяжи карты с ситуацией человека,
будь бережным, не пугай и не давай медицинских или финансовых гарантий.
Закончи одним практичным советом.`

// Completer is the completion service. *genai.Client implements it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var advice = map[models.Category]string{
	models.CategoryRelationships: "Совет: говори о своих чувствах прямо и бережно, карты показывают, что честность сейчас важнее гордости.",
	models.CategoryWork:          "Совет: сделай один маленький шаг к переменам на этой неделе, не жди идеального момента.",
	models.CategoryMoney:         "Совет: наведи порядок в расходах и не принимай денежных решений на эмоциях.",
	models.CategoryHealth:        "Совет: береги силы и дай себе отдых, тело подскажет, что ему нужно.",
	models.CategoryDecision:      "Совет: прислушайся к первому чувству, которое возникло, когда ты увидел(а) ответ.",
	models.CategoryGeneral:       "Совет: прислушайся к своей интуиции и доверься процессу.",
}

const reminderLine = "💫 Помни: Таро показывает тенденции, но не предопределяет будущее."

// Opts configures a Reader.
type Opts struct {
	Completer Completer
	Timeout   time.Duration
	Catalog   *catalog.Catalog
	Deck      *Deck
	Now       func() time.Time
}

// Option mutates Opts.
type Option func(*Opts)

// WithCompleter enables generated interpretations.
func WithCompleter(c Completer) Option { return func(o *Opts) { o.Completer = c } }

// WithTimeout sets the completion timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithCatalog sets the catalog used for the reading preface.
func WithCatalog(c *catalog.Catalog) Option { return func(o *Opts) { o.Catalog = c } }

// WithDeck sets the deck.
func WithDeck(d *Deck) Option { return func(o *Opts) { o.Deck = d } }

// WithClock sets the clock used for the moon phase.
func WithClock(now func() time.Time) Option { return func(o *Opts) { o.Now = now } }

// Reader composes readings.
type Reader struct {
	opts     Opts
	selector *history.Selector
}

// NewReader creates a Reader. Without a completer every reading uses the
// static interpretation.
func NewReader(opts ...Option) *Reader {
	o := Opts{Timeout: DefaultCompletionTimeout, Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Deck == nil {
		o.Deck = NewDeck(nil)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Reader{opts: o, selector: history.NewSelector()}
}

// Deck returns the reader's deck.
func (r *Reader) Deck() *Deck { return r.opts.Deck }

// Reading draws a spread for state and returns the full reading text.
func (r *Reader) Reading(ctx context.Context, state *models.ConversationState) string {
	spread := SpreadFor(state.ProblemCategory)
	cards := spread.Deal(r.opts.Deck)

	parts := make([]string, 0, 5)
	if preface := r.preface(state.UserDisplayName); preface != "" {
		parts = append(parts, preface)
	}
	parts = append(parts, Layout(spread, cards))
	parts = append(parts, r.interpret(ctx, state, spread, cards))
	parts = append(parts, MoonLine(r.opts.Now()), reminderLine)
	return strings.Join(parts, "\n\n")
}

func (r *Reader) preface(name string) string {
	if r.opts.Catalog == nil {
		return ""
	}
	candidates := r.opts.Catalog.Candidates(catalog.ReadingPreface, name)
	if len(candidates) == 0 {
		return ""
	}
	choice, _ := r.selector.Pick(candidates, nil)
	return choice
}

func (r *Reader) interpret(ctx context.Context, state *models.ConversationState, spread Spread, cards []DrawnCard) string {
	if r.opts.Completer == nil {
		return StaticInterpretation(state.ProblemCategory, cards)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	text, err := r.opts.Completer.Complete(ctx, systemPrompt, userPrompt(state, spread, cards))
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Warn("Reader.interpret: completion failed, using static interpretation", "chat_id", state.ChatID, "error", err)
		return StaticInterpretation(state.ProblemCategory, cards)
	}
	return strings.TrimSpace(text)
}

func userPrompt(state *models.ConversationState, spread Spread, cards []DrawnCard) string {
	var b strings.Builder
	problem := strings.TrimSpace(state.ProblemText)
	if problem == "" {
		problem = "человек не описал ситуацию подробно"
	}
	fmt.Fprintf(&b, "Ситуация: %s\nТема: %s\nРасклад: %s\n", problem, state.ProblemCategory, spread.Title)
	for _, c := range cards {
		orientation := "прямая"
		if c.Reversed {
			orientation = "перевернутая"
		}
		fmt.Fprintf(&b, "- %s: %s (%s), %s\n", c.Position, c.Name, orientation, c.Meaning)
	}
	return b.String()
}

// StaticInterpretation summarises the cards without the completion service.
func StaticInterpretation(c models.Category, cards []DrawnCard) string {
	var b strings.Builder
	b.WriteString("✨ Толкование\n")
	for _, card := range cards {
		meaning := strings.ToLower(card.Meaning)
		if card.Reversed {
			fmt.Fprintf(&b, "%s: энергия «%s» сейчас заблокирована и требует внимания.\n", card.Position, meaning)
		} else {
			fmt.Fprintf(&b, "%s: карты говорят о теме «%s».\n", card.Position, meaning)
		}
	}
	tip, ok := advice[c]
	if !ok {
		tip = advice[models.CategoryGeneral]
	}
	b.WriteString("\n")
	b.WriteString(tip)
	return b.String()
}
