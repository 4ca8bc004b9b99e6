package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/catalog"
	"github.com/BTreeMap/TarotPipe/internal/classifier"
	"github.com/BTreeMap/TarotPipe/internal/history"
	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/tone"
)

// Commands recognised at any stage.
const (
	CommandStart = "/start"
	CommandHelp  = "/help"
	CommandTarot = "/tarot"
)

// DefaultFastModeThreshold is the gap between inbound messages below which a
// conversation is considered to be in fast mode.
const DefaultFastModeThreshold = 20 * time.Second

// Result is the outcome of one Advance call.
type Result struct {
	ChatID    string
	Previous  models.Stage
	Stage     models.Stage
	Messages  []string
	FastMode  bool
	Restarted bool
	// EnteredWorking is set on the turn the conversation reaches working.
	EnteredWorking bool
	// LinkSent is set on the turn the payment URL was queued.
	LinkSent bool
	State    *models.ConversationState
}

// Opts configures a Machine.
type Opts struct {
	Classifier        *classifier.Classifier
	Selector          *history.Selector
	Naturalizer       tone.Naturalizer
	Payment           PaymentLinker
	Cards             CardDrawer
	FastModeThreshold time.Duration
	Roll              tone.Roll
	Now               func() time.Time
}

// Option mutates Opts.
type Option func(*Opts)

// WithClassifier sets the text classifier.
func WithClassifier(c *classifier.Classifier) Option { return func(o *Opts) { o.Classifier = c } }

// WithSelector sets the novelty selector.
func WithSelector(s *history.Selector) Option { return func(o *Opts) { o.Selector = s } }

// WithNaturalizer sets the cosmetic text mutation policy.
func WithNaturalizer(n tone.Naturalizer) Option { return func(o *Opts) { o.Naturalizer = n } }

// WithPayment sets the payment link provider.
func WithPayment(p PaymentLinker) Option { return func(o *Opts) { o.Payment = p } }

// WithCards sets the card drawer used by /tarot.
func WithCards(c CardDrawer) Option { return func(o *Opts) { o.Cards = c } }

// WithFastModeThreshold sets the inter-message gap that enables fast mode.
func WithFastModeThreshold(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.FastModeThreshold = d
		}
	}
}

// WithRoll sets the random source for the naturalizer.
func WithRoll(r tone.Roll) Option { return func(o *Opts) { o.Roll = r } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(o *Opts) { o.Now = now } }

// Machine advances conversations through the funnel. Advance calls for the
// same chat id are serialized; different chats proceed in parallel.
type Machine struct {
	states   StateManager
	catalog  *catalog.Catalog
	opts     Opts
	locks    *keyedMutex
	handlers map[models.Stage]stageHandler
}

// NewMachine builds a Machine. The catalog's keyword lists configure the
// default classifier.
func NewMachine(states StateManager, cat *catalog.Catalog, opts ...Option) (*Machine, error) {
	if states == nil {
		return nil, fmt.Errorf("state manager is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	o := Opts{
		Naturalizer:       tone.Default(),
		FastModeThreshold: DefaultFastModeThreshold,
		Roll:              rand.Float64,
		Now:               time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Classifier == nil {
		o.Classifier = classifier.New(classifier.WithKeywords(cat.Keywords()))
	}
	if o.Selector == nil {
		o.Selector = history.NewSelector()
	}
	if o.Payment == nil {
		return nil, fmt.Errorf("payment link provider is required")
	}
	m := &Machine{states: states, catalog: cat, opts: o, locks: newKeyedMutex()}
	m.handlers = m.stageHandlers()
	return m, nil
}

// Advance processes one inbound message and returns the outbound batch.
// The record is saved before returning; on a save error no messages are
// returned so nothing is delivered for an unrecorded transition.
func (m *Machine) Advance(ctx context.Context, msg models.InboundMessage) (Result, error) {
	unlock := m.locks.Lock(msg.ChatID)
	defer unlock()

	state, created, err := m.states.Load(ctx, msg.ChatID, msg.DisplayName)
	if err != nil {
		return Result{}, err
	}

	res := Result{ChatID: msg.ChatID, Previous: state.Stage}
	text := strings.TrimSpace(msg.Text)
	now := m.opts.Now()

	if command(text) == CommandStart && !created {
		state, err = m.states.Reset(ctx, msg.ChatID, msg.DisplayName)
		if err != nil {
			return Result{}, err
		}
		res.Restarted = true
		slog.Info("Machine.Advance: conversation restarted", "chat_id", msg.ChatID, "previous_stage", res.Previous)
	}
	m.touch(state, now)
	state.LastInteractionAt = now

	t := &turn{m: m, ctx: ctx, state: state, text: text}
	switch command(text) {
	case CommandHelp:
		t.emit(catalog.Help)
	case CommandTarot:
		t.cardOfDay()
	default:
		m.dispatch(t)
	}

	if err := m.states.Save(ctx, state); err != nil {
		return Result{}, err
	}

	res.Stage = state.Stage
	res.FastMode = state.FastMode
	res.Messages = m.naturalize(t.out, state.FastMode)
	res.EnteredWorking = res.Stage == models.StageWorking && res.Previous != models.StageWorking
	res.LinkSent = t.linkSent
	res.State = state.Clone()

	slog.Debug("Machine.Advance: turn processed",
		"chat_id", msg.ChatID, "from", res.Previous, "to", res.Stage,
		"messages", len(res.Messages), "fast_mode", res.FastMode)
	return res, nil
}

// touch updates the advisory counters. The /start that restarts a
// conversation counts as its first message.
func (m *Machine) touch(state *models.ConversationState, now time.Time) {
	if state.MessageCount > 0 && !state.LastInteractionAt.IsZero() {
		state.FastMode = now.Sub(state.LastInteractionAt) < m.opts.FastModeThreshold
	}
	state.MessageCount++
	state.TrustLevel++
}

// dispatch runs the handler for the current stage. An unrecognised stage is
// repaired to listening first.
func (m *Machine) dispatch(t *turn) {
	h, ok := m.handlers[t.state.Stage]
	if !ok {
		slog.Warn("Machine.dispatch: unknown stage, falling back to listening",
			"chat_id", t.state.ChatID, "stage", string(t.state.Stage))
		t.state.Stage = models.StageListening
		h = m.handlers[models.StageListening]
	}
	h(t)
}

func (m *Machine) naturalize(msgs []string, fast bool) []string {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]string, len(msgs))
	for i, s := range msgs {
		out[i] = m.opts.Naturalizer.Apply(s, fast, m.opts.Roll)
	}
	return out
}

// command returns the lower-cased leading command token, without any
// @botname suffix, or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	tok := strings.Fields(text)[0]
	if i := strings.IndexByte(tok, '@'); i > 0 {
		tok = tok[:i]
	}
	return strings.ToLower(tok)
}

// ConfirmPayment applies an out-of-band payment confirmation, such as a
// payment gateway webhook. It only has an effect while the conversation is
// waiting for payment.
func (m *Machine) ConfirmPayment(ctx context.Context, chatID string) (Result, error) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	state, created, err := m.states.Load(ctx, chatID, "")
	if err != nil {
		return Result{}, err
	}
	res := Result{ChatID: chatID, Previous: state.Stage, Stage: state.Stage}
	if created || state.Stage != models.StageAwaitingPayment || !state.PaymentLinkSent {
		slog.Warn("Machine.ConfirmPayment: conversation not awaiting payment", "chat_id", chatID, "stage", state.Stage)
		return res, nil
	}

	t := &turn{m: m, ctx: ctx, state: state}
	m.markPaid(t)
	if err := m.states.Save(ctx, state); err != nil {
		return Result{}, err
	}
	res.Stage = state.Stage
	res.Messages = m.naturalize(t.out, false)
	res.EnteredWorking = true
	res.State = state.Clone()
	return res, nil
}

// ClaimReading marks the paid reading as delivered and reports whether the
// caller should send it. It returns false when the reading was already
// claimed or the conversation left the working stage, e.g. after a restart.
func (m *Machine) ClaimReading(ctx context.Context, chatID string) (bool, error) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	state, created, err := m.states.Load(ctx, chatID, "")
	if err != nil {
		return false, err
	}
	if created || state.Stage != models.StageWorking || state.ReadingDelivered {
		return false, nil
	}
	state.ReadingDelivered = true
	if err := m.states.Save(ctx, state); err != nil {
		return false, err
	}
	return true, nil
}
