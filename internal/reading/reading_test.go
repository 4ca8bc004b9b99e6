package reading

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/catalog"
	"github.com/BTreeMap/TarotPipe/internal/models"
)

func TestDeckHasMajorArcana(t *testing.T) {
	if n := NewDeck(nil).Size(); n != 22 {
		t.Fatalf("expected 22 cards, got %d", n)
	}
}

func TestDrawWithoutReplacement(t *testing.T) {
	d := NewDeck(rand.New(rand.NewPCG(7, 7)))
	for i := 0; i < 50; i++ {
		cards := d.Draw(10)
		if len(cards) != 10 {
			t.Fatalf("expected 10 cards, got %d", len(cards))
		}
		seen := map[string]bool{}
		for _, c := range cards {
			if seen[c.Name] {
				t.Fatalf("card %s drawn twice", c.Name)
			}
			seen[c.Name] = true
		}
	}
	if got := len(d.Draw(100)); got != 22 {
		t.Errorf("expected draw capped at 22, got %d", got)
	}
	if d.Draw(0) != nil {
		t.Error("expected nil for zero draw")
	}
}

func TestSpreadFor(t *testing.T) {
	tests := map[models.Category]struct {
		name  string
		cards int
	}{
		models.CategoryRelationships: {SpreadRelationship, 5},
		models.CategoryWork:          {SpreadCareer, 4},
		models.CategoryMoney:         {SpreadCareer, 4},
		models.CategoryDecision:      {SpreadYesNo, 1},
		models.CategoryHealth:        {SpreadPastPresentFuture, 3},
		models.CategoryGeneral:       {SpreadPastPresentFuture, 3},
	}
	for cat, want := range tests {
		s := SpreadFor(cat)
		if s.Name != want.name || len(s.Positions) != want.cards {
			t.Errorf("SpreadFor(%s) = %s/%d, want %s/%d", cat, s.Name, len(s.Positions), want.name, want.cards)
		}
	}
	if cc, ok := LookupSpread(SpreadCelticCross); !ok || len(cc.Positions) != 10 {
		t.Error("celtic cross must have 10 positions")
	}
}

func TestMoonPhase(t *testing.T) {
	tests := []struct {
		day  int
		want string
	}{{1, "🌑"}, {7, "🌑"}, {8, "🌓"}, {15, "🌕"}, {21, "🌕"}, {22, "🌗"}, {31, "🌗"}}
	for _, tt := range tests {
		emoji, _ := MoonPhase(time.Date(2024, 1, tt.day, 0, 0, 0, 0, time.UTC))
		if emoji != tt.want {
			t.Errorf("day %d: got %s, want %s", tt.day, emoji, tt.want)
		}
	}
}

type stubCompleter struct {
	text  string
	err   error
	wait  time.Duration
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, _, user string) (string, error) {
	s.calls++
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !strings.Contains(user, "Ситуация") {
		return "", errors.New("prompt missing situation")
	}
	return s.text, s.err
}

func testState() *models.ConversationState {
	s := models.NewConversationState("1", "Ира", time.Now())
	s.ProblemText = "не понимаю, что происходит с отношениями"
	s.ProblemCategory = models.CategoryRelationships
	return s
}

func TestReadingUsesCompletion(t *testing.T) {
	cat, _ := catalog.Default()
	c := &stubCompleter{text: "Карты советуют тебе быть мягче к себе."}
	r := NewReader(WithCompleter(c), WithCatalog(cat), WithDeck(NewDeck(rand.New(rand.NewPCG(1, 2)))))
	text := r.Reading(context.Background(), testState())

	if !strings.Contains(text, "Карты советуют тебе быть мягче к себе.") {
		t.Errorf("completion missing from reading:\n%s", text)
	}
	if !strings.Contains(text, "Чувства партнера") {
		t.Errorf("relationship spread not used:\n%s", text)
	}
	if !strings.Contains(text, "Ира") {
		t.Errorf("preface not personalised:\n%s", text)
	}
}

func TestReadingFallsBackOnError(t *testing.T) {
	c := &stubCompleter{err: errors.New("quota exceeded")}
	now := time.Date(2024, 6, 16, 12, 0, 0, 0, time.UTC)
	r := NewReader(WithCompleter(c), WithClock(func() time.Time { return now }))
	text := r.Reading(context.Background(), testState())

	if c.calls != 1 {
		t.Errorf("expected one completion call, got %d", c.calls)
	}
	if !strings.Contains(text, advice[models.CategoryRelationships]) {
		t.Errorf("static advice missing:\n%s", text)
	}
	if !strings.Contains(text, "🌕") {
		t.Errorf("moon line missing:\n%s", text)
	}
}

func TestReadingFallsBackOnTimeout(t *testing.T) {
	c := &stubCompleter{text: "late", wait: time.Second}
	r := NewReader(WithCompleter(c), WithTimeout(20*time.Millisecond))
	start := time.Now()
	text := r.Reading(context.Background(), testState())
	if time.Since(start) > 500*time.Millisecond {
		t.Error("completion timeout not applied")
	}
	if strings.Contains(text, "late") {
		t.Error("timed-out completion used")
	}
}

func TestReadingWithoutCompleter(t *testing.T) {
	s := testState()
	s.ProblemCategory = models.Category("unknown")
	text := NewReader().Reading(context.Background(), s)
	if !strings.Contains(text, advice[models.CategoryGeneral]) {
		t.Errorf("expected general advice:\n%s", text)
	}
}

func TestDrawCardFormat(t *testing.T) {
	card := NewDeck(nil).DrawCard()
	if !strings.Contains(card, "\n") {
		t.Errorf("expected name and meaning, got %q", card)
	}
}
