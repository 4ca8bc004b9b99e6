package history

import (
	"math/rand/v2"
	"testing"
)

func TestPickAvoidsRecentUntilExhausted(t *testing.T) {
	s := NewSelector(WithRand(rand.New(rand.NewPCG(1, 2))))
	candidates := []string{"a", "b", "c", "d"}

	var recent []string
	seen := make(map[string]bool)
	for i := 0; i < len(candidates); i++ {
		var choice string
		choice, recent = s.Pick(candidates, recent)
		if seen[choice] {
			t.Fatalf("selection %d repeated %q before all candidates were used", i, choice)
		}
		seen[choice] = true
	}

	// k+1-th pick must repeat something
	choice, _ := s.Pick(candidates, recent)
	if !seen[choice] {
		t.Errorf("unexpected candidate %q", choice)
	}
}

func TestPickNeverRepeatsConsecutively(t *testing.T) {
	s := NewSelector(WithWindow(2), WithRand(rand.New(rand.NewPCG(7, 7))))
	candidates := []string{"x", "y", "z"}

	var recent []string
	prev := ""
	for i := 0; i < 200; i++ {
		var choice string
		choice, recent = s.Pick(candidates, recent)
		if choice == prev {
			t.Fatalf("consecutive repeat %q at iteration %d", choice, i)
		}
		prev = choice
	}
}

func TestWindowIsBounded(t *testing.T) {
	s := NewSelector(WithWindow(3))
	var recent []string
	for i := 0; i < 10; i++ {
		_, recent = s.Pick([]string{"a", "b", "c", "d", "e"}, recent)
	}
	if len(recent) != 3 {
		t.Errorf("expected history length 3, got %d", len(recent))
	}
}

func TestPickSingleCandidate(t *testing.T) {
	s := NewSelector()
	recent := []string{"only"}
	choice, updated := s.Pick([]string{"only"}, recent)
	if choice != "only" {
		t.Errorf("expected the only candidate, got %q", choice)
	}
	if len(updated) != 2 {
		t.Errorf("expected history to grow, got %v", updated)
	}
	if len(recent) != 1 {
		t.Error("Pick must not modify the caller's slice")
	}
}

func TestPickEmpty(t *testing.T) {
	s := NewSelector()
	choice, updated := s.Pick(nil, []string{"a"})
	if choice != "" || len(updated) != 1 {
		t.Errorf("unexpected result for empty candidates: %q %v", choice, updated)
	}
}

func TestPickForStoresHistory(t *testing.T) {
	s := NewSelector()
	hist := make(map[string][]string)
	first := s.PickFor(hist, "greeting", []string{"a", "b"})
	second := s.PickFor(hist, "greeting", []string{"a", "b"})
	if first == second {
		t.Errorf("expected distinct picks, got %q twice", first)
	}
	if len(hist["greeting"]) != 2 {
		t.Errorf("expected 2 history entries, got %v", hist["greeting"])
	}
	if s.Window() != DefaultWindow {
		t.Errorf("expected default window %d, got %d", DefaultWindow, s.Window())
	}
}

func TestPickFallbackSkipsPreviousChoice(t *testing.T) {
	s := NewSelector(WithRand(rand.New(rand.NewPCG(3, 4))))
	candidates := []string{"a", "b"}
	recent := []string{"a", "b"}
	for i := 0; i < 50; i++ {
		var choice string
		prev := recent[len(recent)-1]
		choice, recent = s.Pick(candidates, recent)
		if choice == prev {
			t.Fatalf("fallback repeated the previous choice %q", prev)
		}
	}
}
