// Package history implements novelty selection: picking a response while
// avoiding the ones a conversation has seen recently in the same category.
package history

import (
	"math/rand/v2"
	"slices"
	"sync"
)

// DefaultWindow is the number of recent responses remembered per category.
const DefaultWindow = 6

// Opts configures a Selector.
type Opts struct {
	Window int
	Rand   *rand.Rand
}

// Option mutates Opts.
type Option func(*Opts)

// WithWindow sets the per-category history length. Values below 1 are ignored.
func WithWindow(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.Window = n
		}
	}
}

// WithRand sets the random source, mainly for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(o *Opts) { o.Rand = r }
}

// Selector picks novel candidates. It holds no per-conversation state; the
// history map lives on the conversation record.
type Selector struct {
	window int
	mu     sync.Mutex // guards rng, *rand.Rand is not safe for concurrent use
	rng    *rand.Rand
}

// NewSelector builds a Selector.
func NewSelector(opts ...Option) *Selector {
	o := Opts{Window: DefaultWindow}
	for _, opt := range opts {
		opt(&o)
	}
	return &Selector{window: o.Window, rng: o.Rand}
}

// Window returns the configured history length.
func (s *Selector) Window() int { return s.window }

// Pick chooses one of candidates, preferring any not in recent, and returns
// the choice with the updated history. Repetition happens only when every
// candidate is recent; even then the previous choice is skipped when another
// candidate exists. An empty candidate list yields "" and recent unchanged.
func (s *Selector) Pick(candidates []string, recent []string) (string, []string) {
	if len(candidates) == 0 {
		return "", recent
	}
	fresh := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !slices.Contains(recent, c) {
			fresh = append(fresh, c)
		}
	}
	pool := fresh
	if len(pool) == 0 {
		pool = exceptLast(candidates, recent)
	}
	choice := pool[s.intN(len(pool))]
	return choice, s.push(recent, choice)
}

// PickFor runs Pick against the category's slot in hist, storing the updated
// window back into hist. hist must be non-nil.
func (s *Selector) PickFor(hist map[string][]string, category string, candidates []string) string {
	choice, updated := s.Pick(candidates, hist[category])
	if choice != "" {
		hist[category] = updated
	}
	return choice
}

// exceptLast drops the most recent choice from candidates unless it is the
// only one.
func exceptLast(candidates, recent []string) []string {
	if len(recent) == 0 || len(candidates) < 2 {
		return candidates
	}
	last := recent[len(recent)-1]
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c != last {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

func (s *Selector) push(recent []string, choice string) []string {
	out := append(slices.Clone(recent), choice)
	if len(out) > s.window {
		out = out[len(out)-s.window:]
	}
	return out
}

func (s *Selector) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}
