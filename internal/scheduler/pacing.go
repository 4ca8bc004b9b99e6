package scheduler

import (
	"math/rand/v2"
	"time"
	"unicode/utf8"
)

// StepKind is one action in a delivery plan.
type StepKind int

const (
	// StepTyping shows the typing indicator.
	StepTyping StepKind = iota
	// StepSleep waits for Duration.
	StepSleep
	// StepSend delivers Body.
	StepSend
)

func (k StepKind) String() string {
	switch k {
	case StepTyping:
		return "typing"
	case StepSleep:
		return "sleep"
	case StepSend:
		return "send"
	default:
		return "unknown"
	}
}

// Step is a single planned action.
type Step struct {
	Kind     StepKind
	Duration time.Duration
	Body     string
}

// Policy holds the tunable pacing numbers. Only two properties are contractual:
// longer texts never get shorter typing delays than shorter ones (before
// jitter), and fast mode shortens every delay.
type Policy struct {
	BaseDelay  time.Duration
	PerRune    time.Duration
	MinDelay   time.Duration
	MaxDelay   time.Duration
	StaggerMin time.Duration
	StaggerMax time.Duration
	FastFactor float64
	Jitter     float64
	Scale      float64
}

// DefaultPolicy returns production pacing.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  1500 * time.Millisecond,
		PerRune:    40 * time.Millisecond,
		MinDelay:   time.Second,
		MaxDelay:   8 * time.Second,
		StaggerMin: 3 * time.Second,
		StaggerMax: 12 * time.Second,
		FastFactor: 0.5,
		Jitter:     0.2,
		Scale:      1,
	}
}

// FastPolicy scales DefaultPolicy down for demos and local testing.
func FastPolicy() Policy {
	p := DefaultPolicy()
	p.Scale = 0.05
	return p
}

// TypingDelay returns the pause between the two typing signals for body,
// without jitter.
func (p Policy) TypingDelay(body string, fastMode bool) time.Duration {
	d := p.BaseDelay + time.Duration(utf8.RuneCountInString(body))*p.PerRune
	if d < p.MinDelay {
		d = p.MinDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return p.adjust(d, fastMode)
}

// Stagger returns a random pause inserted between messages of one batch.
func (p Policy) Stagger(fastMode bool, rnd *rand.Rand) time.Duration {
	span := p.StaggerMax - p.StaggerMin
	d := p.StaggerMin
	if span > 0 {
		d += time.Duration(randFloat(rnd) * float64(span))
	}
	return p.adjust(d, fastMode)
}

func (p Policy) adjust(d time.Duration, fastMode bool) time.Duration {
	if fastMode && p.FastFactor > 0 && p.FastFactor < 1 {
		d = time.Duration(float64(d) * p.FastFactor)
	}
	if p.Scale > 0 && p.Scale != 1 {
		d = time.Duration(float64(d) * p.Scale)
	}
	return d
}

func (p Policy) jitter(d time.Duration, rnd *rand.Rand) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	f := 1 + p.Jitter*(2*randFloat(rnd)-1)
	return time.Duration(float64(d) * f)
}

// Plan builds the ordered steps for a batch: every message gets a typing
// signal, a length-based pause and a second typing signal right before the
// send; messages after the first are preceded by a stagger pause.
func Plan(bodies []string, fastMode bool, p Policy, rnd *rand.Rand) []Step {
	steps := make([]Step, 0, len(bodies)*5)
	for i, body := range bodies {
		if i > 0 {
			steps = append(steps, Step{Kind: StepSleep, Duration: p.Stagger(fastMode, rnd)})
		}
		steps = append(steps,
			Step{Kind: StepTyping},
			Step{Kind: StepSleep, Duration: p.jitter(p.TypingDelay(body, fastMode), rnd)},
			Step{Kind: StepTyping},
			Step{Kind: StepSend, Body: body},
		)
	}
	return steps
}

func randFloat(rnd *rand.Rand) float64 {
	if rnd == nil {
		return rand.Float64()
	}
	return rnd.Float64()
}
