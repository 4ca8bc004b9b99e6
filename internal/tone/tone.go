// Package tone applies cosmetic, human-looking mutations to outbound text:
// lower-casing the first letter, dropping a trailing period and swapping a few
// words for their casual forms. It is a pure transformation kept apart from the
// conversation flow so it can be toggled and tested on its own.
package tone

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---- Substitutions ----

// casualForms maps formal words to the casual variants used in quick replies.
var casualForms = map[string]string{
	"сейчас":     "щас",
	"спасибо":    "спс",
	"пожалуйста": "пожалуйста)",
	"хорошо":     "хорошо)",
	"ничего":     "ничё",
}

// ---- Options ----

const (
	// DefaultLowercaseChance applies to the first-letter mutation in fast mode.
	DefaultLowercaseChance = 0.5
	// DefaultPeriodChance applies to trailing-period removal.
	DefaultPeriodChance = 0.7
	// DefaultSlangChance applies per substitutable word in fast mode.
	DefaultSlangChance = 0.3
)

// Roll returns a float in [0, 1). math/rand/v2's Float64 satisfies it.
type Roll func() float64

// Naturalizer holds the mutation probabilities.
type Naturalizer struct {
	Enabled         bool
	LowercaseChance float64
	PeriodChance    float64
	SlangChance     float64
}

// Default returns an enabled naturalizer with the default probabilities.
func Default() Naturalizer {
	return Naturalizer{
		Enabled:         true,
		LowercaseChance: DefaultLowercaseChance,
		PeriodChance:    DefaultPeriodChance,
		SlangChance:     DefaultSlangChance,
	}
}

// ---- Public API ----

// Apply returns text with cosmetic mutations. Trailing-period removal applies
// in any mode; casing and slang only in fast mode. Text containing a URL or a
// line break is returned unchanged.
func (n Naturalizer) Apply(text string, fastMode bool, roll Roll) string {
	if !n.Enabled || text == "" || roll == nil || !mutable(text) {
		return text
	}
	out := text
	if fastMode {
		out = n.substitute(out, roll)
		if roll() < n.LowercaseChance {
			out = lowerFirst(out)
		}
	}
	if strings.HasSuffix(out, ".") && !strings.HasSuffix(out, "..") && roll() < n.PeriodChance {
		out = strings.TrimSuffix(out, ".")
	}
	return out
}

func (n Naturalizer) substitute(text string, roll Roll) string {
	words := strings.Split(text, " ")
	for i, w := range words {
		core := strings.TrimRightFunc(w, unicode.IsPunct)
		suffix := w[len(core):]
		repl, ok := casualForms[strings.ToLower(core)]
		if !ok || core != strings.ToLower(core) {
			continue
		}
		if roll() < n.SlangChance {
			words[i] = repl + suffix
		}
	}
	return strings.Join(words, " ")
}

// mutable excludes links and multi-line blocks such as help texts and readings.
func mutable(text string) bool {
	return !strings.Contains(text, "http://") &&
		!strings.Contains(text, "https://") &&
		!strings.Contains(text, "\n")
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsUpper(r) {
		return s
	}
	// Keep all-caps words such as abbreviations.
	if next, _ := utf8.DecodeRuneInString(s[size:]); unicode.IsUpper(next) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
