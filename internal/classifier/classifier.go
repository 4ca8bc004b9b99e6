// Package classifier inspects raw message text with case-insensitive keyword
// tests. There is no language understanding here: every decision is a keyword
// membership check, with topic ties broken by a fixed priority.
package classifier

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

const (
	// DefaultMinProblemLength is the rune count a message must exceed to be
	// treated as a problem statement.
	DefaultMinProblemLength = 12
	// DefaultCommandPrefix marks bot commands, which are never problem statements.
	DefaultCommandPrefix = "/"
	// ShortWordRunes is the longest single-word intent keyword matched only as
	// a whole word, so "да" does not fire inside "когда".
	ShortWordRunes = 3
)

// Keywords holds the locale-specific word lists. Problem and topic entries are
// lower-cased substrings (stems). Intent entries are substrings too, except
// single words of at most ShortWordRunes runes, which must match a whole word.
type Keywords struct {
	Problem       []string                     `yaml:"problem"`
	Agreement     []string                     `yaml:"agreement"`
	Hesitation    []string                     `yaml:"hesitation"`
	Negation      []string                     `yaml:"negation"`
	PaymentIntent []string                     `yaml:"payment_intent"`
	PaymentDone   []string                     `yaml:"payment_done"`
	PriceInquiry  []string                     `yaml:"price_inquiry"`
	Topics        map[models.Category][]string `yaml:"topics"`
}

// Opts configures a Classifier.
type Opts struct {
	Keywords         Keywords
	MinProblemLength int
	CommandPrefix    string
}

// Option mutates Opts.
type Option func(*Opts)

// WithKeywords replaces the keyword lists.
func WithKeywords(k Keywords) Option {
	return func(o *Opts) { o.Keywords = k }
}

// WithMinProblemLength sets the problem statement length threshold.
func WithMinProblemLength(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.MinProblemLength = n
		}
	}
}

// WithCommandPrefix sets the prefix that marks bot commands.
func WithCommandPrefix(p string) Option {
	return func(o *Opts) { o.CommandPrefix = p }
}

// Classifier is safe for concurrent use; it is immutable after New.
type Classifier struct {
	kw        Keywords
	minLength int
	cmdPrefix string
}

// New builds a Classifier. Without WithKeywords every intent check is false and
// every topic is general.
func New(opts ...Option) *Classifier {
	o := Opts{MinProblemLength: DefaultMinProblemLength, CommandPrefix: DefaultCommandPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return &Classifier{
		kw:        normalize(o.Keywords),
		minLength: o.MinProblemLength,
		cmdPrefix: o.CommandPrefix,
	}
}

// MinProblemLength returns the configured threshold.
func (c *Classifier) MinProblemLength() int { return c.minLength }

// IsCommand reports whether text starts with the command prefix.
func (c *Classifier) IsCommand(text string) bool {
	return c.cmdPrefix != "" && strings.HasPrefix(strings.TrimSpace(text), c.cmdPrefix)
}

// LongerThanThreshold reports whether text exceeds the problem length threshold.
func (c *Classifier) LongerThanThreshold(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) > c.minLength
}

// LooksLikeProblemStatement reports whether text is long enough, is not a
// command, and either contains a problem keyword or asks a question.
func (c *Classifier) LooksLikeProblemStatement(text string) bool {
	if !c.LongerThanThreshold(text) || c.IsCommand(text) {
		return false
	}
	lower := strings.ToLower(text)
	return containsAny(lower, c.kw.Problem) || strings.Contains(lower, "?")
}

// ClassifyTopic returns the first category in models.CategoryPriority whose
// keywords occur in text, or general.
func (c *Classifier) ClassifyTopic(text string) models.Category {
	lower := strings.ToLower(text)
	for _, cat := range models.CategoryPriority {
		if containsAny(lower, c.kw.Topics[cat]) {
			return cat
		}
	}
	return models.CategoryGeneral
}

// ContainsAgreementIntent reports whether text agrees or signals readiness.
// A negated message never agrees: "нет, не хочу" contains "хочу".
func (c *Classifier) ContainsAgreementIntent(text string) bool {
	lower := strings.ToLower(text)
	words := tokenize(lower)
	return !matchIntent(lower, words, c.kw.Negation) && matchIntent(lower, words, c.kw.Agreement)
}

// ContainsNegation reports whether text refuses or negates.
func (c *Classifier) ContainsNegation(text string) bool {
	return c.intent(text, c.kw.Negation)
}

// ContainsHesitation reports whether text expresses doubt.
func (c *Classifier) ContainsHesitation(text string) bool {
	return c.intent(text, c.kw.Hesitation)
}

// ContainsPaymentIntent reports whether text asks how to pay.
func (c *Classifier) ContainsPaymentIntent(text string) bool {
	return c.intent(text, c.kw.PaymentIntent)
}

// ContainsPaymentDoneIntent reports whether text claims the payment was made.
func (c *Classifier) ContainsPaymentDoneIntent(text string) bool {
	return c.intent(text, c.kw.PaymentDone)
}

// ContainsPriceInquiryIntent reports whether text asks about the price.
func (c *Classifier) ContainsPriceInquiryIntent(text string) bool {
	return c.intent(text, c.kw.PriceInquiry)
}

func (c *Classifier) intent(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	return matchIntent(lower, tokenize(lower), keywords)
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// matchIntent is containsAny with whole-word matching for short single words.
func matchIntent(lower string, words map[string]struct{}, keywords []string) bool {
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if isShortWord(k) {
			if _, ok := words[k]; ok {
				return true
			}
			continue
		}
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func isShortWord(k string) bool {
	return utf8.RuneCountInString(k) <= ShortWordRunes && !strings.ContainsFunc(k, isSeparator)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func tokenize(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, isSeparator)
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, w := range in {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func normalize(k Keywords) Keywords {
	out := Keywords{
		Problem:       lowerAll(k.Problem),
		Agreement:     lowerAll(k.Agreement),
		Hesitation:    lowerAll(k.Hesitation),
		Negation:      lowerAll(k.Negation),
		PaymentIntent: lowerAll(k.PaymentIntent),
		PaymentDone:   lowerAll(k.PaymentDone),
		PriceInquiry:  lowerAll(k.PriceInquiry),
		Topics:        make(map[models.Category][]string, len(k.Topics)),
	}
	for cat, words := range k.Topics {
		out.Topics[cat] = lowerAll(words)
	}
	return out
}
