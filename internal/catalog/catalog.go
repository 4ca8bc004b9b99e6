// Package catalog holds the response templates grouped by category and the
// keyword lists used by the classifier. Templates are Liquid strings rendered
// with the user's display name.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/osteele/liquid"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/TarotPipe/internal/classifier"
	"github.com/BTreeMap/TarotPipe/internal/models"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// DefaultDisplayName is used when the platform gives no name for the user.
const DefaultDisplayName = "друг"

// Template categories referenced by the conversation flow.
const (
	Greeting        = "greeting"
	TellMore        = "tell_more"
	Empathy         = "empathy"
	Offer           = "offer"
	OfferFollowup   = "offer_followup"
	Comfort         = "comfort"
	Encouragement   = "encouragement"
	DoubtPrompt     = "doubt_prompt"
	Value           = "value"
	ValuePrice      = "value_price"
	Readiness       = "readiness"
	ReadinessRepeat = "readiness_repeat"
	Patience        = "patience"
	LinkPreface     = "link_preface"
	Gratitude       = "gratitude"
	WorkingIntro    = "working_intro"
	Reminder        = "reminder"
	WorkingStatus   = "working_status"
	ReadingPreface  = "reading_preface"
	Help            = "help"
	CardOfDay       = "card_of_day"
)

// TopicQuestion returns the follow-up question category for a topic.
func TopicQuestion(c models.Category) string {
	return "topic_" + string(c)
}

// document is the YAML layout of a catalog file.
type document struct {
	Templates map[string][]string `yaml:"templates"`
	Keywords  classifier.Keywords `yaml:"keywords"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	templates map[string][]*liquid.Template
	sources   map[string][]string
	keywords  classifier.Keywords
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Load reads a YAML catalog from path and layers it over the default one.
// Categories present in the file replace the default category wholesale;
// keyword lists present in the file replace the default lists.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	var base, override document
	if err := yaml.Unmarshal(defaultCatalogYAML, &base); err != nil {
		return nil, fmt.Errorf("failed to parse default catalog: %w", err)
	}
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	for name, entries := range override.Templates {
		base.Templates[name] = entries
	}
	base.Keywords = mergeKeywords(base.Keywords, override.Keywords)
	slog.Info("Catalog.Load: loaded catalog override", "path", path, "categories", len(override.Templates))
	return compile(base)
}

// Parse builds a catalog from a YAML document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return compile(doc)
}

func compile(doc document) (*Catalog, error) {
	engine := liquid.NewEngine()
	c := &Catalog{
		templates: make(map[string][]*liquid.Template, len(doc.Templates)),
		sources:   make(map[string][]string, len(doc.Templates)),
		keywords:  doc.Keywords,
	}
	for name, entries := range doc.Templates {
		for i, src := range entries {
			tpl, err := engine.ParseString(src)
			if err != nil {
				return nil, fmt.Errorf("template %s[%d]: %w", name, i, err)
			}
			c.templates[name] = append(c.templates[name], tpl)
			c.sources[name] = append(c.sources[name], src)
		}
	}
	return c, nil
}

// Keywords returns the classifier keyword lists carried by the catalog.
func (c *Catalog) Keywords() classifier.Keywords {
	return c.keywords
}

// Has reports whether the catalog defines at least one template for category.
func (c *Catalog) Has(category string) bool {
	return len(c.templates[category]) > 0
}

// Candidates renders every template of category for the given display name.
// A template that fails to render contributes its raw source instead.
func (c *Catalog) Candidates(category, displayName string) []string {
	tpls := c.templates[category]
	if len(tpls) == 0 {
		slog.Warn("Catalog.Candidates: unknown category", "category", category)
		return nil
	}
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	bindings := map[string]any{"name": displayName}
	out := make([]string, 0, len(tpls))
	for i, tpl := range tpls {
		text, err := tpl.RenderString(bindings)
		if err != nil {
			slog.Warn("Catalog.Candidates: render failed, using raw template", "category", category, "index", i, "error", err)
			text = c.sources[category][i]
		}
		out = append(out, text)
	}
	return out
}

func mergeKeywords(base, over classifier.Keywords) classifier.Keywords {
	pick := func(a, b []string) []string {
		if len(b) > 0 {
			return b
		}
		return a
	}
	out := classifier.Keywords{
		Problem:       pick(base.Problem, over.Problem),
		Agreement:     pick(base.Agreement, over.Agreement),
		Hesitation:    pick(base.Hesitation, over.Hesitation),
		Negation:      pick(base.Negation, over.Negation),
		PaymentIntent: pick(base.PaymentIntent, over.PaymentIntent),
		PaymentDone:   pick(base.PaymentDone, over.PaymentDone),
		PriceInquiry:  pick(base.PriceInquiry, over.PriceInquiry),
		Topics:        make(map[models.Category][]string),
	}
	for cat, words := range base.Topics {
		out.Topics[cat] = words
	}
	for cat, words := range over.Topics {
		out.Topics[cat] = words
	}
	return out
}
