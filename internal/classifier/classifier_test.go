package classifier

import (
	"testing"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

func testKeywords() Keywords {
	return Keywords{
		Problem:      []string{"не знаю", "помоги", "стресс"},
		Agreement:    []string{"да", "ок", "давай", "хочу", "готов", "согласен"},
		Hesitation:   []string{"сомнева", "не уверен"},
		Negation:     []string{"нет", "не"},
		PaymentDone:  []string{"оплатил"},
		PriceInquiry: []string{"сколько", "цена"},
		Topics: map[models.Category][]string{
			models.CategoryRelationships: {"отношен", "муж"},
			models.CategoryWork:          {"работ"},
			models.CategoryMoney:         {"деньг"},
			models.CategoryHealth:        {"здоров"},
			models.CategoryDecision:      {"выбор"},
		},
	}
}

func TestLooksLikeProblemStatement(t *testing.T) {
	c := New(WithKeywords(testKeywords()))
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"short greeting", "привет", false},
		{"keyword match", "я не знаю, что делать с работой, постоянный стресс", true},
		{"question mark", "что меня ждёт в этом году?", true},
		{"long but no keyword or question", "сегодня была хорошая погода на улице", false},
		{"command", "/start помоги мне пожалуйста", false},
		{"uppercase keyword", "ПОМОГИ МНЕ ПОЖАЛУЙСТА СРОЧНО", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.LooksLikeProblemStatement(tt.text); got != tt.want {
				t.Errorf("LooksLikeProblemStatement(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifyTopicPriority(t *testing.T) {
	c := New(WithKeywords(testKeywords()))
	tests := []struct {
		text string
		want models.Category
	}{
		{"я не знаю, что делать с работой, постоянный стресс", models.CategoryWork},
		// relationships outranks work when both match
		{"муж не даёт мне работать", models.CategoryRelationships},
		{"работа и деньги", models.CategoryWork},
		{"нет денег", models.CategoryMoney},
		{"переживаю за здоровье", models.CategoryHealth},
		{"сложный выбор", models.CategoryDecision},
		{"просто грустно", models.CategoryGeneral},
	}
	for _, tt := range tests {
		if got := c.ClassifyTopic(tt.text); got != tt.want {
			t.Errorf("ClassifyTopic(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestIntentChecks(t *testing.T) {
	c := New(WithKeywords(testKeywords()))

	if !c.ContainsAgreementIntent("Давай попробуем") {
		t.Error("expected agreement intent")
	}
	if c.ContainsAgreementIntent("нет") {
		t.Error("unexpected agreement intent")
	}
	if !c.ContainsPaymentDoneIntent("Я оплатила только что") {
		t.Error("expected payment done intent")
	}
	if !c.ContainsPriceInquiryIntent("сколько это стоит") {
		t.Error("expected price inquiry intent")
	}
	if !c.ContainsHesitation("я сомневаюсь") {
		t.Error("expected hesitation")
	}
	if c.ContainsPaymentIntent("ссылка") {
		t.Error("payment intent list is empty, expected false")
	}
}

func TestAgreementRejectsNegatedText(t *testing.T) {
	c := New(WithKeywords(testKeywords()))
	tests := []struct {
		text string
		want bool
	}{
		{"да", true},
		{"Ок!", true},
		{"хочу", true},
		{"да, готова", true},
		{"нет, не хочу", false},
		{"не знаю, когда смогу", false},
		{"нет, я пока не готова", false},
		// short keywords only match whole words
		{"когда-нибудь", false},
		{"только завтра", false},
	}
	for _, tt := range tests {
		if got := c.ContainsAgreementIntent(tt.text); got != tt.want {
			t.Errorf("ContainsAgreementIntent(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestContainsNegation(t *testing.T) {
	c := New(WithKeywords(testKeywords()))
	for _, text := range []string{"Нет", "нет, не хочу", "я не готова"} {
		if !c.ContainsNegation(text) {
			t.Errorf("ContainsNegation(%q) = false, want true", text)
		}
	}
	for _, text := range []string{"давай", "интернет пропал", "небо ясное"} {
		if c.ContainsNegation(text) {
			t.Errorf("ContainsNegation(%q) = true, want false", text)
		}
	}
}

func TestNoKeywordsDefaultsToGeneral(t *testing.T) {
	c := New()
	if got := c.ClassifyTopic("работа"); got != models.CategoryGeneral {
		t.Errorf("expected general, got %s", got)
	}
	if c.ContainsAgreementIntent("да") {
		t.Error("expected no agreement without keywords")
	}
}

func TestWithMinProblemLength(t *testing.T) {
	c := New(WithKeywords(testKeywords()), WithMinProblemLength(3))
	if !c.LooksLikeProblemStatement("помоги") {
		t.Error("expected short keyword message to qualify with threshold 3")
	}
	if c.MinProblemLength() != 3 {
		t.Errorf("expected threshold 3, got %d", c.MinProblemLength())
	}
}
