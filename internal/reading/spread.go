package reading

import (
	"strings"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// Spread names.
const (
	SpreadPastPresentFuture = "past_present_future"
	SpreadRelationship      = "relationship"
	SpreadCareer            = "career"
	SpreadYesNo             = "yes_no"
	SpreadCelticCross       = "celtic_cross"
)

// Spread is a named list of card positions.
type Spread struct {
	Name      string
	Title     string
	Positions []string
}

var spreads = map[string]Spread{
	SpreadPastPresentFuture: {SpreadPastPresentFuture, "Прошлое, настоящее, будущее", []string{"📜 Прошлое", "🌀 Настоящее", "✨ Будущее"}},
	SpreadRelationship: {SpreadRelationship, "Расклад на отношения", []string{
		"❤️ Твои чувства", "💙 Чувства партнера", "💞 Динамика", "🚧 Препятствия", "🌱 Потенциал",
	}},
	SpreadCareer: {SpreadCareer, "Расклад на работу и деньги", []string{
		"💼 Ситуация", "🧱 Препятствия", "🎯 Возможности", "💡 Рекомендации",
	}},
	SpreadYesNo: {SpreadYesNo, "Да или нет", []string{"⚡ Ответ"}},
	SpreadCelticCross: {SpreadCelticCross, "Кельтский крест", []string{
		"1️⃣ Сердце", "2️⃣ Препятствие", "3️⃣ Цели", "4️⃣ Бессознательное", "5️⃣ Прошлое",
		"6️⃣ Будущее", "7️⃣ Отношение", "8️⃣ Влияния", "9️⃣ Надежды", "🔟 Итог",
	}},
}

// LookupSpread returns the spread with the given name.
func LookupSpread(name string) (Spread, bool) {
	s, ok := spreads[name]
	return s, ok
}

// SpreadFor picks the spread for a problem category.
func SpreadFor(c models.Category) Spread {
	switch c {
	case models.CategoryRelationships:
		return spreads[SpreadRelationship]
	case models.CategoryWork, models.CategoryMoney:
		return spreads[SpreadCareer]
	case models.CategoryDecision:
		return spreads[SpreadYesNo]
	default:
		return spreads[SpreadPastPresentFuture]
	}
}

// Deal draws one card per position of s.
func (s Spread) Deal(d *Deck) []DrawnCard {
	cards := d.Draw(len(s.Positions))
	for i := range cards {
		cards[i].Position = s.Positions[i]
	}
	return cards
}

// Layout renders the drawn cards one block per position.
func Layout(s Spread, cards []DrawnCard) string {
	var b strings.Builder
	b.WriteString("🃏 ")
	b.WriteString(s.Title)
	b.WriteString("\n")
	for _, c := range cards {
		b.WriteString("\n")
		b.WriteString(c.Position)
		b.WriteString("\n")
		b.WriteString(formatCard(c))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
