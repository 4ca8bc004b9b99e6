// Package reading composes the paid tarot reading: it draws cards for a spread
// chosen from the conversation topic, asks the completion service for an
// interpretation and falls back to a static one.
package reading

import (
	"math/rand/v2"
	"sync"
)

// Card is one major arcana card.
type Card struct {
	Name    string
	Meaning string
}

// DrawnCard is a card placed in a spread position.
type DrawnCard struct {
	Card
	Position string
	Reversed bool
}

var majorArcana = []Card{
	{"🃏 Шут", "Начало нового пути, невинность, спонтанность"},
	{"🧙 Маг", "Сила воли, мастерство, ресурсы"},
	{"🔮 Верховная Жрица", "Интуиция, тайное знание, внутренний голос"},
	{"👑 Императрица", "Изобилие, природа, материнство"},
	{"🏛️ Император", "Структура, власть, контроль"},
	{"🙏 Иерофант", "Традиции, духовность, вера"},
	{"💑 Влюбленные", "Выбор, отношения, гармония"},
	{"⛵ Колесница", "Победа, контроль, движение"},
	{"💪 Сила", "Храбрость, сострадание, контроль"},
	{"🧘 Отшельник", "Самоанализ, уединение, мудрость"},
	{"🎡 Колесо Фортуны", "Судьба, циклы, удача"},
	{"⚖️ Правосудие", "Баланс, карма, справедливость"},
	{"🙎‍♂️ Повешенный", "Сдача, новая перспектива, жертва"},
	{"💀 Смерть", "Конец, трансформация, новое начало"},
	{"😇 Умеренность", "Баланс, терпение, гармония"},
	{"👿 Дьявол", "Искушение, зависимость, ограничения"},
	{"⚡ Башня", "Внезапные перемены, откровение, разрушение"},
	{"⭐ Звезда", "Надежда, вдохновение, духовность"},
	{"🌙 Луна", "Интуиция, подсознание, иллюзии"},
	{"☀️ Солнце", "Радость, успех, жизненная сила"},
	{"🔄 Суд", "Возрождение, призыв к действию"},
	{"🌍 Мир", "Завершение, целостность, достижение"},
}

// MajorArcana returns a copy of the 22 major arcana.
func MajorArcana() []Card {
	return append([]Card(nil), majorArcana...)
}

// DefaultReversedChance is the probability of a card coming out reversed.
const DefaultReversedChance = 0.3

// Deck draws cards without replacement within one draw. It is safe for
// concurrent use.
type Deck struct {
	mu       sync.Mutex
	cards    []Card
	rnd      *rand.Rand
	reversed float64
}

// NewDeck creates a major arcana deck. A nil rnd uses the global source.
func NewDeck(rnd *rand.Rand) *Deck {
	return &Deck{cards: MajorArcana(), rnd: rnd, reversed: DefaultReversedChance}
}

// Size returns the number of cards in the deck.
func (d *Deck) Size() int { return len(d.cards) }

// Draw returns n distinct cards, at most the deck size.
func (d *Deck) Draw(n int) []DrawnCard {
	if n <= 0 {
		return nil
	}
	if n > len(d.cards) {
		n = len(d.cards)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	order := d.perm(len(d.cards))
	out := make([]DrawnCard, n)
	for i := 0; i < n; i++ {
		out[i] = DrawnCard{Card: d.cards[order[i]], Reversed: d.float() < d.reversed}
	}
	return out
}

// DrawCard draws a single upright-or-reversed card formatted for chat.
func (d *Deck) DrawCard() string {
	c := d.Draw(1)[0]
	return formatCard(c)
}

func (d *Deck) perm(n int) []int {
	if d.rnd == nil {
		return rand.Perm(n)
	}
	return d.rnd.Perm(n)
}

func (d *Deck) float() float64 {
	if d.rnd == nil {
		return rand.Float64()
	}
	return d.rnd.Float64()
}

func formatCard(c DrawnCard) string {
	s := c.Name
	if c.Reversed {
		s += " (перевернута)"
	}
	return s + "\n" + c.Meaning
}
