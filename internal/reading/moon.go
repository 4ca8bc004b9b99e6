package reading

import "time"

// MoonPhase approximates the lunar phase from the day of month.
func MoonPhase(t time.Time) (emoji, name string) {
	switch day := t.Day(); {
	case day <= 7:
		return "🌑", "Новолуние"
	case day <= 14:
		return "🌓", "Растущая луна"
	case day <= 21:
		return "🌕", "Полнолуние"
	default:
		return "🌗", "Убывающая луна"
	}
}

// MoonLine is the closing line of a reading.
func MoonLine(t time.Time) string {
	emoji, name := MoonPhase(t)
	return emoji + " Сейчас " + name + ", хорошее время прислушаться к себе."
}
