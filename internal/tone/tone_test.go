package tone

import "testing"

func always(v float64) Roll { return func() float64 { return v } }

func TestApply_FastModeMutations(t *testing.T) {
	n := Default()
	got := n.Apply("Спасибо, сейчас посмотрю.", true, always(0))
	if got != "спасибо, щас посмотрю" {
		t.Errorf("unexpected fast-mode output: %q", got)
	}
}

func TestApply_NormalModeOnlyDropsPeriod(t *testing.T) {
	n := Default()
	got := n.Apply("Хорошо, сейчас посмотрю.", false, always(0))
	if got != "Хорошо, сейчас посмотрю" {
		t.Errorf("unexpected normal-mode output: %q", got)
	}
}

func TestApply_HighRollLeavesTextAlone(t *testing.T) {
	n := Default()
	in := "Спасибо, сейчас посмотрю."
	if got := n.Apply(in, true, always(0.99)); got != in {
		t.Errorf("expected unchanged text, got %q", got)
	}
}

func TestApply_KeepsURLsAndMultiline(t *testing.T) {
	n := Default()
	for _, in := range []string{
		"Оплата тут: https://pay.example.com/abc.",
		"Первая строка.\nВторая строка.",
	} {
		if got := n.Apply(in, true, always(0)); got != in {
			t.Errorf("expected %q unchanged, got %q", in, got)
		}
	}
}

func TestApply_Disabled(t *testing.T) {
	n := Naturalizer{}
	in := "Привет."
	if got := n.Apply(in, true, always(0)); got != in {
		t.Errorf("disabled naturalizer changed text: %q", got)
	}
}

func TestApply_KeepsEllipsisAndAbbreviations(t *testing.T) {
	n := Default()
	if got := n.Apply("Понимаю...", false, always(0)); got != "Понимаю..." {
		t.Errorf("ellipsis altered: %q", got)
	}
	if got := n.Apply("ОК, давай", true, always(0)); got != "ОК, давай" {
		t.Errorf("abbreviation altered: %q", got)
	}
}
