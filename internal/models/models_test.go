package models

import (
	"testing"
	"time"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		raw  string
		want Stage
		ok   bool
	}{
		{"greeting", StageGreeting, true},
		{"  Working ", StageWorking, true},
		{"problem_understood", StageEmpathy, true},
		{"wisdom", StageOfferingHelp, true},
		{"bogus", StageUnknown, false},
		{"", StageUnknown, false},
	}
	for _, tt := range tests {
		got, ok := ParseStage(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseStage(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageGreeting, StageListening, true},
		{StageListening, StageListening, true},
		{StageOfferingHelp, StageUnderstandingDoubt, true},
		{StageUnderstandingDoubt, StageOfferingHelp, true},
		{StageWorking, StageGreeting, true},
		{StageAwaitingPayment, StageSendingLink, true},
		{StageDiscussingValue, StageEmpathy, false},
		{StageWorking, StageAwaitingPayment, false},
		{StageUnknown, StageListening, false},
	}
	for _, tt := range tests {
		if got := IsValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUnmarshalStateFallsBackToListening(t *testing.T) {
	c, err := UnmarshalState([]byte(`{"chat_id":"42","stage":"corrupted"}`))
	if err != nil {
		t.Fatalf("UnmarshalState failed: %v", err)
	}
	if c.Stage != StageListening {
		t.Errorf("expected listening, got %s", c.Stage)
	}
	if c.RecentResponses == nil {
		t.Error("expected RecentResponses to be initialised")
	}
}

func TestConversationStateCloneIsDeep(t *testing.T) {
	c := NewConversationState("1", "Anna", time.Now())
	c.RecentResponses["greeting"] = []string{"hi"}

	cp := c.Clone()
	cp.RecentResponses["greeting"][0] = "changed"
	cp.Stage = StageWorking

	if c.RecentResponses["greeting"][0] != "hi" {
		t.Error("Clone shares history slices with the original")
	}
	if c.Stage != StageGreeting {
		t.Error("Clone shares fields with the original")
	}
}

func TestInboundMessageValidate(t *testing.T) {
	if err := (InboundMessage{ChatID: "1", DeliveryID: "7"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (InboundMessage{DeliveryID: "7"}).Validate(); err == nil {
		t.Error("expected error for missing chat id")
	}
	if err := (InboundMessage{ChatID: "1"}).Validate(); err == nil {
		t.Error("expected error for missing delivery id")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if r := Error("boom"); r.Status != "error" || r.Message != "boom" {
		t.Errorf("unexpected error response: %+v", r)
	}
	if r := Success(map[string]int{"n": 1}); r.Status != "ok" || r.Result == nil {
		t.Errorf("unexpected success response: %+v", r)
	}
	if r := Duplicate(); r.Status != "duplicate" {
		t.Errorf("unexpected duplicate response: %+v", r)
	}
}
