// Package models defines the conversation record, inbound message and API
// response types shared across TarotPipe.
package models

import (
	"encoding/json"
	"time"
)

// Category is the topical tag derived from a user's problem statement.
type Category string

// Topic categories in classification priority order.
const (
	CategoryRelationships Category = "relationships"
	CategoryWork          Category = "work"
	CategoryMoney         Category = "money"
	CategoryHealth        Category = "health"
	CategoryDecision      Category = "decision"
	CategoryGeneral       Category = "general"
)

// CategoryPriority is the order used to break ties when text matches several topics.
var CategoryPriority = []Category{
	CategoryRelationships,
	CategoryWork,
	CategoryMoney,
	CategoryHealth,
	CategoryDecision,
	CategoryGeneral,
}

// ConversationState is the per-chat funnel record.
type ConversationState struct {
	ChatID            string              `json:"chat_id"`
	Stage             Stage               `json:"stage"`
	UserDisplayName   string              `json:"user_display_name"`
	ProblemText       string              `json:"problem_text,omitempty"`
	ProblemCategory   Category            `json:"problem_category,omitempty"`
	TrustLevel        int                 `json:"trust_level"`
	MessageCount      int                 `json:"message_count"`
	PaymentOffered    bool                `json:"payment_offered"`
	PaymentLinkSent   bool                `json:"payment_link_sent"`
	WaitingForPayment bool                `json:"waiting_for_payment"`
	PaymentURL        string              `json:"payment_url,omitempty"`
	ReadingDelivered  bool                `json:"reading_delivered"`
	LastInteractionAt time.Time           `json:"last_interaction_at"`
	FastMode          bool                `json:"fast_mode"`
	RecentResponses   map[string][]string `json:"recent_responses,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// NewConversationState returns a fresh record at the greeting stage.
func NewConversationState(chatID, displayName string, now time.Time) *ConversationState {
	return &ConversationState{
		ChatID:          chatID,
		Stage:           StageGreeting,
		UserDisplayName: displayName,
		RecentResponses: make(map[string][]string),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy so callers can mutate without racing stored values.
func (c *ConversationState) Clone() *ConversationState {
	if c == nil {
		return nil
	}
	out := *c
	out.RecentResponses = make(map[string][]string, len(c.RecentResponses))
	for k, v := range c.RecentResponses {
		out.RecentResponses[k] = append([]string(nil), v...)
	}
	return &out
}

// MarshalState encodes a conversation as the JSON document used by the
// persistent stores.
func MarshalState(c *ConversationState) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalState decodes a stored conversation. An unknown stage is mapped to
// listening rather than rejected.
func UnmarshalState(data []byte) (*ConversationState, error) {
	var c ConversationState
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if !c.Stage.Valid() {
		if parsed, ok := ParseStage(string(c.Stage)); ok {
			c.Stage = parsed
		} else {
			c.Stage = StageListening
		}
	}
	if c.RecentResponses == nil {
		c.RecentResponses = make(map[string][]string)
	}
	return &c, nil
}
