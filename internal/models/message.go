package models

import (
	"fmt"
	"strings"
)

// InboundMessage is a single delivery from the messaging platform.
type InboundMessage struct {
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	DisplayName string `json:"display_name"`
	DeliveryID  string `json:"delivery_id"`
}

// Validate checks the fields required to advance a conversation.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.ChatID) == "" {
		return fmt.Errorf("inbound message missing chat id")
	}
	if m.DeliveryID == "" {
		return fmt.Errorf("inbound message missing delivery id")
	}
	return nil
}

// Fingerprint is the dedup key. Delivery ids are only unique per chat on
// some platforms, so the chat id is part of the key.
func (m InboundMessage) Fingerprint() string {
	return m.ChatID + ":" + m.DeliveryID
}
