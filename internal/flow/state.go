// Package flow implements the conversation funnel: per-chat state loading
// under a per-chat lock, stage handlers and delayed-action timers.
package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// StateManager loads and saves conversation records.
type StateManager interface {
	// Load returns the record for chatID, creating a fresh one when absent.
	// created reports whether the record is new.
	Load(ctx context.Context, chatID, displayName string) (state *models.ConversationState, created bool, err error)

	// Save stores the record.
	Save(ctx context.Context, state *models.ConversationState) error

	// Reset discards the record and returns a fresh greeting-stage one.
	Reset(ctx context.Context, chatID, displayName string) (*models.ConversationState, error)
}

// Timer defines the interface for scheduling delayed actions.
type Timer interface {
	// ScheduleAfter schedules a function to run after a delay and returns its id.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled function.
	Cancel(id string) error
}

// PaymentLinker produces the payment URL sent at the sending_link stage.
type PaymentLinker interface {
	Link(ctx context.Context, chatID string) (string, error)
}

// CardDrawer draws a single formatted card for the /tarot command.
type CardDrawer interface {
	DrawCard() string
}
