package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// PendingReadings recovers paid conversations whose reading was scheduled
// in a process that no longer exists.
type PendingReadings struct{}

var _ Recoverable = PendingReadings{}

// NeedsReading reports whether state is paid and still owed its reading.
func NeedsReading(state *models.ConversationState) bool {
	return state != nil && state.Stage == models.StageWorking && !state.ReadingDelivered
}

// RecoverState rearms fulfillment for every conversation that needs a reading.
func (PendingReadings) RecoverState(ctx context.Context, registry *Registry) error {
	states, err := registry.Store().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	resumed, failed := 0, 0
	for _, state := range states {
		if !NeedsReading(state) {
			continue
		}
		if err := registry.RecoverFulfillment(state); err != nil {
			slog.Warn("PendingReadings.RecoverState: resume failed", "chat_id", state.ChatID, "error", err)
			failed++
			continue
		}
		resumed++
	}
	slog.Info("PendingReadings.RecoverState: done", "scanned", len(states), "resumed", resumed, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d readings could not be rescheduled", failed)
	}
	return nil
}
