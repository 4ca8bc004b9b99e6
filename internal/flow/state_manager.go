package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/store"
)

// StoreBasedStateManager implements StateManager using a ConversationStore backend.
type StoreBasedStateManager struct {
	store store.ConversationStore
	now   func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a ConversationStore.
func NewStoreBasedStateManager(st store.ConversationStore) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st, now: time.Now}
}

// Load retrieves the conversation for chatID or creates it lazily.
func (sm *StoreBasedStateManager) Load(ctx context.Context, chatID, displayName string) (*models.ConversationState, bool, error) {
	state, err := sm.store.Get(ctx, chatID)
	if err == nil {
		if state.UserDisplayName == "" && displayName != "" {
			state.UserDisplayName = displayName
		}
		slog.Debug("StateManager Load found", "chat_id", chatID, "stage", state.Stage)
		return state, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Error("StateManager Load error", "error", err, "chat_id", chatID)
		return nil, false, fmt.Errorf("load conversation %s: %w", chatID, err)
	}
	slog.Debug("StateManager Load created new conversation", "chat_id", chatID)
	return models.NewConversationState(chatID, displayName, sm.now()), true, nil
}

// Save stamps UpdatedAt and writes the conversation.
func (sm *StoreBasedStateManager) Save(ctx context.Context, state *models.ConversationState) error {
	state.UpdatedAt = sm.now()
	if err := sm.store.Put(ctx, state); err != nil {
		slog.Error("StateManager Save error", "error", err, "chat_id", state.ChatID, "stage", state.Stage)
		return fmt.Errorf("save conversation %s: %w", state.ChatID, err)
	}
	slog.Debug("StateManager Save succeeded", "chat_id", state.ChatID, "stage", state.Stage)
	return nil
}

// Reset deletes the stored conversation, history included, and returns a
// fresh record. The fresh record is not saved; the caller saves it after
// processing the current turn.
func (sm *StoreBasedStateManager) Reset(ctx context.Context, chatID, displayName string) (*models.ConversationState, error) {
	if err := sm.store.Delete(ctx, chatID); err != nil {
		slog.Error("StateManager Reset error", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("reset conversation %s: %w", chatID, err)
	}
	slog.Info("StateManager Reset succeeded", "chat_id", chatID)
	return models.NewConversationState(chatID, displayName, sm.now()), nil
}
