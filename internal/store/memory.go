package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// Compile-time check that InMemoryStore implements ConversationStore.
var _ ConversationStore = (*InMemoryStore)(nil)

// InMemoryStore keeps conversations in a map. Values are cloned on the way in
// and out so callers never share a record with the store.
type InMemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*models.ConversationState
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: make(map[string]*models.ConversationState)}
}

func (s *InMemoryStore) Get(_ context.Context, chatID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, state *models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[state.ChatID] = state.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, chatID)
	slog.Debug("InMemoryStore.Delete: conversation removed", "chat_id", chatID)
	return nil
}

// List returns conversations ordered by chat id.
func (s *InMemoryStore) List(_ context.Context) ([]*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ConversationState, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
