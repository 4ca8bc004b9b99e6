package telegram

import (
	"context"
	"sync"
)

// MockClient implements Sender in memory for tests.
type MockClient struct {
	mu         sync.Mutex
	Sent       []string
	Typing     int
	WebhookURL string
	Bot        User
	Err        error
}

// NewMockClient creates a MockClient with a placeholder bot account.
func NewMockClient() *MockClient {
	return &MockClient{Bot: User{ID: 1, IsBot: true, Username: "tarot_test_bot", FirstName: "Tarot"}}
}

func (m *MockClient) SendText(_ context.Context, chatID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, chatID+": "+body)
	return nil
}

func (m *MockClient) SendTypingIndicator(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing++
	return m.Err
}

func (m *MockClient) SetWebhook(_ context.Context, url, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.WebhookURL = url
	return nil
}

func (m *MockClient) GetMe(context.Context) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u := m.Bot
	return &u, nil
}

var _ Sender = (*MockClient)(nil)
