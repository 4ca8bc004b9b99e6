package messaging

import (
	"context"
	"sync"

	"github.com/BTreeMap/TarotPipe/internal/scheduler"
)

// SentMessage is one message captured by RecordingNotifier.
type SentMessage struct {
	ChatID string
	Body   string
}

// RecordingNotifier implements scheduler.Notifier in memory. It is used by
// tests and by the -dry-run mode of the binary.
type RecordingNotifier struct {
	mu      sync.Mutex
	sent    []SentMessage
	typing  map[string]int
	SendErr error
}

// NewRecordingNotifier creates an empty RecordingNotifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{typing: make(map[string]int)}
}

// SendText records the message, or returns SendErr when set.
func (n *RecordingNotifier) SendText(_ context.Context, chatID, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.SendErr != nil {
		return n.SendErr
	}
	n.sent = append(n.sent, SentMessage{ChatID: chatID, Body: body})
	return nil
}

// SendTypingIndicator counts typing signals per chat.
func (n *RecordingNotifier) SendTypingIndicator(_ context.Context, chatID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.typing[chatID]++
	return nil
}

// Sent returns the recorded messages in delivery order.
func (n *RecordingNotifier) Sent() []SentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentMessage(nil), n.sent...)
}

// SentTo returns the bodies delivered to chatID.
func (n *RecordingNotifier) SentTo(chatID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.ChatID == chatID {
			out = append(out, m.Body)
		}
	}
	return out
}

// Typing returns the number of typing signals sent to chatID.
func (n *RecordingNotifier) Typing(chatID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing[chatID]
}

var _ scheduler.Notifier = (*RecordingNotifier)(nil)
