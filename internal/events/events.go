// Package events publishes funnel events (stage transitions, payment links,
// payment confirmations, delivered readings) for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to every event type to form the NATS subject.
const SubjectPrefix = "tarotpipe.funnel."

// Event types.
const (
	TypeStageChanged     = "stage_changed"
	TypePaymentLinkSent  = "payment_link_sent"
	TypePaymentConfirmed = "payment_confirmed"
	TypeReadingDelivered = "reading_delivered"
	TypeRestarted        = "restarted"
)

// Event is a single funnel event.
type Event struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the NATS subject for e.
func (e Event) Subject() string { return SubjectPrefix + e.Type }

// Publisher emits funnel events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// conn is the subset of *nats.Conn used by NatsPublisher.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NatsPublisher publishes JSON-encoded events to NATS.
type NatsPublisher struct {
	conn conn
}

// NewNatsPublisher connects to url, retrying in the background if the server
// is not reachable yet.
func NewNatsPublisher(url, token string) (*NatsPublisher, error) {
	opts := []nats.Option{
		nats.Name("TarotPipe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NatsPublisher: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NatsPublisher: reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsPublisher{conn: nc}, nil
}

// Publish implements Publisher.
func (p *NatsPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(e.Subject(), payload); err != nil {
		return fmt.Errorf("publish %s: %w", e.Subject(), err)
	}
	return nil
}

// Close drops the connection.
func (p *NatsPublisher) Close() {
	p.conn.Close()
}

// Recorder keeps published events in memory. Used in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*NatsPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
)
