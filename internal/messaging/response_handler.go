// Package messaging connects inbound webhook messages to the conversation
// funnel: it gates redeliveries, advances the machine, hands the replies to
// the delivery scheduler and publishes funnel events.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/events"
	"github.com/BTreeMap/TarotPipe/internal/flow"
	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/store"
)

// DefaultFulfillmentDelay is how long after payment the reading is delivered.
const DefaultFulfillmentDelay = 2 * time.Minute

// fulfillmentTimeout bounds the reading composition and claim.
const fulfillmentTimeout = time.Minute

// ErrInvalidMessage is returned for inbound messages missing required fields.
var ErrInvalidMessage = errors.New("invalid inbound message")

// ErrNoFulfillment is returned when no timer or reader was configured.
var ErrNoFulfillment = errors.New("reading fulfillment not configured")

// Deliverer queues outbound batches. *scheduler.Scheduler implements it.
type Deliverer interface {
	Submit(chatID string, bodies []string, fastMode bool) string
}

// Reader composes the paid reading for a conversation.
type Reader interface {
	Reading(ctx context.Context, state *models.ConversationState) string
}

// Opts configures a ResponseHandler.
type Opts struct {
	Events           events.Publisher
	Timer            flow.Timer
	Reader           Reader
	FulfillmentDelay time.Duration
}

// Option mutates Opts.
type Option func(*Opts)

// WithEvents sets the funnel event publisher.
func WithEvents(p events.Publisher) Option { return func(o *Opts) { o.Events = p } }

// WithFulfillment enables delayed reading delivery after payment.
func WithFulfillment(timer flow.Timer, reader Reader, delay time.Duration) Option {
	return func(o *Opts) {
		o.Timer = timer
		o.Reader = reader
		if delay > 0 {
			o.FulfillmentDelay = delay
		}
	}
}

// ResponseHandler is the core entry point for inbound messages.
type ResponseHandler struct {
	machine *flow.Machine
	dedup   store.Deduplicator
	out     Deliverer
	opts    Opts
}

// NewResponseHandler wires the handler. machine, dedup and out are required.
func NewResponseHandler(machine *flow.Machine, dedup store.Deduplicator, out Deliverer, opts ...Option) (*ResponseHandler, error) {
	if machine == nil || dedup == nil || out == nil {
		return nil, errors.New("response handler requires machine, deduplicator and deliverer")
	}
	o := Opts{Events: events.NopPublisher{}, FulfillmentDelay: DefaultFulfillmentDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Events == nil {
		o.Events = events.NopPublisher{}
	}
	return &ResponseHandler{machine: machine, dedup: dedup, out: out, opts: o}, nil
}

// Handle processes one inbound message. It reports false without error for a
// redelivered message. Delivery of the replies happens in the background.
func (h *ResponseHandler) Handle(ctx context.Context, msg models.InboundMessage) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	fp := msg.Fingerprint()
	seen, err := h.dedup.Seen(ctx, fp)
	recorded := err == nil
	if err != nil {
		// An unavailable dedup store must not silence the bot.
		slog.Warn("ResponseHandler.Handle: dedup check failed, processing anyway", "chat_id", msg.ChatID, "error", err)
	} else if seen {
		slog.Debug("ResponseHandler.Handle: duplicate delivery dropped", "chat_id", msg.ChatID, "delivery_id", msg.DeliveryID)
		return false, nil
	}

	res, err := h.machine.Advance(ctx, msg)
	if err != nil {
		slog.Error("ResponseHandler.Handle: advance failed", "chat_id", msg.ChatID, "error", err)
		if recorded {
			// The sender retries on failure; the retry must not look like a duplicate.
			if ferr := h.dedup.Forget(ctx, fp); ferr != nil {
				slog.Warn("ResponseHandler.Handle: dedup rollback failed", "chat_id", msg.ChatID, "error", ferr)
			}
		}
		return false, fmt.Errorf("advance conversation %s: %w", msg.ChatID, err)
	}
	slog.Debug("ResponseHandler.Handle: advanced", "chat_id", msg.ChatID, "from", res.Previous, "to", res.Stage, "messages", len(res.Messages))
	h.dispatch(ctx, res)
	return true, nil
}

// ConfirmPayment applies an external payment confirmation. It reports whether
// the conversation moved to the working stage.
func (h *ResponseHandler) ConfirmPayment(ctx context.Context, chatID string) (bool, error) {
	res, err := h.machine.ConfirmPayment(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("confirm payment for %s: %w", chatID, err)
	}
	if !res.EnteredWorking {
		return false, nil
	}
	h.dispatch(ctx, res)
	return true, nil
}

func (h *ResponseHandler) dispatch(ctx context.Context, res flow.Result) {
	if len(res.Messages) > 0 {
		h.out.Submit(res.ChatID, res.Messages, res.FastMode)
	}

	category := ""
	if res.State != nil {
		category = string(res.State.ProblemCategory)
	}
	if res.Restarted {
		h.publish(ctx, events.Event{Type: events.TypeRestarted, ChatID: res.ChatID})
	}
	if res.Previous != res.Stage {
		h.publish(ctx, events.Event{Type: events.TypeStageChanged, ChatID: res.ChatID, From: string(res.Previous), To: string(res.Stage), Category: category})
	}
	if res.LinkSent {
		h.publish(ctx, events.Event{Type: events.TypePaymentLinkSent, ChatID: res.ChatID, Category: category})
	}
	if res.EnteredWorking {
		h.publish(ctx, events.Event{Type: events.TypePaymentConfirmed, ChatID: res.ChatID, Category: category})
		_ = h.scheduleFulfillment(res.State, res.FastMode)
	}
}

func (h *ResponseHandler) publish(ctx context.Context, e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := h.opts.Events.Publish(ctx, e); err != nil {
		slog.Warn("ResponseHandler.publish: event dropped", "type", e.Type, "chat_id", e.ChatID, "error", err)
	}
}

// ResumeFulfillment schedules the reading for a conversation recovered after
// a restart.
func (h *ResponseHandler) ResumeFulfillment(state *models.ConversationState) error {
	if h.opts.Timer == nil || h.opts.Reader == nil {
		return ErrNoFulfillment
	}
	if state == nil {
		return ErrInvalidMessage
	}
	return h.scheduleFulfillment(state, state.FastMode)
}

func (h *ResponseHandler) scheduleFulfillment(state *models.ConversationState, fast bool) error {
	if h.opts.Timer == nil || h.opts.Reader == nil || state == nil {
		return nil
	}
	snapshot := state.Clone()
	id, err := h.opts.Timer.ScheduleAfter(h.opts.FulfillmentDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), fulfillmentTimeout)
		defer cancel()
		h.fulfill(ctx, snapshot, fast)
	})
	if err != nil {
		slog.Warn("ResponseHandler.scheduleFulfillment: timer rejected", "chat_id", snapshot.ChatID, "error", err)
		return fmt.Errorf("failed to schedule reading: %w", err)
	}
	slog.Debug("ResponseHandler.scheduleFulfillment: reading scheduled", "chat_id", snapshot.ChatID, "timer_id", id, "delay", h.opts.FulfillmentDelay)
	return nil
}

// fulfill delivers the reading. ClaimReading makes it at most once per
// conversation and skips conversations that restarted meanwhile.
func (h *ResponseHandler) fulfill(ctx context.Context, state *models.ConversationState, fast bool) {
	claimed, err := h.machine.ClaimReading(ctx, state.ChatID)
	if err != nil {
		slog.Warn("ResponseHandler.fulfill: claim failed", "chat_id", state.ChatID, "error", err)
		return
	}
	if !claimed {
		slog.Debug("ResponseHandler.fulfill: reading not due", "chat_id", state.ChatID)
		return
	}
	text := h.opts.Reader.Reading(ctx, state)
	if text == "" {
		return
	}
	h.out.Submit(state.ChatID, []string{text}, fast)
	h.publish(ctx, events.Event{Type: events.TypeReadingDelivered, ChatID: state.ChatID, Category: string(state.ProblemCategory)})
}
