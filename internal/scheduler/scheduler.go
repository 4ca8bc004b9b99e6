// Package scheduler delivers outbound batches with human pacing and runs
// periodic maintenance jobs.
//
// Submit never blocks on delivery. Each chat has a FIFO of batches drained by
// one goroutine, so a batch is never interleaved with another batch for the
// same chat; different chats are delivered independently, bounded by a
// weighted semaphore.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Defaults for NewScheduler.
const (
	DefaultNotifierTimeout = 8 * time.Second
	DefaultMaxConcurrent   = 64
)

// Notifier is the messaging-platform capability the scheduler depends on.
type Notifier interface {
	SendText(ctx context.Context, chatID, body string) error
	SendTypingIndicator(ctx context.Context, chatID string) error
}

// DeliveryReport summarises one finished batch.
type DeliveryReport struct {
	BatchID string
	ChatID  string
	Sent    int
	Failed  int
}

// Opts configures a Scheduler.
type Opts struct {
	Policy          Policy
	NotifierTimeout time.Duration
	MaxConcurrent   int64
	Rand            *rand.Rand
	OnDelivered     func(DeliveryReport)
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Option mutates Opts.
type Option func(*Opts)

// WithPolicy sets the pacing policy.
func WithPolicy(p Policy) Option { return func(o *Opts) { o.Policy = p } }

// WithNotifierTimeout bounds each notifier call.
func WithNotifierTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.NotifierTimeout = d
		}
	}
}

// WithMaxConcurrent bounds the number of batches delivered at once.
func WithMaxConcurrent(n int64) Option {
	return func(o *Opts) {
		if n > 0 {
			o.MaxConcurrent = n
		}
	}
}

// WithRand sets the random source for jitter and stagger.
func WithRand(r *rand.Rand) Option { return func(o *Opts) { o.Rand = r } }

// WithDeliveryHook registers a callback invoked after every batch.
func WithDeliveryHook(fn func(DeliveryReport)) Option { return func(o *Opts) { o.OnDelivered = fn } }

// WithSleep replaces the pacing sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Opts) { o.Sleep = fn }
}

type batch struct {
	id    string
	chat  string
	steps []Step
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	notifier Notifier
	opts     Opts
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string][]batch
	closed bool

	randMu sync.Mutex
}

// NewScheduler creates a scheduler delivering through notifier.
func NewScheduler(notifier Notifier, opts ...Option) *Scheduler {
	o := Opts{
		Policy:          DefaultPolicy(),
		NotifierTimeout: DefaultNotifierTimeout,
		MaxConcurrent:   DefaultMaxConcurrent,
		Sleep:           sleepCtx,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		notifier: notifier,
		opts:     o,
		sem:      semaphore.NewWeighted(o.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		queues:   make(map[string][]batch),
	}
}

// Submit queues bodies for chatID and returns the batch id. It returns ""
// when there is nothing to send or the scheduler is shut down.
func (s *Scheduler) Submit(chatID string, bodies []string, fastMode bool) string {
	if len(bodies) == 0 {
		return ""
	}
	s.randMu.Lock()
	steps := Plan(bodies, fastMode, s.opts.Policy, s.opts.Rand)
	s.randMu.Unlock()
	b := batch{id: uuid.NewString(), chat: chatID, steps: steps}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		slog.Warn("Scheduler.Submit: scheduler closed, dropping batch", "chat_id", chatID, "messages", len(bodies))
		return ""
	}
	pending, running := s.queues[chatID]
	s.queues[chatID] = append(pending, b)
	if !running {
		s.wg.Add(1)
		go s.drain(chatID)
	}
	slog.Debug("Scheduler.Submit: batch queued", "chat_id", chatID, "batch_id", b.id, "messages", len(bodies), "fast_mode", fastMode)
	return b.id
}

// drain delivers queued batches for one chat until its queue is empty.
func (s *Scheduler) drain(chatID string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[chatID]
		if len(q) == 0 {
			delete(s.queues, chatID)
			s.mu.Unlock()
			return
		}
		b := q[0]
		s.queues[chatID] = q[1:]
		s.mu.Unlock()

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			slog.Warn("Scheduler.drain: shutting down, batch abandoned", "chat_id", chatID, "batch_id", b.id)
			continue
		}
		report := s.deliver(b)
		s.sem.Release(1)
		if s.opts.OnDelivered != nil {
			s.opts.OnDelivered(report)
		}
	}
}

func (s *Scheduler) deliver(b batch) DeliveryReport {
	report := DeliveryReport{BatchID: b.id, ChatID: b.chat}
	for _, step := range b.steps {
		switch step.Kind {
		case StepSleep:
			if err := s.opts.Sleep(s.ctx, step.Duration); err != nil {
				slog.Warn("Scheduler.deliver: interrupted", "chat_id", b.chat, "batch_id", b.id, "sent", report.Sent)
				return report
			}
		case StepTyping:
			if err := s.call(func(ctx context.Context) error { return s.notifier.SendTypingIndicator(ctx, b.chat) }); err != nil {
				slog.Debug("Scheduler.deliver: typing indicator failed", "chat_id", b.chat, "error", err)
			}
		case StepSend:
			if err := s.call(func(ctx context.Context) error { return s.notifier.SendText(ctx, b.chat, step.Body) }); err != nil {
				report.Failed++
				slog.Warn("Scheduler.deliver: send failed", "chat_id", b.chat, "batch_id", b.id, "error", err)
				continue
			}
			report.Sent++
		}
	}
	slog.Debug("Scheduler.deliver: batch finished", "chat_id", b.chat, "batch_id", b.id, "sent", report.Sent, "failed", report.Failed)
	return report
}

// call runs fn with the notifier timeout and recovers a panicking notifier.
func (s *Scheduler) call(fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.NotifierTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler.call: notifier panicked", "panic", r)
			err = errors.New("notifier panicked")
		}
	}()
	return fn(ctx)
}

// Pending returns the number of chats with queued or in-flight batches.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Flush waits until every queued batch has been delivered or ctx is done.
func (s *Scheduler) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting batches, interrupts pacing sleeps and waits for
// the delivery goroutines to exit. Undelivered messages are dropped.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return s.Flush(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
