package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/catalog"
	"github.com/BTreeMap/TarotPipe/internal/events"
	"github.com/BTreeMap/TarotPipe/internal/flow"
	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/scheduler"
	"github.com/BTreeMap/TarotPipe/internal/store"
	"github.com/BTreeMap/TarotPipe/internal/tone"
)

type submission struct {
	chatID string
	bodies []string
	fast   bool
}

type captureDeliverer struct {
	mu   sync.Mutex
	subs []submission
}

func (c *captureDeliverer) Submit(chatID string, bodies []string, fastMode bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, submission{chatID, bodies, fastMode})
	return fmt.Sprintf("batch-%d", len(c.subs))
}

func (c *captureDeliverer) all() []submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]submission(nil), c.subs...)
}

type manualTimer struct {
	mu     sync.Mutex
	fns    []func()
	delays []time.Duration
}

func (m *manualTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, fn)
	m.delays = append(m.delays, delay)
	return fmt.Sprint(len(m.fns)), nil
}

func (m *manualTimer) Cancel(string) error { return nil }

func (m *manualTimer) fireAll() {
	m.mu.Lock()
	fns := m.fns
	m.fns = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeReader struct{ calls int }

func (f *fakeReader) Reading(_ context.Context, state *models.ConversationState) string {
	f.calls++
	return "reading for " + state.ChatID
}

type linker struct{}

func (linker) Link(context.Context, string) (string, error) { return "https://pay.example.com/x", nil }

type failingDedup struct{}

func (failingDedup) Seen(context.Context, string) (bool, error) { return false, errors.New("dedup down") }
func (failingDedup) Forget(context.Context, string) error { return errors.New("dedup down") }

// flakyStore fails the first failPuts writes.
type flakyStore struct {
	*store.InMemoryStore
	mu       sync.Mutex
	failPuts int
}

func (f *flakyStore) Put(ctx context.Context, state *models.ConversationState) error {
	f.mu.Lock()
	if f.failPuts > 0 {
		f.failPuts--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.InMemoryStore.Put(ctx, state)
}

type harness struct {
	h      *ResponseHandler
	st     store.ConversationStore
	out    *captureDeliverer
	timer  *manualTimer
	reader *fakeReader
	events *events.Recorder
}

func newHarness(t *testing.T, dedup store.Deduplicator) *harness {
	t.Helper()
	return newHarnessWithStore(t, dedup, store.NewInMemoryStore())
}

func newHarnessWithStore(t *testing.T, dedup store.Deduplicator, st store.ConversationStore) *harness {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default failed: %v", err)
	}
	m, err := flow.NewMachine(flow.NewStoreBasedStateManager(st), cat,
		flow.WithPayment(linker{}), flow.WithNaturalizer(tone.Naturalizer{}))
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	if dedup == nil {
		dedup = store.NewMemoryDeduplicator()
	}
	hs := &harness{st: st, out: &captureDeliverer{}, timer: &manualTimer{}, reader: &fakeReader{}, events: &events.Recorder{}}
	hs.h, err = NewResponseHandler(m, dedup, hs.out,
		WithEvents(hs.events), WithFulfillment(hs.timer, hs.reader, 5*time.Second))
	if err != nil {
		t.Fatalf("NewResponseHandler failed: %v", err)
	}
	return hs
}

func msg(chatID, text, delivery string) models.InboundMessage {
	return models.InboundMessage{ChatID: chatID, Text: text, DisplayName: "Олег", DeliveryID: delivery}
}

func TestHandle_SchedulesReplies(t *testing.T) {
	hs := newHarness(t, nil)
	handled, err := hs.h.Handle(context.Background(), msg("7", "привет", "u1"))
	if err != nil || !handled {
		t.Fatalf("Handle = %v, %v", handled, err)
	}
	subs := hs.out.all()
	if len(subs) != 1 || subs[0].chatID != "7" || len(subs[0].bodies) != 1 {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
	if got := hs.events.Types(); !slices.Equal(got, []string{events.TypeStageChanged}) {
		t.Errorf("unexpected events %v", got)
	}
}

func TestHandle_DuplicateIsDropped(t *testing.T) {
	hs := newHarness(t, nil)
	ctx := context.Background()
	hs.h.Handle(ctx, msg("7", "привет", "u1"))
	handled, err := hs.h.Handle(ctx, msg("7", "привет", "u1"))
	if err != nil {
		t.Fatalf("duplicate returned error: %v", err)
	}
	if handled {
		t.Error("duplicate reported as handled")
	}
	if n := len(hs.out.all()); n != 1 {
		t.Errorf("expected one batch, got %d", n)
	}
	st, _ := hs.st.Get(ctx, "7")
	if st.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", st.MessageCount)
	}
}

func TestHandle_InvalidMessage(t *testing.T) {
	hs := newHarness(t, nil)
	_, err := hs.h.Handle(context.Background(), models.InboundMessage{Text: "hi"})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if len(hs.out.all()) != 0 {
		t.Error("invalid message produced output")
	}
	if l, _ := hs.st.List(context.Background()); len(l) != 0 {
		t.Error("invalid message mutated state")
	}
}

func TestHandle_DedupFailureStillProcesses(t *testing.T) {
	hs := newHarness(t, failingDedup{})
	handled, err := hs.h.Handle(context.Background(), msg("7", "привет", "u1"))
	if err != nil || !handled {
		t.Fatalf("Handle = %v, %v", handled, err)
	}
}

func TestHandle_RedeliveryAfterFailedSaveIsProcessed(t *testing.T) {
	st := &flakyStore{InMemoryStore: store.NewInMemoryStore(), failPuts: 1}
	hs := newHarnessWithStore(t, nil, st)
	ctx := context.Background()

	handled, err := hs.h.Handle(ctx, msg("7", "привет", "u1"))
	if err == nil || handled {
		t.Fatalf("first Handle = %v, %v; want false with error", handled, err)
	}
	if n := len(hs.out.all()); n != 0 {
		t.Fatalf("failed turn produced %d batches", n)
	}

	handled, err = hs.h.Handle(ctx, msg("7", "привет", "u1"))
	if err != nil || !handled {
		t.Fatalf("redelivery Handle = %v, %v; want true, nil", handled, err)
	}
	if n := len(hs.out.all()); n != 1 {
		t.Errorf("expected one batch after redelivery, got %d", n)
	}
	got, err := hs.st.Get(ctx, "7")
	if err != nil {
		t.Fatalf("conversation not stored after redelivery: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", got.MessageCount)
	}

	// a third delivery of the same message is a true duplicate
	handled, _ = hs.h.Handle(ctx, msg("7", "привет", "u1"))
	if handled {
		t.Error("duplicate after successful redelivery reported as handled")
	}
}

func TestHandle_FulfillmentAfterPayment(t *testing.T) {
	hs := newHarness(t, nil)
	ctx := context.Background()
	script := []string{
		"привет",
		"я не знаю, что делать с работой, постоянный стресс",
		"уже полгода так",
		"да, давай",
		"сколько это стоит",
		"готов",
		"оплатил",
	}
	for i, text := range script {
		if _, err := hs.h.Handle(ctx, msg("9", text, fmt.Sprint(i))); err != nil {
			t.Fatalf("Handle(%q) failed: %v", text, err)
		}
	}
	st, _ := hs.st.Get(ctx, "9")
	if st.Stage != models.StageWorking {
		t.Fatalf("expected working, got %s", st.Stage)
	}
	types := hs.events.Types()
	if !slices.Contains(types, events.TypePaymentLinkSent) || !slices.Contains(types, events.TypePaymentConfirmed) {
		t.Errorf("missing payment events: %v", types)
	}
	if len(hs.timer.delays) != 1 || hs.timer.delays[0] != 5*time.Second {
		t.Fatalf("expected one fulfillment timer of 5s, got %v", hs.timer.delays)
	}

	before := len(hs.out.all())
	hs.timer.fireAll()
	subs := hs.out.all()
	if len(subs) != before+1 || subs[len(subs)-1].bodies[0] != "reading for 9" {
		t.Fatalf("reading not delivered: %+v", subs[before:])
	}
	if !slices.Contains(hs.events.Types(), events.TypeReadingDelivered) {
		t.Error("reading_delivered event missing")
	}

	// A second confirmation must not deliver another reading.
	if moved, _ := hs.h.ConfirmPayment(ctx, "9"); moved {
		t.Error("confirmation accepted outside awaiting_payment")
	}
	hs.timer.fireAll()
	if hs.reader.calls != 1 {
		t.Errorf("expected one reading, got %d", hs.reader.calls)
	}
}

func TestHandle_RestartBeforeFulfillmentSkipsReading(t *testing.T) {
	hs := newHarness(t, nil)
	ctx := context.Background()
	c := models.NewConversationState("5", "Олег", time.Now().Add(-time.Hour))
	c.Stage = models.StageAwaitingPayment
	c.PaymentLinkSent = true
	hs.st.Put(ctx, c)

	moved, err := hs.h.ConfirmPayment(ctx, "5")
	if err != nil || !moved {
		t.Fatalf("ConfirmPayment = %v, %v", moved, err)
	}
	hs.h.Handle(ctx, msg("5", "/start", "r1"))
	hs.timer.fireAll()
	if hs.reader.calls != 0 {
		t.Error("reading delivered after restart")
	}
	if !slices.Contains(hs.events.Types(), events.TypeRestarted) {
		t.Error("restart event missing")
	}
}

func TestResumeFulfillment(t *testing.T) {
	hs := newHarness(t, nil)
	ctx := context.Background()
	c := models.NewConversationState("6", "Олег", time.Now().Add(-time.Hour))
	c.Stage = models.StageWorking
	hs.st.Put(ctx, c)

	if err := hs.h.ResumeFulfillment(c); err != nil {
		t.Fatalf("ResumeFulfillment failed: %v", err)
	}
	hs.timer.fireAll()
	subs := hs.out.all()
	if len(subs) != 1 || subs[0].bodies[0] != "reading for 6" {
		t.Fatalf("unexpected submissions: %+v", subs)
	}

	// A second resume finds the reading already claimed.
	if err := hs.h.ResumeFulfillment(c); err != nil {
		t.Fatalf("ResumeFulfillment failed: %v", err)
	}
	hs.timer.fireAll()
	if hs.reader.calls != 1 {
		t.Errorf("reading composed %d times, want 1", hs.reader.calls)
	}

	if err := hs.h.ResumeFulfillment(nil); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("ResumeFulfillment(nil) = %v", err)
	}
}

func TestResumeFulfillmentNotConfigured(t *testing.T) {
	cat, _ := catalog.Default()
	m, err := flow.NewMachine(flow.NewStoreBasedStateManager(store.NewInMemoryStore()), cat, flow.WithPayment(linker{}))
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	h, err := NewResponseHandler(m, store.NewMemoryDeduplicator(), &captureDeliverer{})
	if err != nil {
		t.Fatalf("NewResponseHandler failed: %v", err)
	}
	if err := h.ResumeFulfillment(&models.ConversationState{ChatID: "1"}); !errors.Is(err, ErrNoFulfillment) {
		t.Errorf("ResumeFulfillment = %v, want ErrNoFulfillment", err)
	}
}

func TestHandle_EndToEndWithScheduler(t *testing.T) {
	cat, _ := catalog.Default()
	m, err := flow.NewMachine(flow.NewStoreBasedStateManager(store.NewInMemoryStore()), cat,
		flow.WithPayment(linker{}), flow.WithNaturalizer(tone.Naturalizer{}))
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	notifier := NewRecordingNotifier()
	sched := scheduler.NewScheduler(notifier, scheduler.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	h, err := NewResponseHandler(m, store.NewMemoryDeduplicator(), sched)
	if err != nil {
		t.Fatalf("NewResponseHandler failed: %v", err)
	}

	ctx := context.Background()
	h.Handle(ctx, msg("3", "привет", "a"))
	h.Handle(ctx, msg("3", "привет", "a"))
	h.Handle(ctx, msg("3", "меня бросил парень и я не понимаю почему", "b"))

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sched.Flush(flushCtx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	sent := notifier.SentTo("3")
	if len(sent) != 3 {
		t.Fatalf("expected greeting + empathy + question, got %d: %v", len(sent), sent)
	}
	if notifier.Typing("3") != 2*len(sent) {
		t.Errorf("expected two typing signals per message, got %d", notifier.Typing("3"))
	}
	for _, body := range sent {
		if strings.TrimSpace(body) == "" {
			t.Error("empty message delivered")
		}
	}
}

func TestNewResponseHandlerValidation(t *testing.T) {
	if _, err := NewResponseHandler(nil, store.NewMemoryDeduplicator(), &captureDeliverer{}); err == nil {
		t.Error("expected error for nil machine")
	}
}

func TestRecordingNotifierError(t *testing.T) {
	n := NewRecordingNotifier()
	n.SendErr = errors.New("down")
	if err := n.SendText(context.Background(), "1", "x"); err == nil {
		t.Error("expected SendErr")
	}
	if len(n.Sent()) != 0 {
		t.Error("failed send recorded")
	}
}
