package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleState(chatID string) *models.ConversationState {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := models.NewConversationState(chatID, "Anna", now)
	c.Stage = models.StageDiscussingValue
	c.ProblemText = "не знаю, что делать с работой"
	c.ProblemCategory = models.CategoryWork
	c.MessageCount = 3
	c.RecentResponses["greeting"] = []string{"hello"}
	return c
}

// exerciseConversationStore runs the shared contract against any backend.
func exerciseConversationStore(t *testing.T, s ConversationStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, sampleState("b")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, sampleState("a")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Stage != models.StageDiscussingValue || got.ProblemCategory != models.CategoryWork {
		t.Errorf("unexpected state: %+v", got)
	}
	if len(got.RecentResponses["greeting"]) != 1 {
		t.Errorf("history not persisted: %v", got.RecentResponses)
	}

	got.Stage = models.StageAskingReadiness
	if err := s.Put(ctx, got); err != nil {
		t.Fatalf("Put update failed: %v", err)
	}
	again, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if again.Stage != models.StageAskingReadiness {
		t.Errorf("expected updated stage, got %s", again.Stage)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 || all[0].ChatID != "a" || all[1].ChatID != "b" {
		t.Errorf("unexpected list: %d entries", len(all))
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func exerciseDeduplicator(t *testing.T, d Deduplicator) {
	t.Helper()
	ctx := context.Background()
	seen, err := d.Seen(ctx, "chat:1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Error("first delivery reported as seen")
	}
	seen, err = d.Seen(ctx, "chat:1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !seen {
		t.Error("redelivery not detected")
	}
	seen, _ = d.Seen(ctx, "chat:2")
	if seen {
		t.Error("distinct fingerprint reported as seen")
	}

	if err := d.Forget(ctx, "chat:1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	seen, err = d.Seen(ctx, "chat:1")
	if err != nil {
		t.Fatalf("Seen after Forget failed: %v", err)
	}
	if seen {
		t.Error("forgotten fingerprint still reported as seen")
	}
	if err := d.Forget(ctx, "never-recorded"); err != nil {
		t.Errorf("Forget of unknown fingerprint failed: %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseConversationStore(t, NewInMemoryStore())
}

func TestInMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	c := sampleState("x")
	if err := s.Put(ctx, c); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	c.Stage = models.StageWorking
	got, _ := s.Get(ctx, "x")
	if got.Stage != models.StageDiscussingValue {
		t.Error("store shares the caller's record")
	}
}

func TestSQLiteStore(t *testing.T) {
	exerciseConversationStore(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_Dedup(t *testing.T) {
	s := newTestSQLiteStore(t)
	exerciseDeduplicator(t, s)

	n, err := s.PruneDedup(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneDedup failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned rows, got %d", n)
	}
	seen, _ := s.Seen(context.Background(), "chat:1")
	if seen {
		t.Error("pruned fingerprint still reported as seen")
	}
}

func TestSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error without DSN")
	}
}

func TestMemoryDeduplicator(t *testing.T) {
	exerciseDeduplicator(t, NewMemoryDeduplicator())
}

func TestMemoryDeduplicator_ClearsAtCapacity(t *testing.T) {
	d := NewMemoryDeduplicator(WithCapacity(3))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d.Seen(ctx, fmt.Sprintf("f%d", i))
	}
	if d.Len() != 3 {
		t.Fatalf("expected 3 fingerprints, got %d", d.Len())
	}
	// the fourth insert overflows and clears everything but itself
	d.Seen(ctx, "f3")
	if d.Len() != 1 {
		t.Errorf("expected set cleared to 1, got %d", d.Len())
	}
	if seen, _ := d.Seen(ctx, "f3"); !seen {
		t.Error("overflowing fingerprint should survive the clear")
	}
	if seen, _ := d.Seen(ctx, "f0"); seen {
		t.Error("expected f0 to be forgotten after the clear")
	}
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":   "postgres",
		"postgresql://localhost/db":     "postgres",
		"host=localhost dbname=tarot":   "postgres",
		"/var/lib/tarotpipe/tarot.db":   "sqlite3",
		"file:test.db?cache=shared":     "sqlite3",
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}
