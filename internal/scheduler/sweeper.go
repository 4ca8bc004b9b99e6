package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/store"
)

// Sweeper defaults.
const (
	DefaultSweepSchedule = "*/30 * * * *"
	DefaultIdleTTL       = 7 * 24 * time.Hour
	DefaultDedupTTL      = 24 * time.Hour
)

// Sweeper deletes conversations idle longer than IdleTTL and, when the
// deduplicator supports it, prunes old fingerprints.
type Sweeper struct {
	Store    store.ConversationStore
	Dedup    store.Deduplicator
	IdleTTL  time.Duration
	DedupTTL time.Duration
	Now      func() time.Time
}

// Sweep runs one pass and returns the number of conversations removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	idle := s.IdleTTL
	if idle <= 0 {
		idle = DefaultIdleTTL
	}
	cutoff := now().Add(-idle)

	convs, err := s.Store.List(ctx)
	if err != nil {
		slog.Error("Sweeper.Sweep: list failed", "error", err)
		return 0, err
	}
	removed := 0
	for _, c := range convs {
		if lastActivity(c).After(cutoff) {
			continue
		}
		if err := s.Store.Delete(ctx, c.ChatID); err != nil {
			slog.Warn("Sweeper.Sweep: delete failed", "chat_id", c.ChatID, "error", err)
			continue
		}
		removed++
	}

	if pruner, ok := s.Dedup.(store.DedupPruner); ok {
		ttl := s.DedupTTL
		if ttl <= 0 {
			ttl = DefaultDedupTTL
		}
		if n, err := pruner.PruneDedup(ctx, now().Add(-ttl)); err != nil {
			slog.Warn("Sweeper.Sweep: dedup prune failed", "error", err)
		} else if n > 0 {
			slog.Debug("Sweeper.Sweep: dedup pruned", "rows", n)
		}
	}

	slog.Info("Sweeper.Sweep: completed", "scanned", len(convs), "removed", removed)
	return removed, nil
}

// Register adds the sweep to c under expr.
func (s *Sweeper) Register(c *Cron, expr string) error {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	_, err := c.AddJob(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	return err
}

func lastActivity(c *models.ConversationState) time.Time {
	if c.LastInteractionAt.After(c.UpdatedAt) {
		return c.LastInteractionAt
	}
	return c.UpdatedAt
}
