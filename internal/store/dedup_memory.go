package store

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultDedupCapacity is the number of fingerprints kept before the set is cleared.
const DefaultDedupCapacity = 1000

// Compile-time check that MemoryDeduplicator implements Deduplicator.
var _ Deduplicator = (*MemoryDeduplicator)(nil)

// MemoryDeduplicator is a bounded fingerprint set. When it grows past its
// capacity the whole set is discarded; there is no per-entry expiry.
type MemoryDeduplicator struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	capacity int
}

// NewMemoryDeduplicator creates a deduplicator. WithCapacity overrides the default.
func NewMemoryDeduplicator(opts ...Option) *MemoryDeduplicator {
	cfg := applyOpts(opts)
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultDedupCapacity
	}
	return &MemoryDeduplicator{seen: make(map[string]struct{}), capacity: cfg.Capacity}
}

func (d *MemoryDeduplicator) Seen(_ context.Context, fingerprint string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[fingerprint]; ok {
		return true, nil
	}
	d.seen[fingerprint] = struct{}{}
	if len(d.seen) > d.capacity {
		slog.Debug("MemoryDeduplicator.Seen: capacity exceeded, clearing", "capacity", d.capacity)
		d.seen = map[string]struct{}{fingerprint: {}}
	}
	return false, nil
}

// Forget removes fingerprint. Unknown fingerprints are ignored.
func (d *MemoryDeduplicator) Forget(_ context.Context, fingerprint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, fingerprint)
	return nil
}

// Len returns the number of fingerprints currently held.
func (d *MemoryDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
