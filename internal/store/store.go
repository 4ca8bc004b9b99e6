// Package store provides conversation and deduplication storage backends for
// TarotPipe: in-memory (default), SQLite, PostgreSQL, Redis and DynamoDB.
//
// Every backend stores a conversation as the JSON document produced by
// models.MarshalState, keyed by chat id, so the persisted layout mirrors
// models.ConversationState field for field.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// ErrNotFound is returned by Get when no conversation exists for the chat id.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore is the injected per-chat state abstraction.
type ConversationStore interface {
	Get(ctx context.Context, chatID string) (*models.ConversationState, error)
	Put(ctx context.Context, state *models.ConversationState) error
	Delete(ctx context.Context, chatID string) error
	List(ctx context.Context) ([]*models.ConversationState, error)
	Close() error
}

// Deduplicator remembers inbound message fingerprints. Seen records the
// fingerprint and reports whether it had already been recorded. Forget drops
// a fingerprint so a redelivery of a failed message is processed again.
type Deduplicator interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	Forget(ctx context.Context, fingerprint string) error
}

// DedupPruner is implemented by deduplicators whose records need periodic
// cleanup instead of capacity eviction.
type DedupPruner interface {
	PruneDedup(ctx context.Context, before time.Time) (int64, error)
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN       string
	KeyPrefix string
	TableName string
	Capacity  int
	TTL       time.Duration
}

// Option is a functional option for configuring store implementations.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option { return WithDSN(dsn) }

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option { return WithDSN(dsn) }

// WithKeyPrefix sets the Redis key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// WithTableName sets the DynamoDB table.
func WithTableName(name string) Option {
	return func(o *Opts) { o.TableName = name }
}

// WithCapacity sets the in-memory deduplicator capacity.
func WithCapacity(n int) Option {
	return func(o *Opts) { o.Capacity = n }
}

// WithTTL sets the expiry used by backends with native key expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
