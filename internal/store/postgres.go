package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// Connection pool settings for the PostgreSQL store.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time checks that PostgresStore implements the store interfaces.
var (
	_ ConversationStore = (*PostgresStore)(nil)
	_ Deduplicator      = (*PostgresStore)(nil)
	_ DedupPruner       = (*PostgresStore)(nil)
)

// PostgresStore persists conversations and dedup fingerprints in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, configures the pool and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// newPostgresStoreWithDB wraps an existing handle without running migrations.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, chatID string) (*models.ConversationState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM conversations WHERE chat_id = $1`, chatID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to get conversation %s: %w", chatID, err)
	}
	return models.UnmarshalState(data)
}

func (s *PostgresStore) Put(ctx context.Context, state *models.ConversationState) error {
	data, err := models.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", state.ChatID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (chat_id, stage, state_json, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE SET stage = EXCLUDED.stage, state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at`,
		state.ChatID, string(state.Stage), data, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore Put failed", "error", err, "chat_id", state.ChatID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ChatID, err)
	}
	slog.Debug("PostgresStore Put succeeded", "chat_id", state.ChatID, "stage", state.Stage)
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", chatID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.ConversationState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state_json FROM conversations ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return scanStates(rows)
}

func (s *PostgresStore) Seen(ctx context.Context, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (fingerprint, received_at) VALUES ($1, $2) ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, time.Now())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n == 0, nil
}

func (s *PostgresStore) Forget(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE fingerprint = $1`, fingerprint); err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneDedup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
