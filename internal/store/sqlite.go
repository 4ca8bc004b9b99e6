package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time checks that SQLiteStore implements the store interfaces.
var (
	_ ConversationStore = (*SQLiteStore)(nil)
	_ Deduplicator      = (*SQLiteStore)(nil)
	_ DedupPruner       = (*SQLiteStore)(nil)
)

// SQLiteStore persists conversations and dedup fingerprints in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under concurrent webhooks.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, chatID string) (*models.ConversationState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM conversations WHERE chat_id = ?`, chatID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to get conversation %s: %w", chatID, err)
	}
	return models.UnmarshalState([]byte(data))
}

func (s *SQLiteStore) Put(ctx context.Context, state *models.ConversationState) error {
	data, err := models.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", state.ChatID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (chat_id, stage, state_json, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET stage = excluded.stage, state_json = excluded.state_json, updated_at = excluded.updated_at`,
		state.ChatID, string(state.Stage), string(data), state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore Put failed", "error", err, "chat_id", state.ChatID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ChatID, err)
	}
	slog.Debug("SQLiteStore Put succeeded", "chat_id", state.ChatID, "stage", state.Stage)
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = ?`, chatID); err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "chat_id", chatID)
		return fmt.Errorf("failed to delete conversation %s: %w", chatID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*models.ConversationState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state_json FROM conversations ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return scanStates(rows)
}

func (s *SQLiteStore) Seen(ctx context.Context, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (fingerprint, received_at) VALUES (?, ?)`,
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

func (s *SQLiteStore) Forget(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneDedup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
