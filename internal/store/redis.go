package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// Redis key layout defaults.
const (
	DefaultRedisKeyPrefix = "tarotpipe:"
	DefaultRedisDedupTTL  = 24 * time.Hour
	redisScanCount        = 200
)

// Compile-time checks that RedisStore implements the store interfaces.
var (
	_ ConversationStore = (*RedisStore)(nil)
	_ Deduplicator      = (*RedisStore)(nil)
)

// RedisStore keeps each conversation under <prefix>conv:<chat id> and each
// dedup fingerprint under <prefix>dedup:<fingerprint> with a TTL. Conversation
// keys expire only when WithTTL is given.
type RedisStore struct {
	rdb      redis.UniversalClient
	prefix   string
	convTTL  time.Duration
	dedupTTL time.Duration
}

// NewRedisStore parses a redis:// URL and pings the server.
func NewRedisStore(url string, opts ...Option) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreWithClient(rdb, opts...), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb redis.UniversalClient, opts ...Option) *RedisStore {
	cfg := applyOpts(opts)
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{
		rdb:      rdb,
		prefix:   cfg.KeyPrefix,
		convTTL:  cfg.TTL,
		dedupTTL: DefaultRedisDedupTTL,
	}
}

func (s *RedisStore) convKey(chatID string) string { return s.prefix + "conv:" + chatID }

func (s *RedisStore) dedupKey(fp string) string { return s.prefix + "dedup:" + fp }

func (s *RedisStore) Get(ctx context.Context, chatID string) (*models.ConversationState, error) {
	data, err := s.rdb.Get(ctx, s.convKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("RedisStore Get failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to get conversation %s: %w", chatID, err)
	}
	return models.UnmarshalState(data)
}

func (s *RedisStore) Put(ctx context.Context, state *models.ConversationState) error {
	data, err := models.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", state.ChatID, err)
	}
	if err := s.rdb.Set(ctx, s.convKey(state.ChatID), data, s.convTTL).Err(); err != nil {
		slog.Error("RedisStore Put failed", "error", err, "chat_id", state.ChatID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ChatID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, chatID string) error {
	if err := s.rdb.Del(ctx, s.convKey(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", chatID, err)
	}
	return nil
}

// List scans the conversation namespace. Keys that vanish between SCAN and
// GET are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*models.ConversationState, error) {
	var out []*models.ConversationState
	iter := s.rdb.Scan(ctx, 0, s.prefix+"conv:*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		chatID := strings.TrimPrefix(iter.Val(), s.prefix+"conv:")
		c, err := s.Get(ctx, chatID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// Seen uses SETNX so concurrent replicas agree on the first delivery.
func (s *RedisStore) Seen(ctx context.Context, fingerprint string) (bool, error) {
	set, err := s.rdb.SetNX(ctx, s.dedupKey(fingerprint), 1, s.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return !set, nil
}

// Forget deletes the fingerprint key.
func (s *RedisStore) Forget(ctx context.Context, fingerprint string) error {
	if err := s.rdb.Del(ctx, s.dedupKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
