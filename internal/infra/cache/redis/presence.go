package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records the last request time of each user under a TTL'd key.
// A user is online while the key exists.
type Presence struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewPresence(client redis.Cmdable, prefix string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = time.Minute
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "chat"
	}
	return &Presence{client: client, prefix: prefix, ttl: ttl}
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	if logger != nil {
		logger.Info("redis connected", "addr", addr, "db", db)
	}
	return rdb, nil
}

func (p *Presence) key(userID string) string {
	return p.prefix + ":presence:" + userID
}

func (p *Presence) Touch(ctx context.Context, userID string) error {
	return p.client.Set(ctx, p.key(userID), time.Now().Unix(), p.ttl).Err()
}

func (p *Presence) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = p.key(id)
	}
	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: presence lookup: %w", err)
	}
	for i, id := range userIDs {
		out[id] = i < len(values) && values[i] != nil
	}
	return out, nil
}
