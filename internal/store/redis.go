package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/concord/internal/model"
)

// passageIndex is the set of passage ids, kept so a retrieval layer can
// enumerate the corpus without a SCAN.
const passageIndex = "concord:passages"

func passageKey(id string) string {
	return "concord:passage:" + id
}

// RedisVector implements the retrieval port on Redis: one hash per passage
// plus a set index. Writes are keyed by fact id, so repeated projection of
// an unchanged fact set converges to the same keys.
type RedisVector struct {
	client *redis.Client
}

// NewRedisVector connects and pings the server.
func NewRedisVector(ctx context.Context, cfg model.VectorConfig) (*RedisVector, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisVector{client: client}, nil
}

// UpsertPassage writes the passage hash and indexes its id.
func (v *RedisVector) UpsertPassage(ctx context.Context, p Passage) error {
	pipe := v.client.TxPipeline()
	pipe.HSet(ctx, passageKey(p.ID), map[string]any{
		"text":    p.Text,
		"subject": p.Subject,
		"scope":   p.Scope,
	})
	pipe.SAdd(ctx, passageIndex, p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: upsert passage %s: %w", p.ID, err)
	}
	return nil
}

// DeletePassage removes the passage hash and its index entry.
func (v *RedisVector) DeletePassage(ctx context.Context, id string) error {
	pipe := v.client.TxPipeline()
	pipe.Del(ctx, passageKey(id))
	pipe.SRem(ctx, passageIndex, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete passage %s: %w", id, err)
	}
	return nil
}

// Close shuts down the client.
func (v *RedisVector) Close(context.Context) error {
	return v.client.Close()
}
