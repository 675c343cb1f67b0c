package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis stores entries as JSON under canon:cache:<version>:<hash> with a
// native TTL, so Sweep has nothing to do.
type Redis struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "canon:cache"}, nil
}

func (r *Redis) key(inputHash, promptVersion string) string {
	return redisKey(r.prefix, inputHash, promptVersion)
}

func redisKey(prefix, inputHash, promptVersion string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, promptVersion, inputHash)
}

func (r *Redis) Check(ctx context.Context, inputHash, promptVersion string) (*Entry, error) {
	raw, err := r.rdb.Get(ctx, r.key(inputHash, promptVersion)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding cached entry: %w", err)
	}
	return &e, nil
}

func (r *Redis) Save(ctx context.Context, inputHash, promptVersion, modelID string, response []byte) error {
	now := time.Now().UTC()
	raw, err := json.Marshal(Entry{
		InputHash:     inputHash,
		PromptVersion: promptVersion,
		ModelID:       modelID,
		Response:      response,
		CreatedAt:     now,
		ExpiresAt:     now.Add(r.ttl),
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(inputHash, promptVersion), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

// Close releases the connection pool.
func (r *Redis) Close() error { return r.rdb.Close() }
