package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"SignalSentinel/internal/model"
)

const (
	redisKeyPrefix  = "sentinel:snapshot:"
	redisSymbolsKey = "sentinel:snapshot:symbols"
)

// RedisStore keeps snapshots in Redis, one JSON value per symbol. A single
// SET replaces a snapshot, so readers never see a partial write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Get(ctx context.Context, symbol string) (*model.Snapshot, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", symbol, err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", symbol, err)
	}
	return &snap, nil
}

func (r *RedisStore) Put(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Symbol, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+snap.Symbol, data, r.ttl)
		pipe.SAdd(ctx, redisSymbolsKey, snap.Symbol)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", snap.Symbol, err)
	}
	return nil
}

func (r *RedisStore) All(ctx context.Context) (map[string]*model.Snapshot, error) {
	symbols, err := r.client.SMembers(ctx, redisSymbolsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis symbols: %w", err)
	}
	out := make(map[string]*model.Snapshot, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = redisKeyPrefix + s
	}
	// MGET reads every key in one round trip.
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // expired
		}
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(str), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", symbols[i], err)
		}
		out[symbols[i]] = &snap
	}
	return out, nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
