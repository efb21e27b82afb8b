// Package redis backs workflow state with a shared redis keyspace: one
// hash per namespace, values stored as JSON.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rxtech-lab/rxflow/internal/config"
)

const keyPrefix = "rxflow:state:"

type Redis struct {
	client *redis.Client
	key    string
}

// New connects to redis and scopes all operations to the namespace hash.
func New(ctx context.Context, cfg *config.StateRedis, namespace string) (*Redis, error) {
	if cfg == nil {
		return nil, errors.New("redis configuration is nil")
	}
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis state: ping %s: %w", cfg.Address, err)
	}

	slog.Info("using redis state store", "address", cfg.Address, "namespace", namespace)

	return &Redis{client: client, key: keyPrefix + namespace}, nil
}

func (r *Redis) GetState(ctx context.Context, key string) (any, error) {
	raw, err := r.client.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis state: get %q: %w", key, err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("redis state: decode %q: %w", key, err)
	}

	return value, nil
}

func (r *Redis) SetState(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis state: encode %q: %w", key, err)
	}

	if err := r.client.HSet(ctx, r.key, key, string(raw)).Err(); err != nil {
		return fmt.Errorf("redis state: set %q: %w", key, err)
	}

	return nil
}

func (r *Redis) GetAllState(ctx context.Context) (map[string]any, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis state: get all: %w", err)
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var value any
		if err := json.Unmarshal([]byte(v), &value); err != nil {
			return nil, fmt.Errorf("redis state: decode %q: %w", k, err)
		}
		out[k] = value
	}

	return out, nil
}

func (r *Redis) Close() {
	_ = r.client.Close()
}
