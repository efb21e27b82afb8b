// Package state provides the per-workflow persistent key/value store
// behind the engine's StateClient interface, with durable redis, postgres
// and sqlite backends and an in-memory implementation for tests and dry
// runs.
package state

import (
	"context"
	"errors"

	"github.com/rxtech-lab/rxflow/internal/config"
	"github.com/rxtech-lab/rxflow/internal/service"
	"github.com/rxtech-lab/rxflow/internal/state/postgres"
	"github.com/rxtech-lab/rxflow/internal/state/redis"
	"github.com/rxtech-lab/rxflow/internal/state/sqlite3"
)

// ClientClose combines the StateClient interface with a Close method.
type ClientClose interface {
	service.StateClient
	Close()
}

// New creates a durable state client from the configuration. Redis wins
// over postgres over sqlite when several backends are configured.
func New(ctx context.Context, cfg config.State) (ClientClose, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}

	switch {
	case cfg.Redis != nil:
		client, err := redis.New(ctx, cfg.Redis, namespace)
		if err != nil {
			return nil, err
		}
		return client, nil
	case cfg.Postgres != nil:
		client, err := postgres.New(ctx, cfg.Postgres, namespace)
		if err != nil {
			return nil, err
		}
		return client, nil
	case cfg.SQLite != nil:
		client, err := sqlite3.New(ctx, cfg.SQLite, namespace)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return nil, errors.New("no state store configured")
}
