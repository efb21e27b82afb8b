// Package postgres backs workflow state with a shared postgres database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rxtech-lab/rxflow/internal/config"
	"github.com/worldline-go/types"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
)

var (
	ConnMaxLifetime = 15 * time.Minute
	MaxIdleConns    = 3
	MaxOpenConns    = 3

	DefaultTablePrefix = "rxflow_"
)

type Postgres struct {
	db   *sql.DB
	goqu *goqu.Database

	tableState exp.IdentifierExpression
	namespace  string
}

func New(ctx context.Context, cfg *config.StatePostgres, namespace string) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("postgres datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("postgres state: open: %w", err)
	}

	connMaxLifetime := ConnMaxLifetime
	if cfg.ConnMaxLifetime != nil {
		connMaxLifetime = *cfg.ConnMaxLifetime
	}
	maxIdleConns := MaxIdleConns
	if cfg.MaxIdleConns != nil {
		maxIdleConns = *cfg.MaxIdleConns
	}
	maxOpenConns := MaxOpenConns
	if cfg.MaxOpenConns != nil {
		maxOpenConns = *cfg.MaxOpenConns
	}

	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres state: ping: %w", err)
	}

	if err := migrateDB(ctx, db, migrateTable(cfg.Migrate, tablePrefix), migrateValues(cfg.Migrate, tablePrefix)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres state: migrate: %w", err)
	}

	slog.Info("using postgres state store", "namespace", namespace)

	table := goqu.T(tablePrefix + "state")
	if cfg.Schema != "" {
		table = goqu.S(cfg.Schema).Table(tablePrefix + "state")
	}

	return &Postgres{
		db:         db,
		goqu:       goqu.New("postgres", db),
		tableState: table,
		namespace:  namespace,
	}, nil
}

func (p *Postgres) GetState(ctx context.Context, key string) (any, error) {
	query, _, err := p.goqu.From(p.tableState).
		Select("value").
		Where(goqu.I("namespace").Eq(p.namespace), goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get state query: %w", err)
	}

	var raw string
	err = p.db.QueryRowContext(ctx, query).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state %q: %w", key, err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("decode state %q: %w", key, err)
	}

	return value, nil
}

func (p *Postgres) SetState(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}

	now := types.NewTime(time.Now().UTC())

	query, _, err := p.goqu.Insert(p.tableState).Rows(
		goqu.Record{
			"namespace":  p.namespace,
			"key":        key,
			"value":      string(raw),
			"updated_at": now,
		},
	).OnConflict(goqu.DoUpdate("namespace, key", goqu.Record{
		"value":      string(raw),
		"updated_at": now,
	})).ToSQL()
	if err != nil {
		return fmt.Errorf("build set state query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}

	return nil
}

func (p *Postgres) GetAllState(ctx context.Context) (map[string]any, error) {
	query, _, err := p.goqu.From(p.tableState).
		Select("key", "value").
		Where(goqu.I("namespace").Eq(p.namespace)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get all state query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode state %q: %w", key, err)
		}
		out[key] = value
	}

	return out, rows.Err()
}

func (p *Postgres) Close() {
	_ = p.db.Close()
}
