// Package sqlite3 backs workflow state with a local sqlite database.
package sqlite3

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

	_ "modernc.org/sqlite"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
)

var DefaultTablePrefix = "rxflow_"

type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableState exp.IdentifierExpression
	namespace  string
}

func New(ctx context.Context, cfg *config.StateSQLite, namespace string) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("sqlite state: open: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite state: ping: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite state: set WAL mode: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrateDB(ctx, db, migrateTable(cfg.Migrate, tablePrefix), migrateValues(cfg.Migrate, tablePrefix)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite state: migrate: %w", err)
	}

	slog.Info("using sqlite state store", "datasource", cfg.Datasource, "namespace", namespace)

	return &SQLite{
		db:         db,
		goqu:       goqu.New("sqlite3", db),
		tableState: goqu.T(tablePrefix + "state"),
		namespace:  namespace,
	}, nil
}

func (s *SQLite) GetState(ctx context.Context, key string) (any, error) {
	query, _, err := s.goqu.From(s.tableState).
		Select("value").
		Where(goqu.I("namespace").Eq(s.namespace), goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get state query: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query).Scan(&raw)
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

func (s *SQLite) SetState(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}

	now := types.NewTime(time.Now().UTC())

	query, _, err := s.goqu.Insert(s.tableState).Rows(
		goqu.Record{
			"namespace":  s.namespace,
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

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}

	return nil
}

func (s *SQLite) GetAllState(ctx context.Context) (map[string]any, error) {
	query, _, err := s.goqu.From(s.tableState).
		Select("key", "value").
		Where(goqu.I("namespace").Eq(s.namespace)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get all state query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
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

func (s *SQLite) Close() {
	_ = s.db.Close()
}
