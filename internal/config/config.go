package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Gateway configures the tool gateway the engine posts tool
	// invocations to.
	Gateway Gateway `cfg:"gateway"`

	// Handler configures the JS handler sandbox.
	Handler Handler `cfg:"handler"`

	// State selects and configures the durable state backend.
	State State `cfg:"state"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// Gateway configures the tool gateway client. Tools are invoked at
// POST <base_url>/tool/<identifier>/use with the x-api-key header.
type Gateway struct {
	BaseURL string `cfg:"base_url"`
	APIKey  string `cfg:"api_key" log:"-"`

	// Timeout bounds a single tool invocation, e.g. "30s" or "2m".
	Timeout string `cfg:"timeout" default:"30s"`
}

// TimeoutDuration parses the configured gateway timeout.
func (g Gateway) TimeoutDuration() (time.Duration, error) {
	return str2duration.ParseDuration(g.Timeout)
}

// Handler configures user handler execution.
type Handler struct {
	// Timeout bounds one handler invocation wall-clock, e.g. "60s".
	Timeout string `cfg:"timeout" default:"60s"`
}

// TimeoutDuration parses the configured handler timeout.
func (h Handler) TimeoutDuration() (time.Duration, error) {
	return str2duration.ParseDuration(h.Timeout)
}

// State selects the backend for per-workflow persistent state. Redis wins
// over postgres over sqlite when several are configured. With none set,
// the caller falls back to an in-memory store that does not survive the
// process.
type State struct {
	// Namespace scopes all keys of this deployment; workflows sharing a
	// namespace share state.
	Namespace string `cfg:"namespace" default:"default"`

	Redis    *StateRedis    `cfg:"redis"`
	Postgres *StatePostgres `cfg:"postgres"`
	SQLite   *StateSQLite   `cfg:"sqlite"`
}

type StateRedis struct {
	Address  string `cfg:"address"`
	Username string `cfg:"username"`
	Password string `cfg:"password" log:"-"`
	DB       int    `cfg:"db"`
}

type StatePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StateSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

// Migrate configures the state-table migration step, which runs on the
// backend's own connection during startup.
type Migrate struct {
	Table  string            `cfg:"table"`
	Values map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("RXFLOW_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
