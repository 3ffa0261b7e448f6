package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/adapters"
	"github.com/ledgerkit/ledgerkit/adapters/memory"
	"github.com/ledgerkit/ledgerkit/adapters/postgres"
	"github.com/ledgerkit/ledgerkit/cli/config"
)

// LedgerAdapter combines the storage interfaces CLI commands need.
type LedgerAdapter interface {
	adapters.EventLogAdapter
	adapters.SnapshotAdapter
	adapters.CheckpointAdapter
	adapters.HealthChecker
}

// Backend bundles the storage layer selected by the configuration.
type Backend struct {
	Adapter    LedgerAdapter
	ReadModels ledgerkit.ReadModelStore
	Config     *config.Config

	// Set for the postgres driver only.
	Postgres           *postgres.PostgresAdapter
	PostgresReadModels *postgres.ReadModelStore
}

// Close releases backend resources.
func (b *Backend) Close() {
	if b.Postgres != nil {
		_ = b.Postgres.Close()
		return
	}
	if closer, ok := b.Adapter.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// NewBackend creates the storage backend for the configured driver. For
// PostgreSQL it validates the connection with a short timeout to fail fast
// on invalid URLs.
func NewBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	ctx = ensureContext(ctx)

	switch cfg.Database.Driver {
	case "postgres", "postgresql":
		dbURL := resolveDatabaseURL(cfg)
		if dbURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
		}

		adapter, err := postgres.NewAdapter(dbURL,
			postgres.WithSchema(cfg.Database.Schema),
			postgres.WithMaxConnections(cfg.Database.MaxConnections),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres adapter: %w", err)
		}

		// Ping the database with a timeout to validate connection
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		readModels := postgres.NewReadModelStore(adapter.DB(),
			postgres.WithReadModelSchema(cfg.Database.Schema),
		)

		return &Backend{
			Adapter:            adapter,
			ReadModels:         readModels,
			Config:             cfg,
			Postgres:           adapter,
			PostgresReadModels: readModels,
		}, nil

	case "memory":
		return &Backend{
			Adapter:    memory.NewAdapter(),
			ReadModels: memory.NewReadModelStore(),
			Config:     cfg,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// resolveDatabaseURL expands environment references in the configured URL.
func resolveDatabaseURL(cfg *config.Config) string {
	dbURL := os.ExpandEnv(cfg.Database.URL)
	if dbURL == "${DATABASE_URL}" {
		return ""
	}
	return dbURL
}

// ensureContext returns the provided context or a background context if nil.
func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// loadConfig is a helper that loads config from the current working directory.
// Returns (config, cwd, error).
func loadConfig() (*config.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}

	_, cfg, err := config.FindConfig(cwd)
	if err != nil {
		return nil, cwd, err
	}

	return cfg, cwd, nil
}

// loadConfigOrDefault is like loadConfig but returns defaults if no config found.
// Returns (config, cwd, error) - error only for os.Getwd failures.
func loadConfigOrDefault() (*config.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}

	_, cfg, err := config.FindConfig(cwd)
	if err != nil {
		return config.DefaultConfig(), cwd, nil
	}

	return cfg, cwd, nil
}

// getBackend loads config and creates a backend with a cleanup function.
func getBackend(ctx context.Context) (*Backend, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("no ledgerd.yaml found: %w", err)
	}

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	return backend, backend.Close, nil
}
