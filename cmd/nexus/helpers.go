package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/nexus-exposure/internal/analysis"
	"github.com/Veraticus/nexus-exposure/internal/config"
	"github.com/Veraticus/nexus-exposure/internal/nexus"
	"github.com/Veraticus/nexus-exposure/internal/rules"
	"github.com/Veraticus/nexus-exposure/internal/storage"
)

const dateLayout = "2006-01-02"

// loadConfig builds the typed configuration from viper.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens the configured database and applies pending migrations.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		closeStorage(store)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func closeStorage(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
}

// loadRules loads the configured rule table, or the embedded one.
func loadRules(cfg *config.Config) (*rules.MemoryRepository, error) {
	repo, err := rules.LoadFile(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Debug("Loaded rule table", "path", cfg.Rules.Path, "states", len(repo.States()))
	return repo, nil
}

// newManager wires the engine and a SQLite-backed run store around store.
func newManager(store *storage.SQLiteStorage, cfg *config.Config, repo rules.Repository) (*analysis.Manager, error) {
	engine, err := nexus.NewEngine(nexus.Deps{Rules: repo}, nexus.Config{
		Workers:           cfg.Engine.Workers,
		VDALookbackMonths: cfg.Engine.VDALookbackMonths,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return analysis.NewManager(analysis.Deps{
		Storage:    store,
		Calculator: engine,
		Runs:       analysis.NewSQLiteRunStore(store.DB()),
	}, analysis.DefaultConfig())
}

// shutdownManager waits briefly for runs to record their final status.
func shutdownManager(manager *analysis.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		slog.Warn("run manager did not shut down cleanly", "error", err)
	}
}

// dateFlag parses a YYYY-MM-DD flag. An unset flag returns the zero time.
func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", name, raw)
	}
	return t, nil
}
