package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

// Dates are stored as 2006-01-02 text, timestamps as RFC3339 and money as
// decimal strings so amounts round-trip without float drift.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS analyses (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					as_of_date TEXT NOT NULL,
					vda_date TEXT,
					created_at TEXT NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
					id TEXT NOT NULL,
					hash TEXT NOT NULL,
					date TEXT NOT NULL,
					state TEXT NOT NULL,
					channel TEXT NOT NULL,
					gross_amount TEXT NOT NULL,
					exempt_amount TEXT NOT NULL DEFAULT '0',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (analysis_id, id),
					UNIQUE (analysis_id, hash)
				)`,
				`CREATE INDEX idx_transactions_state_date ON transactions(analysis_id, state, date)`,

				`CREATE TABLE IF NOT EXISTS physical_facts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
					state TEXT NOT NULL,
					established_date TEXT NOT NULL,
					ended_date TEXT,
					description TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_physical_facts_analysis ON physical_facts(analysis_id, state)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add result tables",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS state_year_results (
					analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
					state TEXT NOT NULL,
					year INTEGER NOT NULL,
					nexus_type TEXT NOT NULL,
					nexus_date TEXT,
					obligation_start_date TEXT,
					first_nexus_year INTEGER,
					gross_sales TEXT NOT NULL,
					exempt_sales TEXT NOT NULL,
					taxable_sales TEXT NOT NULL,
					direct_sales TEXT NOT NULL,
					marketplace_sales TEXT NOT NULL,
					transaction_count INTEGER NOT NULL,
					exposure_sales TEXT NOT NULL,
					base_tax TEXT NOT NULL,
					interest TEXT NOT NULL,
					penalties TEXT NOT NULL,
					estimated_liability TEXT NOT NULL,
					vda_exposure_sales TEXT NOT NULL,
					vda_base_tax TEXT NOT NULL,
					vda_interest TEXT NOT NULL,
					vda_penalties TEXT NOT NULL,
					vda_liability TEXT NOT NULL,
					vda_savings TEXT NOT NULL,
					PRIMARY KEY (analysis_id, state, year)
				)`,

				`CREATE TABLE IF NOT EXISTS state_summaries (
					analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
					state TEXT NOT NULL,
					nexus_type TEXT NOT NULL,
					first_nexus_year INTEGER,
					years_with_nexus INTEGER NOT NULL,
					gross_sales TEXT NOT NULL,
					exempt_sales TEXT NOT NULL,
					taxable_sales TEXT NOT NULL,
					direct_sales TEXT NOT NULL,
					marketplace_sales TEXT NOT NULL,
					transaction_count INTEGER NOT NULL,
					exposure_sales TEXT NOT NULL,
					base_tax TEXT NOT NULL,
					interest TEXT NOT NULL,
					penalties TEXT NOT NULL,
					estimated_liability TEXT NOT NULL,
					vda_exposure_sales TEXT NOT NULL,
					vda_base_tax TEXT NOT NULL,
					vda_interest TEXT NOT NULL,
					vda_penalties TEXT NOT NULL,
					vda_liability TEXT NOT NULL,
					PRIMARY KEY (analysis_id, state)
				)`,

				`CREATE TABLE IF NOT EXISTS analysis_summaries (
					analysis_id TEXT PRIMARY KEY REFERENCES analyses(id) ON DELETE CASCADE,
					computed_at TEXT NOT NULL,
					states_analyzed INTEGER NOT NULL,
					states_with_nexus INTEGER NOT NULL,
					gross_sales TEXT NOT NULL,
					exposure_sales TEXT NOT NULL,
					base_tax TEXT NOT NULL,
					interest TEXT NOT NULL,
					penalties TEXT NOT NULL,
					total_liability TEXT NOT NULL,
					vda_liability TEXT NOT NULL,
					vda_savings TEXT NOT NULL
				)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add calculation runs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
					status TEXT NOT NULL,
					started_at TEXT NOT NULL,
					completed_at TEXT,
					error TEXT,
					state_errors TEXT,
					states_total INTEGER NOT NULL DEFAULT 0,
					states_done INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX idx_runs_analysis ON runs(analysis_id, started_at)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
