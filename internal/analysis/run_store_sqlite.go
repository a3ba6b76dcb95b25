package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Ensure SQLiteRunStore implements RunStore.
var _ RunStore = (*SQLiteRunStore)(nil)

// SQLiteRunStore persists runs in the runs table created by the storage
// migrations.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore creates a new SQLite-based run store.
func NewSQLiteRunStore(db *sql.DB) *SQLiteRunStore {
	return &SQLiteRunStore{db: db}
}

// Create stores a new run.
func (s *SQLiteRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("%w: run cannot be nil", ErrInvalidRun)
	}
	if err := run.Validate(); err != nil {
		return err
	}

	completedAt, errorStr, stateErrors, err := runColumns(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, analysis_id, status, started_at, completed_at,
			error, state_errors, states_total, states_done
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.AnalysisID,
		string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
		errorStr,
		stateErrors,
		run.StatesTotal,
		run.StatesDone,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	slog.Debug("Created run in database",
		"run_id", run.ID,
		"status", run.Status)

	return nil
}

// Get retrieves a run by ID.
func (s *SQLiteRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: run ID is required", ErrInvalidRun)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, analysis_id, status, started_at, completed_at,
			error, state_errors, states_total, states_done
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Update replaces an existing run.
func (s *SQLiteRunStore) Update(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("%w: run cannot be nil", ErrInvalidRun)
	}
	if err := run.Validate(); err != nil {
		return err
	}

	completedAt, errorStr, stateErrors, err := runColumns(run)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			completed_at = ?,
			error = ?,
			state_errors = ?,
			states_total = ?,
			states_done = ?
		WHERE id = ?
	`,
		string(run.Status),
		completedAt,
		errorStr,
		stateErrors,
		run.StatesTotal,
		run.StatesDone,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	slog.Debug("Updated run in database",
		"run_id", run.ID,
		"status", run.Status,
		"states_done", run.StatesDone)

	return nil
}

// ListByAnalysis returns an analysis's runs, newest first.
func (s *SQLiteRunStore) ListByAnalysis(ctx context.Context, analysisID string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, analysis_id, status, started_at, completed_at,
			error, state_errors, states_total, states_done
		FROM runs
		WHERE analysis_id = ?
		ORDER BY started_at DESC, id
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func runColumns(run *Run) (completedAt, errorStr, stateErrors sql.NullString, err error) {
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if run.Error != nil {
		errorStr = sql.NullString{String: *run.Error, Valid: true}
	}
	if len(run.StateErrors) > 0 {
		data, marshalErr := json.Marshal(run.StateErrors)
		if marshalErr != nil {
			return completedAt, errorStr, stateErrors, fmt.Errorf("failed to marshal state errors: %w", marshalErr)
		}
		stateErrors = sql.NullString{String: string(data), Valid: true}
	}
	return completedAt, errorStr, stateErrors, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                                 Run
		status, startedAtStr                string
		completedAtStr, errorStr, stateErrs sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.AnalysisID,
		&status,
		&startedAtStr,
		&completedAtStr,
		&errorStr,
		&stateErrs,
		&run.StatesTotal,
		&run.StatesDone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = Status(status)

	// Parse timestamps
	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if completedAtStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		run.CompletedAt = &t
	}

	if errorStr.Valid {
		run.Error = &errorStr.String
	}
	if stateErrs.Valid && stateErrs.String != "" {
		if err := json.Unmarshal([]byte(stateErrs.String), &run.StateErrors); err != nil {
			slog.Warn("Failed to parse run state errors", "run_id", run.ID, "error", err)
		}
	}
	return &run, nil
}
