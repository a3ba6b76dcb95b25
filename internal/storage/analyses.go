package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
)

// CreateAnalysis stores a new analysis record.
func (s *SQLiteStorage) CreateAnalysis(ctx context.Context, analysis *model.Analysis) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAnalysis(analysis); err != nil {
		return err
	}
	return s.createAnalysisTx(ctx, s.conn(), analysis)
}

func (s *SQLiteStorage) createAnalysisTx(ctx context.Context, q queryable, analysis *model.Analysis) error {
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}

	vdaDate := nullDate(&analysis.VDADate)
	_, err := q.ExecContext(ctx, `
		INSERT INTO analyses (id, name, as_of_date, vda_date, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, analysis.ID, analysis.Name, formatDate(analysis.AsOfDate), vdaDate, analysis.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: analysis %s", common.ErrDuplicateEntry, analysis.ID)
		}
		return fmt.Errorf("failed to create analysis: %w", mapError(err))
	}
	return nil
}

// GetAnalysis retrieves an analysis by ID.
func (s *SQLiteStorage) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getAnalysisTx(ctx, s.conn(), id)
}

func (s *SQLiteStorage) getAnalysisTx(ctx context.Context, q queryable, id string) (*model.Analysis, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, as_of_date, vda_date, created_at
		FROM analyses
		WHERE id = ?
	`, id)

	analysis, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// ListAnalyses returns every analysis, newest first.
func (s *SQLiteStorage) ListAnalyses(ctx context.Context) ([]model.Analysis, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listAnalysesTx(ctx, s.conn())
}

func (s *SQLiteStorage) listAnalysesTx(ctx context.Context, q queryable) ([]model.Analysis, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, as_of_date, vda_date, created_at
		FROM analyses
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var analyses []model.Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *analysis)
	}
	return analyses, rows.Err()
}

// UpdateAnalysisDates changes the as-of and VDA dates of an analysis. A zero
// vdaDate clears it.
func (s *SQLiteStorage) UpdateAnalysisDates(ctx context.Context, id string, asOf, vdaDate time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.updateAnalysisDatesTx(ctx, s.conn(), id, asOf, vdaDate)
}

func (s *SQLiteStorage) updateAnalysisDatesTx(ctx context.Context, q queryable, id string, asOf, vdaDate time.Time) error {
	if asOf.IsZero() {
		return fmt.Errorf("%w: missing as-of date", ErrInvalidAnalysis)
	}
	result, err := q.ExecContext(ctx, `
		UPDATE analyses SET as_of_date = ?, vda_date = ? WHERE id = ?
	`, formatDate(asOf), nullDate(&vdaDate), id)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("analysis %s: %w", id, common.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*model.Analysis, error) {
	var (
		analysis              model.Analysis
		asOfStr, createdAtStr string
		vdaStr                sql.NullString
	)
	if err := row.Scan(&analysis.ID, &analysis.Name, &asOfStr, &vdaStr, &createdAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}

	var err error
	if analysis.AsOfDate, err = parseDate(asOfStr); err != nil {
		return nil, err
	}
	vda, err := parseNullDate(vdaStr)
	if err != nil {
		return nil, err
	}
	if vda != nil {
		analysis.VDADate = *vda
	}
	if analysis.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &analysis, nil
}
