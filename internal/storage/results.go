package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
)

// ReplaceResults discards the previous results of an analysis and stores the
// new rows and summary atomically. Readers never observe a mix of two runs.
func (s *SQLiteStorage) ReplaceResults(ctx context.Context, analysisID string, results []model.StateYearResult, summary *model.AnalysisSummary) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateResults(analysisID, results, summary); err != nil {
		return err
	}

	return s.atomically(ctx, "results", func(q queryable) error {
		return s.replaceResultsTx(ctx, q, analysisID, results, summary)
	})
}

func (s *SQLiteStorage) replaceResultsTx(ctx context.Context, q queryable, analysisID string, results []model.StateYearResult, summary *model.AnalysisSummary) error {
	for _, table := range []string{"state_year_results", "state_summaries", "analysis_summaries"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE analysis_id = ?", analysisID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, mapError(err))
		}
	}

	if err := insertYearResults(ctx, q, results); err != nil {
		return err
	}
	if err := insertStateSummaries(ctx, q, summary.States); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO analysis_summaries (
			analysis_id, computed_at, states_analyzed, states_with_nexus,
			gross_sales, exposure_sales, base_tax, interest, penalties,
			total_liability, vda_liability, vda_savings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		analysisID,
		summary.ComputedAt.UTC().Format(time.RFC3339),
		summary.StatesAnalyzed,
		summary.StatesWithNexus,
		decimalText(summary.GrossSales),
		decimalText(summary.ExposureSales),
		decimalText(summary.BaseTax),
		decimalText(summary.Interest),
		decimalText(summary.Penalties),
		decimalText(summary.TotalLiability),
		decimalText(summary.VDALiability),
		decimalText(summary.VDASavings),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis summary: %w", mapError(err))
	}

	slog.Debug("Replaced analysis results",
		"analysis_id", analysisID,
		"rows", len(results),
		"states", len(summary.States))
	return nil
}

func insertYearResults(ctx context.Context, q queryable, results []model.StateYearResult) error {
	if len(results) == 0 {
		return nil
	}
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO state_year_results (
			analysis_id, state, year, nexus_type, nexus_date, obligation_start_date,
			first_nexus_year, gross_sales, exempt_sales, taxable_sales, direct_sales,
			marketplace_sales, transaction_count, exposure_sales, base_tax, interest,
			penalties, estimated_liability, vda_exposure_sales, vda_base_tax,
			vda_interest, vda_penalties, vda_liability, vda_savings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", mapError(err))
	}
	defer func() { _ = stmt.Close() }()

	for i := range results {
		r := &results[i]
		_, err := stmt.ExecContext(ctx,
			r.AnalysisID,
			r.State,
			r.Year,
			string(r.NexusType),
			nullDate(r.NexusDate),
			nullDate(r.ObligationStartDate),
			nullYear(r.FirstNexusYear),
			decimalText(r.GrossSales),
			decimalText(r.ExemptSales),
			decimalText(r.TaxableSales),
			decimalText(r.DirectSales),
			decimalText(r.MarketplaceSales),
			r.TransactionCount,
			decimalText(r.ExposureSales),
			decimalText(r.BaseTax),
			decimalText(r.Interest),
			decimalText(r.Penalties),
			decimalText(r.Total),
			decimalText(r.VDA.ExposureSales),
			decimalText(r.VDA.BaseTax),
			decimalText(r.VDA.Interest),
			decimalText(r.VDA.Penalties),
			decimalText(r.VDA.Total),
			decimalText(r.VDASavings()),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %s/%d: %w", r.State, r.Year, mapError(err))
		}
	}
	return nil
}

func insertStateSummaries(ctx context.Context, q queryable, states []model.StateSummary) error {
	if len(states) == 0 {
		return nil
	}
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO state_summaries (
			analysis_id, state, nexus_type, first_nexus_year, years_with_nexus,
			gross_sales, exempt_sales, taxable_sales, direct_sales, marketplace_sales,
			transaction_count, exposure_sales, base_tax, interest, penalties,
			estimated_liability, vda_exposure_sales, vda_base_tax, vda_interest,
			vda_penalties, vda_liability
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", mapError(err))
	}
	defer func() { _ = stmt.Close() }()

	for i := range states {
		st := &states[i]
		_, err := stmt.ExecContext(ctx,
			st.AnalysisID,
			st.State,
			string(st.NexusType),
			nullYear(st.FirstNexusYear),
			st.YearsWithNexus,
			decimalText(st.GrossSales),
			decimalText(st.ExemptSales),
			decimalText(st.TaxableSales),
			decimalText(st.DirectSales),
			decimalText(st.MarketplaceSales),
			st.TransactionCount,
			decimalText(st.ExposureSales),
			decimalText(st.BaseTax),
			decimalText(st.Interest),
			decimalText(st.Penalties),
			decimalText(st.Total),
			decimalText(st.VDA.ExposureSales),
			decimalText(st.VDA.BaseTax),
			decimalText(st.VDA.Interest),
			decimalText(st.VDA.Penalties),
			decimalText(st.VDA.Total),
		)
		if err != nil {
			return fmt.Errorf("failed to insert state summary %s: %w", st.State, mapError(err))
		}
	}
	return nil
}

// GetResults returns the stored state-year rows of an analysis ordered by
// state and year.
func (s *SQLiteStorage) GetResults(ctx context.Context, analysisID string) ([]model.StateYearResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getResultsTx(ctx, s.conn(), analysisID)
}

func (s *SQLiteStorage) getResultsTx(ctx context.Context, q queryable, analysisID string) ([]model.StateYearResult, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT analysis_id, state, year, nexus_type, nexus_date, obligation_start_date,
			first_nexus_year, gross_sales, exempt_sales, taxable_sales, direct_sales,
			marketplace_sales, transaction_count, exposure_sales, base_tax, interest,
			penalties, estimated_liability, vda_exposure_sales, vda_base_tax,
			vda_interest, vda_penalties, vda_liability
		FROM state_year_results
		WHERE analysis_id = ?
		ORDER BY state, year
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var results []model.StateYearResult
	for rows.Next() {
		var (
			r                       model.StateYearResult
			nexusType               string
			nexusDate, obligationDt sql.NullString
			firstYear               sql.NullInt64
		)
		err := rows.Scan(
			&r.AnalysisID, &r.State, &r.Year, &nexusType, &nexusDate, &obligationDt,
			&firstYear, &r.GrossSales, &r.ExemptSales, &r.TaxableSales, &r.DirectSales,
			&r.MarketplaceSales, &r.TransactionCount, &r.ExposureSales, &r.BaseTax, &r.Interest,
			&r.Penalties, &r.Total, &r.VDA.ExposureSales, &r.VDA.BaseTax,
			&r.VDA.Interest, &r.VDA.Penalties, &r.VDA.Total,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.NexusType = model.NexusType(nexusType)
		r.FirstNexusYear = int(firstYear.Int64)
		if r.NexusDate, err = parseNullDate(nexusDate); err != nil {
			return nil, err
		}
		if r.ObligationStartDate, err = parseNullDate(obligationDt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetSummary returns the stored summary of an analysis with its per-state rows.
func (s *SQLiteStorage) GetSummary(ctx context.Context, analysisID string) (*model.AnalysisSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getSummaryTx(ctx, s.conn(), analysisID)
}

func (s *SQLiteStorage) getSummaryTx(ctx context.Context, q queryable, analysisID string) (*model.AnalysisSummary, error) {
	summary := model.AnalysisSummary{AnalysisID: analysisID}
	var computedAtStr string

	err := q.QueryRowContext(ctx, `
		SELECT computed_at, states_analyzed, states_with_nexus, gross_sales,
			exposure_sales, base_tax, interest, penalties, total_liability,
			vda_liability, vda_savings
		FROM analysis_summaries
		WHERE analysis_id = ?
	`, analysisID).Scan(
		&computedAtStr, &summary.StatesAnalyzed, &summary.StatesWithNexus, &summary.GrossSales,
		&summary.ExposureSales, &summary.BaseTax, &summary.Interest, &summary.Penalties,
		&summary.TotalLiability, &summary.VDALiability, &summary.VDASavings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary for analysis %s: %w", analysisID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", mapError(err))
	}
	if summary.ComputedAt, err = time.Parse(time.RFC3339, computedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse computed_at: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT analysis_id, state, nexus_type, first_nexus_year, years_with_nexus,
			gross_sales, exempt_sales, taxable_sales, direct_sales, marketplace_sales,
			transaction_count, exposure_sales, base_tax, interest, penalties,
			estimated_liability, vda_exposure_sales, vda_base_tax, vda_interest,
			vda_penalties, vda_liability
		FROM state_summaries
		WHERE analysis_id = ?
		ORDER BY state
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query state summaries: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			st        model.StateSummary
			nexusType string
			firstYear sql.NullInt64
		)
		err := rows.Scan(
			&st.AnalysisID, &st.State, &nexusType, &firstYear, &st.YearsWithNexus,
			&st.GrossSales, &st.ExemptSales, &st.TaxableSales, &st.DirectSales, &st.MarketplaceSales,
			&st.TransactionCount, &st.ExposureSales, &st.BaseTax, &st.Interest, &st.Penalties,
			&st.Total, &st.VDA.ExposureSales, &st.VDA.BaseTax, &st.VDA.Interest,
			&st.VDA.Penalties, &st.VDA.Total,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state summary: %w", err)
		}
		st.NexusType = model.NexusType(nexusType)
		st.FirstNexusYear = int(firstYear.Int64)
		summary.States = append(summary.States, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state summaries: %w", err)
	}
	return &summary, nil
}

func nullYear(year int) sql.NullInt64 {
	if year == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(year), Valid: true}
}
