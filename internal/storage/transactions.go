package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/service"
	"github.com/shopspring/decimal"
)

// SaveTransactions saves multiple transactions to the database. Transactions
// whose hash already exists for the analysis are skipped and counted as
// duplicates.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) (*service.ImportResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateTransactions(transactions); err != nil {
		return nil, err
	}

	var result *service.ImportResult
	err := s.atomically(ctx, "transactions", func(q queryable) error {
		var err error
		result, err = s.saveTransactionsTx(ctx, q, transactions)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStorage) saveTransactionsTx(ctx context.Context, q queryable, transactions []model.Transaction) (*service.ImportResult, error) {
	stmt, err := q.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (
			analysis_id, id, hash, date, state, channel, gross_amount, exempt_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", mapError(err))
	}
	defer func() { _ = stmt.Close() }()

	result := &service.ImportResult{}
	for _, txn := range transactions {
		// Generate hash if not already set
		if txn.Hash == "" {
			txn.Hash = txn.GenerateHash()
		}

		res, err := stmt.ExecContext(ctx,
			txn.AnalysisID,
			txn.ID,
			txn.Hash,
			formatDate(txn.Date),
			txn.State,
			string(txn.Channel),
			decimalText(txn.GrossAmount),
			decimalText(txn.ExemptAmount),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transaction %s: %w", txn.ID, mapError(err))
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			result.Duplicates++
			continue
		}
		result.Inserted++
	}

	slog.Debug("Saved transactions",
		"inserted", result.Inserted,
		"duplicates", result.Duplicates)

	return result, nil
}

// GetTransactions retrieves an analysis's transactions ordered by date.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, analysisID string, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(analysisID, "analysisID"); err != nil {
		return nil, err
	}
	return s.getTransactionsTx(ctx, s.conn(), analysisID, filter)
}

func (s *SQLiteStorage) getTransactionsTx(ctx context.Context, q queryable, analysisID string, filter service.TransactionFilter) ([]model.Transaction, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, *filter.EndDate, *filter.StartDate)
	}

	var query strings.Builder
	query.WriteString(`
		SELECT analysis_id, id, hash, date, state, channel, gross_amount, exempt_amount
		FROM transactions
		WHERE analysis_id = ?`)
	args := []any{analysisID}

	if filter.State != "" {
		query.WriteString(" AND state = ?")
		args = append(args, filter.State)
	}
	if filter.StartDate != nil {
		query.WriteString(" AND date >= ?")
		args = append(args, formatDate(*filter.StartDate))
	}
	if filter.EndDate != nil {
		query.WriteString(" AND date <= ?")
		args = append(args, formatDate(*filter.EndDate))
	}

	query.WriteString(" ORDER BY date ASC, state ASC, id ASC")

	if filter.Limit > 0 {
		query.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := q.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}

func scanTransaction(rows *sql.Rows) (model.Transaction, error) {
	var (
		txn     model.Transaction
		dateStr string
		channel string
	)
	err := rows.Scan(
		&txn.AnalysisID,
		&txn.ID,
		&txn.Hash,
		&dateStr,
		&txn.State,
		&channel,
		&txn.GrossAmount,
		&txn.ExemptAmount,
	)
	if err != nil {
		return txn, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Channel = model.Channel(channel)
	if txn.Date, err = parseDate(dateStr); err != nil {
		return txn, err
	}
	return txn, nil
}

// GetTransactionCount returns the number of transactions stored for an analysis.
func (s *SQLiteStorage) GetTransactionCount(ctx context.Context, analysisID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.getTransactionCountTx(ctx, s.conn(), analysisID)
}

func (s *SQLiteStorage) getTransactionCountTx(ctx context.Context, q queryable, analysisID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE analysis_id = ?", analysisID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", mapError(err))
	}
	return count, nil
}

// decimalText renders an amount for a TEXT money column.
func decimalText(d decimal.Decimal) string {
	return d.String()
}
