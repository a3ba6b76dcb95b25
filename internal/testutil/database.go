// Package testutil provides shared test fixtures for the nexus packages.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/service"
	"github.com/Veraticus/nexus-exposure/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database with all migrations
// applied. It is closed when the test finishes.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// Date returns midnight UTC on the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// MustCreateAnalysis stores an analysis evaluated as of asOf or fails the test.
func (db *TestDB) MustCreateAnalysis(id string, asOf time.Time) *model.Analysis {
	db.t.Helper()
	analysis := &model.Analysis{
		ID:       id,
		Name:     "Analysis " + id,
		AsOfDate: asOf,
	}
	if err := db.Storage.CreateAnalysis(context.Background(), analysis); err != nil {
		db.t.Fatalf("failed to create analysis %q: %v", id, err)
	}
	return analysis
}

// Sale builds a direct, fully taxable sale.
func Sale(analysisID, state string, date time.Time, amount string) model.Transaction {
	txn := model.Transaction{
		AnalysisID:   analysisID,
		ID:           fmt.Sprintf("%s-%s-%s", state, date.Format("20060102"), amount),
		Date:         date,
		State:        state,
		Channel:      model.ChannelDirect,
		GrossAmount:  decimal.RequireFromString(amount),
		ExemptAmount: decimal.Zero,
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

// MustSaveTransactions stores transactions or fails the test.
func (db *TestDB) MustSaveTransactions(txns ...model.Transaction) *service.ImportResult {
	db.t.Helper()
	result, err := db.Storage.SaveTransactions(context.Background(), txns)
	if err != nil {
		db.t.Fatalf("failed to save transactions: %v", err)
	}
	return result
}
