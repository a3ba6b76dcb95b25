package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/shopspring/decimal"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func testDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Helper function to create a stored analysis.
func createTestAnalysis(t *testing.T, store *SQLiteStorage, id string) *model.Analysis {
	t.Helper()
	analysis := &model.Analysis{
		ID:       id,
		Name:     "Test " + id,
		AsOfDate: testDate(2024, 12, 31),
	}
	if err := store.CreateAnalysis(context.Background(), analysis); err != nil {
		t.Fatalf("Failed to create analysis: %v", err)
	}
	return analysis
}

// Helper function to create test transactions.
func createTestTransactions(analysisID string, count int) []model.Transaction {
	txns := make([]model.Transaction, count)
	states := []string{"CO", "GA", "TX"}

	for i := 0; i < count; i++ {
		txns[i] = model.Transaction{
			AnalysisID:   analysisID,
			ID:           fmt.Sprintf("txn_%d", i+1),
			Date:         testDate(2023, time.Month(i%12+1), i%28+1),
			State:        states[i%len(states)],
			Channel:      model.ChannelDirect,
			GrossAmount:  decimal.NewFromInt(int64(i+1) * 100).Add(decimal.RequireFromString("0.25")),
			ExemptAmount: decimal.Zero,
		}
		if i%4 == 0 {
			txns[i].Channel = model.ChannelMarketplace
		}
	}
	return txns
}

func TestNewSQLiteStorage(t *testing.T) {
	t.Run("creates nested directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "nexus.db")
		store, err := NewSQLiteStorage(dbPath)
		if err != nil {
			t.Fatalf("NewSQLiteStorage() error = %v", err)
		}
		defer func() { _ = store.Close() }()

		if store.DB() == nil {
			t.Error("DB() returned nil")
		}
	})

	t.Run("in-memory database", func(t *testing.T) {
		store, err := NewSQLiteStorage(":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteStorage() error = %v", err)
		}
		defer func() { _ = store.Close() }()

		if err := store.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := NewSQLiteStorage("  "); !errors.Is(err, ErrEmptyString) {
			t.Errorf("NewSQLiteStorage() error = %v, want %v", err, ErrEmptyString)
		}
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, ExpectedSchemaVersion)
	}

	for _, table := range []string{"analyses", "transactions", "physical_facts", "state_year_results", "state_summaries", "analysis_summaries", "runs"} {
		var count int
		err := store.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s was not created", table)
		}
	}
}

func TestAnalyses(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	analysis := &model.Analysis{
		ID:       "a-1",
		Name:     "Acme",
		AsOfDate: testDate(2024, 12, 31),
		VDADate:  testDate(2025, 3, 1),
	}
	if err := store.CreateAnalysis(ctx, analysis); err != nil {
		t.Fatalf("CreateAnalysis() error = %v", err)
	}
	if analysis.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}

	got, err := store.GetAnalysis(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if got.Name != "Acme" || !got.AsOfDate.Equal(analysis.AsOfDate) || !got.VDADate.Equal(analysis.VDADate) {
		t.Errorf("GetAnalysis() = %+v, want %+v", got, analysis)
	}

	if err := store.CreateAnalysis(ctx, analysis); !errors.Is(err, common.ErrDuplicateEntry) {
		t.Errorf("duplicate CreateAnalysis() error = %v, want %v", err, common.ErrDuplicateEntry)
	}

	if _, err := store.GetAnalysis(ctx, "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetAnalysis(missing) error = %v, want %v", err, common.ErrNotFound)
	}

	if err := store.UpdateAnalysisDates(ctx, "a-1", testDate(2025, 6, 30), time.Time{}); err != nil {
		t.Fatalf("UpdateAnalysisDates() error = %v", err)
	}
	got, err = store.GetAnalysis(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if !got.AsOfDate.Equal(testDate(2025, 6, 30)) || !got.VDADate.IsZero() {
		t.Errorf("dates after update = %v / %v", got.AsOfDate, got.VDADate)
	}

	createTestAnalysis(t, store, "a-2")
	all, err := store.ListAnalyses(ctx)
	if err != nil {
		t.Fatalf("ListAnalyses() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListAnalyses() returned %d analyses, want 2", len(all))
	}
}

func TestAnalyses_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		analysis *model.Analysis
		wantErr  error
		name     string
	}{
		{name: "nil", analysis: nil, wantErr: ErrNilParameter},
		{name: "missing id", analysis: &model.Analysis{Name: "x", AsOfDate: testDate(2024, 1, 1)}, wantErr: ErrInvalidAnalysis},
		{name: "missing name", analysis: &model.Analysis{ID: "x", AsOfDate: testDate(2024, 1, 1)}, wantErr: ErrInvalidAnalysis},
		{name: "missing as-of", analysis: &model.Analysis{ID: "x", Name: "x"}, wantErr: ErrInvalidAnalysis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.CreateAnalysis(ctx, tt.analysis); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateAnalysis() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSQLiteTransaction(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAnalysis(t, store, "a-1")

	t.Run("rollback discards writes", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		if _, err := tx.SaveTransactions(ctx, createTestTransactions("a-1", 3)); err != nil {
			t.Fatalf("SaveTransactions() error = %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}

		count, err := store.GetTransactionCount(ctx, "a-1")
		if err != nil {
			t.Fatalf("GetTransactionCount() error = %v", err)
		}
		if count != 0 {
			t.Errorf("count after rollback = %d, want 0", count)
		}
	})

	t.Run("commit keeps writes", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		if _, err := tx.SaveTransactions(ctx, createTestTransactions("a-1", 3)); err != nil {
			t.Fatalf("SaveTransactions() error = %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}

		count, err := store.GetTransactionCount(ctx, "a-1")
		if err != nil {
			t.Fatalf("GetTransactionCount() error = %v", err)
		}
		if count != 3 {
			t.Errorf("count after commit = %d, want 3", count)
		}
	})

	t.Run("unsupported operations", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.Migrate(ctx); err == nil {
			t.Error("Migrate() inside transaction should fail")
		}
		if _, err := tx.BeginTx(ctx); err == nil {
			t.Error("nested BeginTx() should fail")
		}
		if err := tx.Close(); err == nil {
			t.Error("Close() on transaction should fail")
		}
	})
}
