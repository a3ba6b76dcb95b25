// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	State     string
	Limit     int
	Offset    int
}

// ImportResult reports how many transactions an import stored.
type ImportResult struct {
	Inserted   int
	Duplicates int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Analysis operations
	CreateAnalysis(ctx context.Context, analysis *model.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	ListAnalyses(ctx context.Context) ([]model.Analysis, error)
	UpdateAnalysisDates(ctx context.Context, id string, asOf, vdaDate time.Time) error

	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) (*ImportResult, error)
	GetTransactions(ctx context.Context, analysisID string, filter TransactionFilter) ([]model.Transaction, error)
	GetTransactionCount(ctx context.Context, analysisID string) (int, error)

	// Physical nexus operations
	SavePhysicalFact(ctx context.Context, fact *model.PhysicalNexusFact) error
	GetPhysicalFacts(ctx context.Context, analysisID string) ([]model.PhysicalNexusFact, error)
	DeletePhysicalFact(ctx context.Context, analysisID string, id int64) error

	// Result operations. ReplaceResults discards the analysis's previous
	// result set and writes the new one in a single transaction.
	ReplaceResults(ctx context.Context, analysisID string, results []model.StateYearResult, summary *model.AnalysisSummary) error
	GetResults(ctx context.Context, analysisID string) ([]model.StateYearResult, error)
	GetSummary(ctx context.Context, analysisID string) (*model.AnalysisSummary, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}
