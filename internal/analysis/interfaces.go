package analysis

import (
	"context"

	"github.com/Veraticus/nexus-exposure/internal/nexus"
)

// RunStore manages calculation run persistence.
type RunStore interface {
	// Create stores a new run.
	Create(ctx context.Context, run *Run) error
	// Get retrieves a run by ID.
	Get(ctx context.Context, runID string) (*Run, error)
	// Update replaces an existing run.
	Update(ctx context.Context, run *Run) error
	// ListByAnalysis returns an analysis's runs, newest first.
	ListByAnalysis(ctx context.Context, analysisID string) ([]*Run, error)
}

// Calculator evaluates an analysis's working set.
type Calculator interface {
	Calculate(ctx context.Context, in nexus.Input, progress nexus.ProgressFunc) (*nexus.Output, error)
}
