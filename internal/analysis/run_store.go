package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRunStore implements RunStore using in-memory storage. Finished runs
// are dropped after maxAge.
type MemoryRunStore struct {
	runs            map[string]*Run
	stopCh          chan struct{}
	cleanupInterval time.Duration
	maxAge          time.Duration
	mu              sync.RWMutex
	stopOnce        sync.Once
}

// NewMemoryRunStore creates a new in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	store := &MemoryRunStore{
		runs:            make(map[string]*Run),
		cleanupInterval: 1 * time.Hour,
		maxAge:          24 * time.Hour,
		stopCh:          make(chan struct{}),
	}

	// Start cleanup goroutine
	go store.cleanupLoop()

	return store
}

// Create stores a new run.
func (s *MemoryRunStore) Create(ctx context.Context, run *Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run cannot be nil", ErrInvalidRun)
	}
	if err := run.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}

	// Create a copy to avoid external modifications
	s.runs[run.ID] = run.clone()
	return nil
}

// Get retrieves a run by ID.
func (s *MemoryRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, fmt.Errorf("%w: run ID is required", ErrInvalidRun)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	// Return a copy to avoid external modifications
	return run.clone(), nil
}

// Update replaces an existing run.
func (s *MemoryRunStore) Update(ctx context.Context, run *Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run cannot be nil", ErrInvalidRun)
	}
	if err := run.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	s.runs[run.ID] = run.clone()
	return nil
}

// ListByAnalysis returns an analysis's runs, newest first.
func (s *MemoryRunStore) ListByAnalysis(ctx context.Context, analysisID string) ([]*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if run.AnalysisID == analysisID {
			runs = append(runs, run.clone())
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// cleanupLoop periodically removes old finished runs.
func (s *MemoryRunStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes finished runs that completed before now - maxAge.
func (s *MemoryRunStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.maxAge)
	for id, run := range s.runs {
		if run.Status.IsTerminal() && run.CompletedAt != nil && run.CompletedAt.Before(cutoff) {
			delete(s.runs, id)
		}
	}
}

// validateContext ensures the context is valid.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Stop gracefully shuts down the run store.
func (s *MemoryRunStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
