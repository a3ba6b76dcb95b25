package analysis

import (
	"errors"
	"fmt"
	"time"
)

// Run errors.
var (
	ErrRunNotFound    = errors.New("run not found")
	ErrRunExists      = errors.New("run already exists")
	ErrRunFinished    = errors.New("run already finished")
	ErrInvalidRun     = errors.New("invalid run")
	ErrManagerStopped = errors.New("run manager is shut down")
	// ErrAllStatesFailed ends a run in which no state could be calculated.
	// Stored results are left as they were.
	ErrAllStatesFailed = errors.New("every state failed")
)

// Status represents the current state of a calculation run.
type Status string

const (
	// StatusPending indicates the run has been accepted but not started.
	StatusPending Status = "pending"
	// StatusRunning indicates the engine is evaluating states.
	StatusRunning Status = "running"
	// StatusComplete indicates every state was calculated and results were stored.
	StatusComplete Status = "complete"
	// StatusPartial indicates results were stored but some states failed.
	StatusPartial Status = "partial"
	// StatusError indicates the run failed and no results were stored.
	StatusError Status = "error"
	// StatusCancelled indicates the run was cancelled before storing results.
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusComplete, StatusPartial, StatusError, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusPartial || s == StatusError || s == StatusCancelled
}

// HasResults reports whether a run in this status stored a result set.
func (s Status) HasResults() bool {
	return s == StatusComplete || s == StatusPartial
}

// StateFailure records a state that could not be calculated.
type StateFailure struct {
	State string `json:"state"`
	Error string `json:"error"`
}

// Run represents a single calculation of an analysis.
type Run struct {
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       *string        `json:"error,omitempty"`
	ID          string         `json:"id"`
	AnalysisID  string         `json:"analysis_id"`
	Status      Status         `json:"status"`
	StateErrors []StateFailure `json:"state_errors,omitempty"`
	StatesTotal int            `json:"states_total"`
	StatesDone  int            `json:"states_done"`
}

// Validate ensures the run is well-formed.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidRun)
	}
	if r.AnalysisID == "" {
		return fmt.Errorf("%w: analysis ID is required", ErrInvalidRun)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRun, r.Status)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidRun)
	}
	if r.StatesDone < 0 || r.StatesTotal < 0 || r.StatesDone > r.StatesTotal {
		return fmt.Errorf("%w: progress %d/%d", ErrInvalidRun, r.StatesDone, r.StatesTotal)
	}
	return nil
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration(now time.Time) time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// clone returns a deep copy so stores never share slices with callers.
func (r *Run) clone() *Run {
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.StateErrors != nil {
		c.StateErrors = append([]StateFailure(nil), r.StateErrors...)
	}
	return &c
}
