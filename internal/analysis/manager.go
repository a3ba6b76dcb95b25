package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/nexus"
	"github.com/Veraticus/nexus-exposure/internal/service"
	"github.com/google/uuid"
)

// Submit starts a background calculation of an analysis and returns the
// pending run. The run outlives ctx; use Cancel to stop it.
func (m *Manager) Submit(ctx context.Context, analysisID string) (*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	analysis, err := m.deps.Storage.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}

	run := &Run{
		ID:         uuid.New().String(),
		AnalysisID: analysis.ID,
		Status:     StatusPending,
		StartedAt:  m.cfg.Now().UTC(),
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrManagerStopped
	}
	if err := m.deps.Runs.Create(ctx, run); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	runCtx, cancel := context.WithCancel(m.baseCtx)
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	m.active[run.ID] = ar
	m.wg.Add(1)
	m.mu.Unlock()

	slog.Info("Submitted run",
		"run_id", run.ID,
		"analysis_id", run.AnalysisID)

	submitted := run.clone()
	go m.execute(runCtx, ar, run, analysis)
	return submitted, nil
}

// Get returns the current state of a run.
func (m *Manager) Get(ctx context.Context, runID string) (*Run, error) {
	return m.deps.Runs.Get(ctx, runID)
}

// List returns an analysis's runs, newest first.
func (m *Manager) List(ctx context.Context, analysisID string) ([]*Run, error) {
	return m.deps.Runs.ListByAnalysis(ctx, analysisID)
}

// Cancel stops an in-flight run. Cancelling a finished run returns
// ErrRunFinished.
func (m *Manager) Cancel(ctx context.Context, runID string) error {
	m.mu.Lock()
	ar, ok := m.active[runID]
	m.mu.Unlock()
	if ok {
		ar.cancel()
		slog.Info("Cancelling run", "run_id", runID)
		return nil
	}

	run, err := m.deps.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrRunFinished, run.Status)
	}

	// Left unfinished by an earlier process.
	now := m.cfg.Now().UTC()
	run.Status = StatusCancelled
	run.CompletedAt = &now
	return m.deps.Runs.Update(ctx, run)
}

// Wait blocks until the run finishes or ctx is done, then returns the run.
func (m *Manager) Wait(ctx context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	ar, ok := m.active[runID]
	m.mu.Unlock()
	if ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.deps.Runs.Get(ctx, runID)
}

// Shutdown cancels every in-flight run and waits for them to record their
// final status.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) execute(ctx context.Context, ar *activeRun, run *Run, analysis *model.Analysis) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.active, run.ID)
		m.mu.Unlock()
		ar.cancel()
		close(ar.done)
	}()

	// Status writes must land even after the run context is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	run.Status = StatusRunning
	m.saveRun(storeCtx, run)

	in, err := m.loadInput(ctx, analysis)
	if err != nil {
		m.finishRun(storeCtx, run, err)
		return
	}

	progress := func(state string, done, total int) {
		run.StatesDone = done
		run.StatesTotal = total
		m.saveRun(storeCtx, run)
		slog.Debug("State calculated",
			"run_id", run.ID,
			"state", state,
			"done", done,
			"total", total)
	}

	out, err := m.deps.Calculator.Calculate(ctx, in, progress)
	if err != nil {
		m.finishRun(storeCtx, run, fmt.Errorf("calculation failed: %w", err))
		return
	}
	if ctx.Err() != nil {
		m.finishRun(storeCtx, run, ctx.Err())
		return
	}

	failed := make([]string, 0, len(out.StateErrors))
	for _, se := range out.StateErrors {
		run.StateErrors = append(run.StateErrors, StateFailure{State: se.State, Error: se.Err.Error()})
		failed = append(failed, se.State)
	}
	if out.Failed() {
		m.finishRun(storeCtx, run, fmt.Errorf("%w: %s", ErrAllStatesFailed, strings.Join(failed, ", ")))
		return
	}

	out.Summary.ComputedAt = m.cfg.Now().UTC()
	persist := func() error {
		return m.deps.Storage.ReplaceResults(ctx, analysis.ID, out.Results, &out.Summary)
	}
	if err := common.WithRetry(ctx, persist, m.cfg.Retry); err != nil {
		m.finishRun(storeCtx, run, fmt.Errorf("failed to save results: %w", err))
		return
	}
	m.finishRun(storeCtx, run, nil)
}

func (m *Manager) loadInput(ctx context.Context, analysis *model.Analysis) (nexus.Input, error) {
	txns, err := m.deps.Storage.GetTransactions(ctx, analysis.ID, service.TransactionFilter{})
	if err != nil {
		return nexus.Input{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	facts, err := m.deps.Storage.GetPhysicalFacts(ctx, analysis.ID)
	if err != nil {
		return nexus.Input{}, fmt.Errorf("failed to load physical facts: %w", err)
	}
	if len(txns) == 0 && len(facts) == 0 {
		return nexus.Input{}, common.ErrNoTransactions
	}
	return nexus.Input{
		Analysis:     *analysis,
		Transactions: txns,
		Physical:     facts,
	}, nil
}

// finishRun records the terminal status of a run. A nil err means results
// were stored.
func (m *Manager) finishRun(ctx context.Context, run *Run, err error) {
	now := m.cfg.Now().UTC()
	run.CompletedAt = &now

	switch {
	case err == nil && len(run.StateErrors) > 0:
		run.Status = StatusPartial
	case err == nil:
		run.Status = StatusComplete
	case errors.Is(err, context.Canceled):
		run.Status = StatusCancelled
		msg := context.Canceled.Error()
		run.Error = &msg
	default:
		run.Status = StatusError
		msg := err.Error()
		run.Error = &msg
	}

	m.saveRun(ctx, run)

	fields := common.Fields{
		"run_id":      run.ID,
		"analysis_id": run.AnalysisID,
		"status":      string(run.Status),
		"states":      run.StatesTotal,
		"duration":    run.Duration(now).String(),
	}
	switch run.Status {
	case StatusError:
		common.LogError(err, "Run failed", fields)
	case StatusPartial:
		for _, failure := range run.StateErrors {
			slog.Warn("State calculation failed",
				"run_id", run.ID,
				"state", failure.State,
				"error", failure.Error)
		}
		common.LogInfo("Run finished with failed states", fields)
	default:
		common.LogInfo("Run finished", fields)
	}
}

func (m *Manager) saveRun(ctx context.Context, run *Run) {
	if err := m.deps.Runs.Update(ctx, run); err != nil {
		slog.Warn("Failed to update run", "run_id", run.ID, "error", err)
	}
}
