package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/nexus"
	"github.com/Veraticus/nexus-exposure/internal/rules"
	"github.com/Veraticus/nexus-exposure/internal/testutil"
)

type calculateFunc func(ctx context.Context, in nexus.Input, progress nexus.ProgressFunc) (*nexus.Output, error)

type fakeCalculator struct {
	fn    calculateFunc
	calls atomic.Int32
}

func (f *fakeCalculator) Calculate(ctx context.Context, in nexus.Input, progress nexus.ProgressFunc) (*nexus.Output, error) {
	f.calls.Add(1)
	return f.fn(ctx, in, progress)
}

func outputFor(analysisID string, states ...string) *nexus.Output {
	var results []model.StateYearResult
	for _, state := range states {
		results = append(results, model.StateYearResult{
			AnalysisID: analysisID,
			State:      state,
			Year:       2024,
			NexusType:  model.NexusNone,
		})
	}
	return &nexus.Output{
		Results:          results,
		Summary:          nexus.Aggregate(analysisID, results),
		StatesCalculated: len(states),
	}
}

type managerFixture struct {
	db      *testutil.TestDB
	manager *Manager
}

func newManagerFixture(t *testing.T, calc Calculator) *managerFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)

	manager, err := NewManager(Deps{
		Storage:    db.Storage,
		Calculator: calc,
		Runs:       NewSQLiteRunStore(db.Storage.DB()),
	}, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})

	return &managerFixture{db: db, manager: manager}
}

func (f *managerFixture) seed(t *testing.T, analysisID string) {
	t.Helper()
	f.db.MustCreateAnalysis(analysisID, testutil.Date(2024, 12, 31))
	f.db.MustSaveTransactions(
		testutil.Sale(analysisID, "CO", testutil.Date(2023, 3, 10), "60000"),
		testutil.Sale(analysisID, "CO", testutil.Date(2023, 8, 14), "50000"),
		testutil.Sale(analysisID, "CO", testutil.Date(2024, 2, 1), "20000"),
		testutil.Sale(analysisID, "GA", testutil.Date(2024, 5, 1), "1000"),
	)
}

func (f *managerFixture) submitAndWait(t *testing.T, analysisID string) *Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := f.manager.Submit(ctx, analysisID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, run.Status)

	finished, err := f.manager.Wait(ctx, run.ID)
	require.NoError(t, err)
	return finished
}

func TestManager_CompleteRunWithEngine(t *testing.T) {
	repo, err := rules.Default()
	require.NoError(t, err)
	engine, err := nexus.NewEngine(nexus.Deps{Rules: repo}, nexus.Config{Workers: 2})
	require.NoError(t, err)

	f := newManagerFixture(t, engine)
	f.seed(t, "a-1")

	run := f.submitAndWait(t, "a-1")
	assert.Equal(t, StatusComplete, run.Status)
	assert.Nil(t, run.Error)
	assert.Equal(t, 2, run.StatesTotal)
	assert.Equal(t, 2, run.StatesDone)
	require.NotNil(t, run.CompletedAt)

	ctx := context.Background()
	results, err := f.db.Storage.GetResults(ctx, "a-1")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var colorado2023 *model.StateYearResult
	for i := range results {
		if results[i].State == "CO" && results[i].Year == 2023 {
			colorado2023 = &results[i]
		}
	}
	require.NotNil(t, colorado2023)
	assert.Equal(t, model.NexusEconomic, colorado2023.NexusType)

	summary, err := f.db.Storage.GetSummary(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.StatesAnalyzed)
	assert.Equal(t, 1, summary.StatesWithNexus)

	// Recalculating the same inputs reproduces the same rows.
	again := f.submitAndWait(t, "a-1")
	assert.Equal(t, StatusComplete, again.Status)
	rerun, err := f.db.Storage.GetResults(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, results, rerun)
}

func TestManager_PartialRun(t *testing.T) {
	calc := &fakeCalculator{fn: func(_ context.Context, in nexus.Input, progress nexus.ProgressFunc) (*nexus.Output, error) {
		progress("CO", 1, 2)
		progress("GA", 2, 2)
		out := outputFor(in.Analysis.ID, "CO")
		out.StateErrors = []nexus.StateError{{State: "GA", Err: errors.New("no rate rule")}}
		return out, nil
	}}
	f := newManagerFixture(t, calc)
	f.seed(t, "a-1")

	run := f.submitAndWait(t, "a-1")
	assert.Equal(t, StatusPartial, run.Status)
	assert.Equal(t, []StateFailure{{State: "GA", Error: "no rate rule"}}, run.StateErrors)
	assert.Equal(t, 2, run.StatesDone)

	results, err := f.db.Storage.GetResults(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestManager_FailedRunStoresNothing(t *testing.T) {
	calc := &fakeCalculator{fn: func(context.Context, nexus.Input, nexus.ProgressFunc) (*nexus.Output, error) {
		return nil, nexus.ErrCalculationFailed
	}}
	f := newManagerFixture(t, calc)
	f.seed(t, "a-1")

	run := f.submitAndWait(t, "a-1")
	assert.Equal(t, StatusError, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "calculation failed")

	_, err := f.db.Storage.GetSummary(context.Background(), "a-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestManager_EveryStateFailedKeepsPreviousResults(t *testing.T) {
	var fail atomic.Bool
	calc := &fakeCalculator{fn: func(_ context.Context, in nexus.Input, _ nexus.ProgressFunc) (*nexus.Output, error) {
		if !fail.Load() {
			return outputFor(in.Analysis.ID, "CO", "GA"), nil
		}
		out := outputFor(in.Analysis.ID)
		out.StateErrors = []nexus.StateError{
			{State: "CO", Err: errors.New("no threshold rule")},
			{State: "GA", Err: errors.New("no threshold rule")},
		}
		return out, nil
	}}
	f := newManagerFixture(t, calc)
	f.seed(t, "a-1")

	require.Equal(t, StatusComplete, f.submitAndWait(t, "a-1").Status)
	fail.Store(true)

	run := f.submitAndWait(t, "a-1")
	assert.Equal(t, StatusError, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, ErrAllStatesFailed.Error())
	assert.Contains(t, *run.Error, "CO, GA")
	assert.Len(t, run.StateErrors, 2)

	results, err := f.db.Storage.GetResults(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestManager_StampsComputedAt(t *testing.T) {
	calc := &fakeCalculator{fn: func(_ context.Context, in nexus.Input, _ nexus.ProgressFunc) (*nexus.Output, error) {
		return outputFor(in.Analysis.ID, "CO"), nil
	}}
	db := testutil.SetupTestDB(t)
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return fixed }

	manager, err := NewManager(Deps{
		Storage:    db.Storage,
		Calculator: calc,
		Runs:       NewSQLiteRunStore(db.Storage.DB()),
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	f := &managerFixture{db: db, manager: manager}
	f.seed(t, "a-1")
	require.Equal(t, StatusComplete, f.submitAndWait(t, "a-1").Status)

	summary, err := db.Storage.GetSummary(context.Background(), "a-1")
	require.NoError(t, err)
	assert.True(t, summary.ComputedAt.Equal(fixed), "computed at %v", summary.ComputedAt)
}

func TestManager_FailedRunKeepsPreviousResults(t *testing.T) {
	var fail atomic.Bool
	calc := &fakeCalculator{fn: func(_ context.Context, in nexus.Input, _ nexus.ProgressFunc) (*nexus.Output, error) {
		if fail.Load() {
			return nil, errors.New("boom")
		}
		return outputFor(in.Analysis.ID, "CO", "GA"), nil
	}}
	f := newManagerFixture(t, calc)
	f.seed(t, "a-1")

	require.Equal(t, StatusComplete, f.submitAndWait(t, "a-1").Status)
	fail.Store(true)
	require.Equal(t, StatusError, f.submitAndWait(t, "a-1").Status)

	results, err := f.db.Storage.GetResults(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestManager_Cancel(t *testing.T) {
	started := make(chan struct{})
	calc := &fakeCalculator{fn: func(ctx context.Context, _ nexus.Input, _ nexus.ProgressFunc) (*nexus.Output, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := newManagerFixture(t, calc)
	f.seed(t, "a-1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := f.manager.Submit(ctx, "a-1")
	require.NoError(t, err)

	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("calculation never started")
	}

	require.NoError(t, f.manager.Cancel(ctx, run.ID))

	finished, err := f.manager.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, finished.Status)

	_, err = f.db.Storage.GetSummary(ctx, "a-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.ErrorIs(t, f.manager.Cancel(ctx, run.ID), ErrRunFinished)
}

func TestManager_CancelOrphanedRun(t *testing.T) {
	f := newManagerFixture(t, &fakeCalculator{})
	f.db.MustCreateAnalysis("a-1", testutil.Date(2024, 12, 31))
	ctx := context.Background()

	orphan := newRun("orphan", "a-1", time.Now().UTC())
	orphan.Status = StatusRunning
	require.NoError(t, f.manager.deps.Runs.Create(ctx, orphan))

	require.NoError(t, f.manager.Cancel(ctx, "orphan"))
	got, err := f.manager.Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestManager_SubmitErrors(t *testing.T) {
	calc := &fakeCalculator{fn: func(_ context.Context, in nexus.Input, _ nexus.ProgressFunc) (*nexus.Output, error) {
		return outputFor(in.Analysis.ID), nil
	}}
	f := newManagerFixture(t, calc)
	ctx := context.Background()

	t.Run("unknown analysis", func(t *testing.T) {
		_, err := f.manager.Submit(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("analysis without data", func(t *testing.T) {
		f.db.MustCreateAnalysis("empty", testutil.Date(2024, 12, 31))
		run := f.submitAndWait(t, "empty")
		assert.Equal(t, StatusError, run.Status)
		require.NotNil(t, run.Error)
		assert.Contains(t, *run.Error, common.ErrNoTransactions.Error())
		assert.Zero(t, calc.calls.Load())
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := f.manager.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrRunNotFound)
		assert.ErrorIs(t, f.manager.Cancel(ctx, "missing"), ErrRunNotFound)
	})
}

func TestManager_Shutdown(t *testing.T) {
	calc := &fakeCalculator{fn: func(ctx context.Context, _ nexus.Input, _ nexus.ProgressFunc) (*nexus.Output, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := newManagerFixture(t, calc)
	f.seed(t, "a-1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := f.manager.Submit(ctx, "a-1")
	require.NoError(t, err)

	require.NoError(t, f.manager.Shutdown(ctx))

	got, err := f.manager.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = f.manager.Submit(ctx, "a-1")
	assert.ErrorIs(t, err, ErrManagerStopped)
}

func TestManager_List(t *testing.T) {
	calc := &fakeCalculator{fn: func(_ context.Context, in nexus.Input, _ nexus.ProgressFunc) (*nexus.Output, error) {
		return outputFor(in.Analysis.ID, "CO"), nil
	}}
	f := newManagerFixture(t, calc)
	f.seed(t, "a-1")

	first := f.submitAndWait(t, "a-1")
	second := f.submitAndWait(t, "a-1")

	runs, err := f.manager.List(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestDeps_Validate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	runs := NewMemoryRunStore()
	defer runs.Stop()

	tests := []struct {
		deps    Deps
		name    string
		wantErr string
	}{
		{name: "missing storage", deps: Deps{Calculator: &fakeCalculator{}, Runs: runs}, wantErr: "storage"},
		{name: "missing calculator", deps: Deps{Storage: db.Storage, Runs: runs}, wantErr: "calculator"},
		{name: "missing runs", deps: Deps{Storage: db.Storage, Calculator: &fakeCalculator{}}, wantErr: "run store"},
		{name: "complete", deps: Deps{Storage: db.Storage, Calculator: &fakeCalculator{}, Runs: runs}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.deps, Config{})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrMissingDependency)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
