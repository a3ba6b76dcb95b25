// Package nexus determines per-state, per-year sales tax nexus and estimates
// the resulting liability under standard and voluntary disclosure terms.
package nexus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/rules"
)

// Engine errors.
var (
	ErrMissingRules    = errors.New("rule repository is required")
	ErrMissingAsOfDate = errors.New("analysis as-of date is required")
	ErrInvalidInput    = errors.New("invalid transaction")
	ErrInvalidPhysical = errors.New("invalid physical nexus fact")
	// ErrCalculationFailed marks an unexpected failure that invalidates the whole run.
	ErrCalculationFailed = errors.New("calculation failed")
)

// DefaultVDALookbackMonths applies when a state's interest rule has no VDA lookback.
const DefaultVDALookbackMonths = 36

// Deps holds the engine's collaborators.
type Deps struct {
	Rules rules.Repository
}

// Validate ensures all required dependencies are provided.
func (d Deps) Validate() error {
	if d.Rules == nil {
		return ErrMissingRules
	}
	return nil
}

// Config tunes an Engine.
type Config struct {
	// Workers bounds how many states are calculated at once. Zero means GOMAXPROCS.
	Workers int
	// VDALookbackMonths is used when a state rule does not set its own.
	VDALookbackMonths int
}

// Engine runs nexus determination and liability estimation. It keeps no
// per-run state and is safe for concurrent use.
type Engine struct {
	rules             rules.Repository
	workers           int
	vdaLookbackMonths int
}

// NewEngine creates an engine.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	lookback := cfg.VDALookbackMonths
	if lookback <= 0 {
		lookback = DefaultVDALookbackMonths
	}
	return &Engine{rules: deps.Rules, workers: workers, vdaLookbackMonths: lookback}, nil
}

// Input is the materialized working set for one analysis run.
type Input struct {
	Analysis     model.Analysis
	Transactions []model.Transaction
	Physical     []model.PhysicalNexusFact
}

// Output is the full result set of one run.
type Output struct {
	Summary model.AnalysisSummary
	// Results are ordered by state, then year.
	Results     []model.StateYearResult
	StateErrors []StateError
	// StatesCalculated counts the states that produced results.
	StatesCalculated int
}

// Partial reports whether some states failed while others succeeded.
func (o *Output) Partial() bool {
	return len(o.StateErrors) > 0 && o.StatesCalculated > 0
}

// Failed reports whether every state present in the input failed.
func (o *Output) Failed() bool {
	return len(o.StateErrors) > 0 && o.StatesCalculated == 0
}

// StateError is a calculation failure isolated to one state.
type StateError struct {
	Err   error
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// ProgressFunc is called after each state finishes.
type ProgressFunc func(state string, done, total int)

// Calculate evaluates every state present in the input. A state whose rules
// cannot be resolved is reported in Output.StateErrors without affecting the
// others; an error return means the run as a whole failed.
func (e *Engine) Calculate(ctx context.Context, in Input, progress ProgressFunc) (*Output, error) {
	if in.Analysis.AsOfDate.IsZero() {
		return nil, ErrMissingAsOfDate
	}
	if err := ValidateTransactions(in.Transactions); err != nil {
		return nil, err
	}
	if err := validatePhysical(in.Physical); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(string, int, int) {}
	}

	start := time.Now()
	txnsByState, factsByState, states := groupByState(in.Transactions, in.Physical)

	results := make([][]model.StateYearResult, len(states))
	errs := make([]error, len(states))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i, state := range states {
		wg.Add(1)
		go func(idx int, state string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[idx] = fmt.Errorf("%w: %s: %v", ErrCalculationFailed, state, r)
				}
			}()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}

			results[idx], errs[idx] = e.calculateState(ctx, in.Analysis, state, txnsByState[state], factsByState[state])

			mu.Lock()
			done++
			progress(state, done, len(states))
			mu.Unlock()
		}(i, state)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if errors.Is(err, ErrCalculationFailed) {
			return nil, err
		}
	}

	out := &Output{}
	for i, state := range states {
		if errs[i] != nil {
			slog.Warn("State calculation failed", "analysis_id", in.Analysis.ID, "state", state, "error", errs[i])
			out.StateErrors = append(out.StateErrors, StateError{State: state, Err: errs[i]})
			continue
		}
		out.StatesCalculated++
		out.Results = append(out.Results, results[i]...)
	}
	out.Summary = Aggregate(in.Analysis.ID, out.Results)

	slog.Debug("Nexus calculation finished",
		"analysis_id", in.Analysis.ID,
		"states", len(states),
		"failed_states", len(out.StateErrors),
		"rows", len(out.Results),
		"duration", time.Since(start))
	return out, nil
}

// ValidateTransactions rejects records the engine cannot evaluate.
func ValidateTransactions(txns []model.Transaction) error {
	var errs []error
	for i := range txns {
		txn := &txns[i]
		var reason string
		switch {
		case txn.Date.IsZero():
			reason = "missing date"
		case !isKnownState(txn.State):
			reason = fmt.Sprintf("invalid state %q", txn.State)
		case !txn.Channel.IsValid():
			reason = fmt.Sprintf("invalid channel %q", txn.Channel)
		case txn.GrossAmount.IsNegative():
			reason = "negative gross amount"
		case txn.ExemptAmount.IsNegative():
			reason = "negative exempt amount"
		case txn.ExemptAmount.GreaterThan(txn.GrossAmount):
			reason = "exempt amount exceeds gross amount"
		default:
			continue
		}
		errs = append(errs, fmt.Errorf("%w %d (%s): %s", ErrInvalidInput, i, txn.ID, reason))
	}
	return errors.Join(errs...)
}

func validatePhysical(facts []model.PhysicalNexusFact) error {
	var errs []error
	for i := range facts {
		f := &facts[i]
		switch {
		case !isKnownState(f.State):
			errs = append(errs, fmt.Errorf("%w %d: invalid state %q", ErrInvalidPhysical, i, f.State))
		case f.EstablishedDate.IsZero():
			errs = append(errs, fmt.Errorf("%w %d: missing established date", ErrInvalidPhysical, i))
		case f.EndedDate != nil && f.EndedDate.Before(f.EstablishedDate):
			errs = append(errs, fmt.Errorf("%w %d: ended before established", ErrInvalidPhysical, i))
		}
	}
	return errors.Join(errs...)
}

func isKnownState(code string) bool {
	normalized, ok := model.NormalizeState(code)
	return ok && normalized == code
}

// groupByState partitions the input per state, with each state's
// transactions in chronological order, and returns the sorted state list.
func groupByState(txns []model.Transaction, facts []model.PhysicalNexusFact) (map[string][]model.Transaction, map[string][]model.PhysicalNexusFact, []string) {
	txnsByState := make(map[string][]model.Transaction)
	for _, txn := range txns {
		txnsByState[txn.State] = append(txnsByState[txn.State], txn)
	}
	factsByState := make(map[string][]model.PhysicalNexusFact)
	for _, f := range facts {
		factsByState[f.State] = append(factsByState[f.State], f)
	}

	seen := make(map[string]bool)
	var states []string
	for state, list := range txnsByState {
		sort.SliceStable(list, func(i, j int) bool {
			di, dj := dateOf(list[i].Date), dateOf(list[j].Date)
			if !di.Equal(dj) {
				return di.Before(dj)
			}
			if list[i].ID != list[j].ID {
				return list[i].ID < list[j].ID
			}
			return list[i].Hash < list[j].Hash
		})
		seen[state] = true
		states = append(states, state)
	}
	for state := range factsByState {
		if !seen[state] {
			states = append(states, state)
		}
	}
	sort.Strings(states)
	return txnsByState, factsByState, states
}
