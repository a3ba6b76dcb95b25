// Package storage persists analyses, sales, physical presence facts and run
// results in SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// Argument errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrEmptySlice       = errors.New("slice cannot be empty")
	ErrInvalidDateRange = errors.New("start date must be before end date")
)

// Record errors. Each wraps the first problem found.
var (
	ErrInvalidAnalysis    = errors.New("invalid analysis")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidFact        = errors.New("invalid physical nexus fact")
	ErrInvalidResult      = errors.New("invalid result")
)

// check pairs a failing condition with the reason reported for it.
type check struct {
	failed bool
	reason string
}

// firstProblem wraps kind with the reason of the first failed check.
func firstProblem(kind error, checks ...check) error {
	for _, c := range checks {
		if c.failed {
			return fmt.Errorf("%w: %s", kind, c.reason)
		}
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// knownState accepts only canonical upper-case codes.
func knownState(code string) bool {
	normalized, ok := model.NormalizeState(code)
	return ok && normalized == code
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s, name string) error {
	if blank(s) {
		return fmt.Errorf("%w: %s", ErrEmptyString, name)
	}
	return nil
}

func validateAnalysis(a *model.Analysis) error {
	if a == nil {
		return fmt.Errorf("%w: analysis", ErrNilParameter)
	}
	return firstProblem(ErrInvalidAnalysis,
		check{blank(a.ID), "missing ID"},
		check{blank(a.Name), "missing name"},
		check{a.AsOfDate.IsZero(), "missing as-of date"},
	)
}

func validateTransactions(txns []model.Transaction) error {
	switch {
	case txns == nil:
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	case len(txns) == 0:
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}
	for i := range txns {
		if err := validateTransaction(&txns[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

func validateTransaction(t *model.Transaction) error {
	if t == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	return firstProblem(ErrInvalidTransaction,
		check{t.ID == "", "missing ID"},
		check{t.AnalysisID == "", "missing analysis ID"},
		check{t.Date.IsZero(), "missing date"},
		check{!knownState(t.State), fmt.Sprintf("unknown state %q", t.State)},
		check{!t.Channel.IsValid(), fmt.Sprintf("invalid channel %q", t.Channel)},
		check{t.GrossAmount.IsNegative() || t.ExemptAmount.IsNegative(), "negative amount"},
		check{t.ExemptAmount.GreaterThan(t.GrossAmount), "exempt amount exceeds gross amount"},
	)
}

func validatePhysicalFact(f *model.PhysicalNexusFact) error {
	if f == nil {
		return fmt.Errorf("%w: fact", ErrNilParameter)
	}
	return firstProblem(ErrInvalidFact,
		check{f.AnalysisID == "", "missing analysis ID"},
		check{!knownState(f.State), fmt.Sprintf("unknown state %q", f.State)},
		check{f.EstablishedDate.IsZero(), "missing established date"},
		check{f.EndedDate != nil && f.EndedDate.Before(f.EstablishedDate), "ended before it was established"},
	)
}

// validateResults rejects rows that would land under a different analysis.
func validateResults(analysisID string, results []model.StateYearResult, summary *model.AnalysisSummary) error {
	if err := validateString(analysisID, "analysisID"); err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("%w: summary", ErrNilParameter)
	}
	if summary.AnalysisID != analysisID {
		return fmt.Errorf("%w: summary belongs to analysis %q", ErrInvalidResult, summary.AnalysisID)
	}
	for i, r := range results {
		if r.AnalysisID != analysisID {
			return fmt.Errorf("%w: result %d belongs to analysis %q", ErrInvalidResult, i, r.AnalysisID)
		}
	}
	return nil
}
