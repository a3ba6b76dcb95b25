package nexus

import (
	"fmt"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// MetFunc reports whether a window satisfies a threshold test.
type MetFunc func(Window) bool

// Crossing is the first point at which a threshold test is satisfied.
type Crossing struct {
	Date time.Time
	// Window holds the totals that satisfied the test.
	Window Window
	// Retroactive is set when the test was met at a period boundary from
	// completed prior periods rather than by an individual sale.
	Retroactive bool
}

// ObligationStart returns the date collection obligations begin.
func (c Crossing) ObligationStart() time.Time {
	if c.Retroactive {
		return monthStartOnOrAfter(c.Date)
	}
	return nextMonthStart(c.Date)
}

// Evaluator measures a ledger under one lookback policy. Evaluators are
// stateless; one is built per rule version and reused for every year.
type Evaluator interface {
	Policy() model.LookbackPolicy
	// Evaluate returns the sales the policy's window counts as of asOf.
	Evaluate(l *Ledger, asOf time.Time) Window
	// FirstCrossing returns the earliest point in [from, to) at which met holds.
	FirstCrossing(l *Ledger, from, to time.Time, met MetFunc) (Crossing, bool)
}

// NewEvaluator returns the evaluator for the rule's lookback policy.
func NewEvaluator(rule *model.ThresholdRule) (Evaluator, error) {
	switch rule.Lookback {
	case model.LookbackCurrentOrPreviousYear, "":
		return &periodEvaluator{policy: model.LookbackCurrentOrPreviousYear, startMonth: time.January}, nil
	case model.LookbackPreviousYearOnly:
		return &periodEvaluator{policy: model.LookbackPreviousYearOnly, startMonth: time.January, priorOnly: true}, nil
	case model.LookbackFiscalYear:
		if rule.FiscalStartMonth < time.January || rule.FiscalStartMonth > time.December {
			return nil, fmt.Errorf("fiscal year lookback for %s: invalid start month %d", rule.State, rule.FiscalStartMonth)
		}
		return &periodEvaluator{policy: model.LookbackFiscalYear, startMonth: rule.FiscalStartMonth}, nil
	case model.LookbackRolling12Months:
		return rollingEvaluator{}, nil
	case model.LookbackPrecedingQuarters:
		quarters := rule.LookbackQuarters
		if quarters <= 0 {
			quarters = 4
		}
		return quarterEvaluator{quarters: quarters}, nil
	default:
		return nil, fmt.Errorf("unknown lookback policy %q for %s", rule.Lookback, rule.State)
	}
}

// periodEvaluator tests twelve-month periods that begin in startMonth: the
// completed prior period first, then the running total of the current one.
type periodEvaluator struct {
	policy     model.LookbackPolicy
	startMonth time.Month
	priorOnly  bool
}

func (e *periodEvaluator) Policy() model.LookbackPolicy {
	return e.policy
}

func (e *periodEvaluator) Evaluate(l *Ledger, asOf time.Time) Window {
	start := periodStart(asOf, e.startMonth)
	if e.priorOnly {
		return l.Between(start.AddDate(-1, 0, 0), start)
	}
	return l.Between(start, dateOf(asOf).AddDate(0, 0, 1))
}

func (e *periodEvaluator) FirstCrossing(l *Ledger, from, to time.Time, met MetFunc) (Crossing, bool) {
	for p := periodStart(from, e.startMonth); p.Before(to); p = p.AddDate(1, 0, 0) {
		lo := maxTime(p, from)
		hi := minTime(p.AddDate(1, 0, 0), to)
		if !lo.Before(hi) {
			continue
		}

		prior := l.Between(p.AddDate(-1, 0, 0), p)
		if met(prior) {
			return Crossing{Date: lo, Window: prior, Retroactive: true}, true
		}
		if e.priorOnly {
			continue
		}

		// Sales before lo already satisfy the test when the rule starts mid-period.
		if carried := l.Between(p, lo); met(carried) {
			return Crossing{Date: lo, Window: carried, Retroactive: true}, true
		}
		for i := l.indexAt(lo); i < l.Len() && l.At(i).Date.Before(hi); i++ {
			if running := l.Through(p, i); met(running) {
				return Crossing{Date: l.At(i).Date, Window: running}, true
			}
		}
	}
	return Crossing{}, false
}

// rollingEvaluator tests the trailing twelve calendar months, the current
// month included up to the sale being tested.
type rollingEvaluator struct{}

func (rollingEvaluator) Policy() model.LookbackPolicy {
	return model.LookbackRolling12Months
}

func rollingStart(t time.Time) time.Time {
	return monthStart(t).AddDate(0, -11, 0)
}

func (rollingEvaluator) Evaluate(l *Ledger, asOf time.Time) Window {
	return l.Between(rollingStart(asOf), dateOf(asOf).AddDate(0, 0, 1))
}

func (rollingEvaluator) FirstCrossing(l *Ledger, from, to time.Time, met MetFunc) (Crossing, bool) {
	if carried := l.Between(rollingStart(from), from); met(carried) {
		return Crossing{Date: from, Window: carried, Retroactive: true}, true
	}
	for i := l.indexAt(from); i < l.Len() && l.At(i).Date.Before(to); i++ {
		date := l.At(i).Date
		if trailing := l.Through(rollingStart(date), i); met(trailing) {
			return Crossing{Date: date, Window: trailing}, true
		}
	}
	return Crossing{}, false
}

// quarterEvaluator tests the N calendar quarters strictly before the current
// quarter, at each quarter start.
type quarterEvaluator struct {
	quarters int
}

func (quarterEvaluator) Policy() model.LookbackPolicy {
	return model.LookbackPrecedingQuarters
}

func (e quarterEvaluator) Evaluate(l *Ledger, asOf time.Time) Window {
	current := quarterStart(asOf)
	return l.Between(current.AddDate(0, -3*e.quarters, 0), current)
}

func (e quarterEvaluator) FirstCrossing(l *Ledger, from, to time.Time, met MetFunc) (Crossing, bool) {
	check := func(at time.Time) (Crossing, bool) {
		w := e.Evaluate(l, at)
		return Crossing{Date: at, Window: w, Retroactive: true}, met(w)
	}

	if from.Before(to) {
		if c, ok := check(from); ok {
			return c, true
		}
	}
	for q := quarterStart(from).AddDate(0, 3, 0); q.Before(to); q = q.AddDate(0, 3, 0) {
		if c, ok := check(q); ok {
			return c, true
		}
	}
	return Crossing{}, false
}
