package nexus

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Window is the revenue and transaction count that count toward a threshold test.
type Window struct {
	Revenue      decimal.Decimal
	Transactions int
}

// Add returns the sum of two windows.
func (w Window) Add(other Window) Window {
	return Window{
		Revenue:      w.Revenue.Add(other.Revenue),
		Transactions: w.Transactions + other.Transactions,
	}
}

// Sale is one transaction's contribution to threshold tests.
type Sale struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Ledger is an immutable, date-ordered sequence of threshold-counted sales
// with prefix sums, so any date range aggregates in O(log n).
type Ledger struct {
	sales      []Sale
	cumRevenue []decimal.Decimal
}

// NewLedger builds a ledger. Sales must already be in chronological order;
// callers sort once per state before folding.
func NewLedger(sales []Sale) *Ledger {
	cum := make([]decimal.Decimal, len(sales)+1)
	cum[0] = decimal.Zero
	for i, s := range sales {
		cum[i+1] = cum[i].Add(s.Amount)
	}
	return &Ledger{sales: sales, cumRevenue: cum}
}

// Len returns the number of sales.
func (l *Ledger) Len() int {
	return len(l.sales)
}

// At returns the sale at index i.
func (l *Ledger) At(i int) Sale {
	return l.sales[i]
}

// indexAt returns the index of the first sale on or after t.
func (l *Ledger) indexAt(t time.Time) int {
	return sort.Search(len(l.sales), func(i int) bool {
		return !l.sales[i].Date.Before(t)
	})
}

// span aggregates sales with index in [lo, hi).
func (l *Ledger) span(lo, hi int) Window {
	if hi <= lo {
		return Window{Revenue: decimal.Zero}
	}
	return Window{
		Revenue:      l.cumRevenue[hi].Sub(l.cumRevenue[lo]),
		Transactions: hi - lo,
	}
}

// Between aggregates sales dated in [from, to).
func (l *Ledger) Between(from, to time.Time) Window {
	return l.span(l.indexAt(from), l.indexAt(to))
}

// Through aggregates sales dated on or after from, up to and including index i.
func (l *Ledger) Through(from time.Time, i int) Window {
	return l.span(l.indexAt(from), i+1)
}
