package nexus

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/rules"
)

// segment is the part of a year governed by one threshold rule version.
type segment struct {
	from time.Time
	to   time.Time
	rule *model.ThresholdRule
}

// stateCalc holds the working set for one state. It is confined to a single
// goroutine.
type stateCalc struct {
	engine     *Engine
	analysis   model.Analysis
	market     *MarketplaceTreatment
	ledger     *Ledger
	evaluators map[time.Time]Evaluator
	interest   *model.InterestPenaltyRule
	asOf       time.Time
	state      string
	txns       []model.Transaction
	facts      []model.PhysicalNexusFact
}

func (e *Engine) calculateState(ctx context.Context, a model.Analysis, state string, txns []model.Transaction, facts []model.PhysicalNexusFact) ([]model.StateYearResult, error) {
	first, last, ok := yearRange(txns, facts, a.AsOfDate)
	if !ok {
		return nil, nil
	}

	c := &stateCalc{
		engine:     e,
		analysis:   a,
		state:      state,
		txns:       txns,
		facts:      facts,
		asOf:       dateOf(a.AsOfDate),
		market:     NewMarketplaceTreatment(e.rules, state),
		evaluators: make(map[time.Time]Evaluator),
	}

	if !model.HasSalesTax(state) {
		results := make([]model.StateYearResult, 0, last-first+1)
		for year := first; year <= last; year++ {
			results = append(results, c.salesTotals(year))
		}
		return results, nil
	}

	sales, err := c.market.thresholdSales(ctx, txns)
	if err != nil {
		return nil, err
	}
	c.ledger = NewLedger(sales)

	tracker := &Tracker{}
	results := make([]model.StateYearResult, 0, last-first+1)
	for year := first; year <= last; year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		from, to := c.yearBounds(year)

		if !tracker.HasEconomic() {
			crossing, found, err := c.firstCrossing(ctx, from, to)
			if err != nil {
				return nil, err
			}
			if found {
				tracker.EstablishEconomic(crossing)
			} else {
				tracker.ObserveSales(c.ledger.Between(from, to))
			}
		}
		for _, f := range facts {
			if f.EstablishedDate.Before(to) {
				tracker.EstablishPhysical(f.EstablishedDate)
			}
		}

		result := c.salesTotals(year)
		snap := tracker.Snapshot()
		result.NexusType = snap.Type
		result.NexusDate = snap.NexusDate
		result.ObligationStartDate = snap.ObligationStart
		result.FirstNexusYear = snap.FirstNexusYear

		if snap.Type.HasNexus() {
			if err := c.estimate(ctx, &result, *snap.ObligationStart, from, to); err != nil {
				return nil, err
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// yearBounds returns the half-open range of a year, cut off after the as-of date.
func (c *stateCalc) yearBounds(year int) (time.Time, time.Time) {
	return yearStart(year), minTime(yearStart(year+1), c.asOf.AddDate(0, 0, 1))
}

// firstCrossing searches [from, to) under every threshold rule version in
// effect during that range.
func (c *stateCalc) firstCrossing(ctx context.Context, from, to time.Time) (Crossing, bool, error) {
	segments, err := c.thresholdSegments(ctx, from, to)
	if err != nil {
		return Crossing{}, false, err
	}
	for _, seg := range segments {
		evaluator, err := c.evaluator(seg.rule)
		if err != nil {
			return Crossing{}, false, &rules.ConfigError{State: c.state, RuleType: model.RuleThreshold, AsOf: seg.from, Err: err}
		}
		rule := seg.rule
		met := func(w Window) bool { return rule.Met(w.Revenue, w.Transactions) }
		if crossing, ok := evaluator.FirstCrossing(c.ledger, seg.from, seg.to, met); ok {
			return crossing, true, nil
		}
	}
	return Crossing{}, false, nil
}

// thresholdSegments walks rule versions backwards from the end of the range.
// A range that starts before the state's first version is cut at that version.
func (c *stateCalc) thresholdSegments(ctx context.Context, from, to time.Time) ([]segment, error) {
	var segments []segment
	hi := to
	for hi.After(from) {
		at := hi.AddDate(0, 0, -1)
		rule, err := c.engine.rules.ThresholdRule(ctx, c.state, at)
		if err != nil {
			if rules.IsNotYetEffective(err) {
				break
			}
			return nil, &rules.ConfigError{State: c.state, RuleType: model.RuleThreshold, AsOf: at, Err: err}
		}
		lo := maxTime(from, dateOf(rule.EffectiveFrom))
		segments = append(segments, segment{from: lo, to: hi, rule: rule})
		hi = lo
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments, nil
}

func (c *stateCalc) evaluator(rule *model.ThresholdRule) (Evaluator, error) {
	key := rule.EffectiveFrom
	if ev, ok := c.evaluators[key]; ok {
		return ev, nil
	}
	ev, err := NewEvaluator(rule)
	if err != nil {
		return nil, err
	}
	c.evaluators[key] = ev
	return ev, nil
}

// estimate fills the standard and VDA liability for one year with nexus.
func (c *stateCalc) estimate(ctx context.Context, result *model.StateYearResult, obligationStart, from, to time.Time) error {
	yearEnd := to.AddDate(0, 0, -1)
	rate, err := c.engine.rules.RateRule(ctx, c.state, yearEnd)
	if err != nil {
		return &rules.ConfigError{State: c.state, RuleType: model.RuleRate, AsOf: yearEnd, Err: err}
	}
	penalties, err := c.interestRule(ctx)
	if err != nil {
		return err
	}

	start := maxTime(obligationStart, from)
	exposure, err := exposureBetween(ctx, c.txns, start, to, c.market)
	if err != nil {
		return err
	}
	result.Liability = Estimate(exposure, rate.CombinedRate, start, c.asOf, penalties)

	lookback := penalties.VDALookbackMonths
	if lookback <= 0 {
		lookback = c.engine.vdaLookbackMonths
	}
	vdaStart := maxTime(start, VDAWindowStart(c.analysis.EffectiveVDADate(), lookback))
	vdaExposure, err := exposureBetween(ctx, c.txns, vdaStart, to, c.market)
	if err != nil {
		return err
	}
	result.VDA = EstimateVDA(vdaExposure, rate.CombinedRate, vdaStart, c.asOf, penalties)
	return nil
}

// interestRule resolves the interest and penalty policy once, as of the
// evaluation date.
func (c *stateCalc) interestRule(ctx context.Context) (*model.InterestPenaltyRule, error) {
	if c.interest != nil {
		return c.interest, nil
	}
	rule, err := c.engine.rules.InterestPenaltyRule(ctx, c.state, c.asOf)
	if err != nil {
		return nil, &rules.ConfigError{State: c.state, RuleType: model.RuleInterestPenalty, AsOf: c.asOf, Err: err}
	}
	c.interest = rule
	return rule, nil
}

// salesTotals builds a no-nexus result holding the year's sales figures.
func (c *stateCalc) salesTotals(year int) model.StateYearResult {
	from, to := c.yearBounds(year)
	r := model.StateYearResult{
		AnalysisID:       c.analysis.ID,
		State:            c.state,
		Year:             year,
		NexusType:        model.NexusNone,
		GrossSales:       decimal.Zero,
		ExemptSales:      decimal.Zero,
		TaxableSales:     decimal.Zero,
		DirectSales:      decimal.Zero,
		MarketplaceSales: decimal.Zero,
		Liability:        zeroLiability(),
		VDA:              zeroLiability(),
	}
	for i := range c.txns {
		txn := &c.txns[i]
		date := dateOf(txn.Date)
		if date.Before(from) || !date.Before(to) {
			continue
		}
		taxable := txn.TaxableAmount()
		r.GrossSales = r.GrossSales.Add(txn.GrossAmount)
		r.TaxableSales = r.TaxableSales.Add(taxable)
		r.ExemptSales = r.ExemptSales.Add(txn.GrossAmount.Sub(taxable))
		if txn.IsMarketplace() {
			r.MarketplaceSales = r.MarketplaceSales.Add(txn.GrossAmount)
		} else {
			r.DirectSales = r.DirectSales.Add(txn.GrossAmount)
		}
		r.TransactionCount++
	}
	return r
}

func zeroLiability() model.Liability {
	return model.Liability{
		ExposureSales: decimal.Zero,
		BaseTax:       decimal.Zero,
		Interest:      decimal.Zero,
		Penalties:     decimal.Zero,
		Total:         decimal.Zero,
	}
}

// yearRange returns the first and last calendar year a state needs results for.
func yearRange(txns []model.Transaction, facts []model.PhysicalNexusFact, asOf time.Time) (int, int, bool) {
	last := asOf.Year()
	first := 0
	consider := func(t time.Time) {
		if t.After(asOf) {
			return
		}
		if first == 0 || t.Year() < first {
			first = t.Year()
		}
	}
	for i := range txns {
		consider(txns[i].Date)
	}
	for i := range facts {
		consider(facts[i].EstablishedDate)
	}
	return first, last, first != 0
}
