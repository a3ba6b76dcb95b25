package nexus

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// growthPrecision is the number of decimal places kept while compounding.
const growthPrecision = 20

var (
	daysPerYear   = decimal.RequireFromString("365.25")
	daysPerYearCD = decimal.NewFromInt(365)
	monthsPerYear = decimal.NewFromInt(12)
	one           = decimal.NewFromInt(1)
)

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Estimate returns base tax, interest, and penalties for exposure taxed at
// combinedRate, with interest accruing from start to asOf.
func Estimate(exposure, combinedRate decimal.Decimal, start, asOf time.Time, rule *model.InterestPenaltyRule) model.Liability {
	l := model.Liability{
		ExposureSales: roundMoney(exposure),
		BaseTax:       decimal.Zero,
		Interest:      decimal.Zero,
		Penalties:     decimal.Zero,
		Total:         decimal.Zero,
	}
	baseTax := roundMoney(exposure.Mul(combinedRate))
	if !baseTax.IsPositive() {
		return l
	}

	l.BaseTax = baseTax
	l.Interest = Interest(baseTax, rule, start, asOf)
	l.Penalties = Penalty(baseTax, rule)
	l.Total = l.BaseTax.Add(l.Interest).Add(l.Penalties)
	return l
}

// Interest accrues on base tax only, never on penalties.
func Interest(baseTax decimal.Decimal, rule *model.InterestPenaltyRule, start, asOf time.Time) decimal.Decimal {
	if rule == nil || !baseTax.IsPositive() || !rule.AnnualRate.IsPositive() {
		return decimal.Zero
	}

	switch rule.Method {
	case model.InterestCompoundMonthly:
		months := monthsBetween(start, asOf)
		factor := powInt(one.Add(rule.AnnualRate.Div(monthsPerYear)), months).Sub(one)
		return roundMoney(baseTax.Mul(factor))
	case model.InterestCompoundDaily:
		days := daysBetween(start, asOf)
		factor := powInt(one.Add(rule.AnnualRate.Div(daysPerYearCD)), days).Sub(one)
		return roundMoney(baseTax.Mul(factor))
	default:
		days := decimal.NewFromInt(int64(daysBetween(start, asOf)))
		return roundMoney(baseTax.Mul(rule.AnnualRate).Mul(days).Div(daysPerYear))
	}
}

// Penalty is base tax times the penalty rate, clamped to the configured bounds.
func Penalty(baseTax decimal.Decimal, rule *model.InterestPenaltyRule) decimal.Decimal {
	if rule == nil || !baseTax.IsPositive() {
		return decimal.Zero
	}
	penalty := baseTax.Mul(rule.PenaltyRate)
	if rule.PenaltyMin != nil && penalty.LessThan(*rule.PenaltyMin) {
		penalty = *rule.PenaltyMin
	}
	if rule.PenaltyMax != nil && penalty.GreaterThan(*rule.PenaltyMax) {
		penalty = *rule.PenaltyMax
	}
	return roundMoney(penalty)
}

// powInt raises base to a non-negative integer power by squaring.
func powInt(base decimal.Decimal, n int) decimal.Decimal {
	result := one
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Truncate(growthPrecision)
		}
		base = base.Mul(base).Truncate(growthPrecision)
		n >>= 1
	}
	return result
}

// exposureBetween sums taxable sales dated in [from, to), leaving out
// marketplace dollars a facilitator law already covered.
func exposureBetween(ctx context.Context, txns []model.Transaction, from, to time.Time, mp *MarketplaceTreatment) (decimal.Decimal, error) {
	total := decimal.Zero
	if !from.Before(to) {
		return total, nil
	}
	for i := range txns {
		txn := &txns[i]
		date := dateOf(txn.Date)
		if date.Before(from) || !date.Before(to) {
			continue
		}
		if txn.IsMarketplace() {
			excluded, err := mp.ExcludedFromLiability(ctx, date)
			if err != nil {
				return decimal.Zero, err
			}
			if excluded {
				continue
			}
		}
		total = total.Add(txn.TaxableAmount())
	}
	return total, nil
}
