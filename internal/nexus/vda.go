package nexus

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// VDAWindowStart is the earliest date a voluntary disclosure filed on vdaDate
// reaches back to.
func VDAWindowStart(vdaDate time.Time, lookbackMonths int) time.Time {
	return dateOf(vdaDate).AddDate(0, -lookbackMonths, 0)
}

// EstimateVDA re-runs Estimate over the bounded VDA exposure and applies the
// state's waivers. Interest is kept unless the state waives it.
func EstimateVDA(exposure, combinedRate decimal.Decimal, start, asOf time.Time, rule *model.InterestPenaltyRule) model.Liability {
	l := Estimate(exposure, combinedRate, start, asOf, rule)
	if rule == nil {
		return l
	}
	if rule.VDAPenaltyWaived {
		l.Penalties = decimal.Zero
	}
	if rule.VDAInterestWaived {
		l.Interest = decimal.Zero
	}
	if l.BaseTax.IsPositive() {
		l.Total = l.BaseTax.Add(l.Interest).Add(l.Penalties)
	}
	return l
}
