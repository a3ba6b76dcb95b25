package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LookbackPolicy selects how a state measures sales against its threshold.
type LookbackPolicy string

// Lookback policy constants.
const (
	// LookbackCurrentOrPreviousYear tests the prior calendar year first, then the
	// running total of the current calendar year.
	LookbackCurrentOrPreviousYear LookbackPolicy = "current_or_previous_year"
	// LookbackPreviousYearOnly tests only the completed prior calendar year.
	LookbackPreviousYearOnly LookbackPolicy = "previous_year_only"
	// LookbackRolling12Months tests the trailing twelve calendar months.
	LookbackRolling12Months LookbackPolicy = "rolling_12_months"
	// LookbackPrecedingQuarters tests the N calendar quarters before the current one.
	LookbackPrecedingQuarters LookbackPolicy = "preceding_quarters"
	// LookbackFiscalYear applies current-or-previous mechanics to a state fiscal year.
	LookbackFiscalYear LookbackPolicy = "fiscal_year"
)

// IsValid reports whether the policy is a known value.
func (p LookbackPolicy) IsValid() bool {
	switch p {
	case LookbackCurrentOrPreviousYear,
		LookbackPreviousYearOnly,
		LookbackRolling12Months,
		LookbackPrecedingQuarters,
		LookbackFiscalYear:
		return true
	}
	return false
}

// ThresholdOperator decides how revenue and transaction tests combine.
type ThresholdOperator string

// Threshold operator constants.
const (
	OperatorOr  ThresholdOperator = "or"
	OperatorAnd ThresholdOperator = "and"
)

// InterestMethod selects the interest accrual formula.
type InterestMethod string

// Interest method constants.
const (
	InterestSimple          InterestMethod = "simple"
	InterestCompoundMonthly InterestMethod = "compound_monthly"
	InterestCompoundDaily   InterestMethod = "compound_daily"
)

// IsValid reports whether the method is a known value.
func (m InterestMethod) IsValid() bool {
	return m == InterestSimple || m == InterestCompoundMonthly || m == InterestCompoundDaily
}

// RuleType names a rule table. It is recorded on configuration errors.
type RuleType string

// Rule type constants.
const (
	RuleThreshold       RuleType = "threshold"
	RuleMarketplace     RuleType = "marketplace"
	RuleRate            RuleType = "rate"
	RuleInterestPenalty RuleType = "interest_penalty"
)

// Effective is the validity range shared by every rule version. EffectiveTo is
// exclusive; nil means open-ended.
type Effective struct {
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// Covers reports whether asOf falls inside the range.
func (e Effective) Covers(asOf time.Time) bool {
	if asOf.Before(e.EffectiveFrom) {
		return false
	}
	return e.EffectiveTo == nil || asOf.Before(*e.EffectiveTo)
}

// ThresholdRule is a state's economic nexus test.
type ThresholdRule struct {
	Effective
	State string
	// RevenueThreshold is zero when the state has no revenue test.
	RevenueThreshold decimal.Decimal
	// TransactionThreshold is zero when the state has no transaction-count test.
	TransactionThreshold int
	Operator             ThresholdOperator
	Lookback             LookbackPolicy
	// LookbackQuarters is N for LookbackPrecedingQuarters.
	LookbackQuarters int
	// FiscalStartMonth is the first month of the state fiscal year for LookbackFiscalYear.
	FiscalStartMonth time.Month
}

// Met reports whether the given totals satisfy the rule.
func (r *ThresholdRule) Met(revenue decimal.Decimal, transactions int) bool {
	hasRevenue := r.RevenueThreshold.IsPositive()
	hasCount := r.TransactionThreshold > 0
	revenueMet := hasRevenue && revenue.GreaterThanOrEqual(r.RevenueThreshold)
	countMet := hasCount && transactions >= r.TransactionThreshold

	if r.Operator == OperatorAnd {
		switch {
		case hasRevenue && hasCount:
			return revenueMet && countMet
		case hasRevenue:
			return revenueMet
		default:
			return countMet
		}
	}
	return revenueMet || countMet
}

// Validate checks the rule for internal consistency.
func (r *ThresholdRule) Validate() error {
	if !r.RevenueThreshold.IsPositive() && r.TransactionThreshold <= 0 {
		return fmt.Errorf("threshold rule for %s has neither revenue nor transaction threshold", r.State)
	}
	if r.Operator != OperatorOr && r.Operator != OperatorAnd {
		return fmt.Errorf("threshold rule for %s has invalid operator %q", r.State, r.Operator)
	}
	if !r.Lookback.IsValid() {
		return fmt.Errorf("threshold rule for %s has invalid lookback policy %q", r.State, r.Lookback)
	}
	if r.Lookback == LookbackPrecedingQuarters && r.LookbackQuarters <= 0 {
		return fmt.Errorf("threshold rule for %s needs lookback_quarters > 0", r.State)
	}
	if r.Lookback == LookbackFiscalYear && (r.FiscalStartMonth < time.January || r.FiscalStartMonth > time.December) {
		return fmt.Errorf("threshold rule for %s needs fiscal_start_month between 1 and 12", r.State)
	}
	return nil
}

// MarketplaceRule is a state's marketplace facilitator treatment.
type MarketplaceRule struct {
	Effective
	LawEffectiveDate      time.Time
	State                 string
	CountsTowardThreshold bool
	ExcludedFromLiability bool
}

// LawInEffect reports whether the facilitator law applies to a sale on date.
func (r *MarketplaceRule) LawInEffect(date time.Time) bool {
	return !r.LawEffectiveDate.IsZero() && !date.Before(r.LawEffectiveDate)
}

// RateRule is a state's blended sales tax rate.
type RateRule struct {
	Effective
	State        string
	StateRate    decimal.Decimal
	AvgLocalRate decimal.Decimal
	CombinedRate decimal.Decimal
}

// InterestPenaltyRule is a state's interest and penalty policy.
type InterestPenaltyRule struct {
	Effective
	State             string
	Method            InterestMethod
	AnnualRate        decimal.Decimal
	PenaltyRate       decimal.Decimal
	PenaltyMin        *decimal.Decimal
	PenaltyMax        *decimal.Decimal
	VDALookbackMonths int
	VDAPenaltyWaived  bool
	VDAInterestWaived bool
}
