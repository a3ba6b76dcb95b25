package nexus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/rules"
)

var ruleStart = date(2000, time.January, 1)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func orThreshold(state, revenue string, transactions int) model.ThresholdRule {
	return model.ThresholdRule{
		Effective:            model.Effective{EffectiveFrom: ruleStart},
		State:                state,
		RevenueThreshold:     dec(revenue),
		TransactionThreshold: transactions,
		Operator:             model.OperatorOr,
		Lookback:             model.LookbackCurrentOrPreviousYear,
	}
}

func andThreshold(state, revenue string, transactions int) model.ThresholdRule {
	rule := orThreshold(state, revenue, transactions)
	rule.Operator = model.OperatorAnd
	return rule
}

func simpleInterest(state string) model.InterestPenaltyRule {
	return model.InterestPenaltyRule{
		Effective:         model.Effective{EffectiveFrom: ruleStart},
		State:             state,
		Method:            model.InterestSimple,
		AnnualRate:        dec("0.07"),
		PenaltyRate:       dec("0.10"),
		VDALookbackMonths: 48,
		VDAPenaltyWaived:  true,
	}
}

func defaultMarketplace(state string) model.MarketplaceRule {
	return model.MarketplaceRule{
		Effective:             model.Effective{EffectiveFrom: ruleStart},
		LawEffectiveDate:      date(2019, time.October, 1),
		State:                 state,
		CountsTowardThreshold: true,
		ExcludedFromLiability: true,
	}
}

// addState registers a full rule set: the threshold given, a 5% combined
// rate, 7% simple interest with a 10% penalty, and a marketplace law from
// October 2019 that counts toward the threshold.
func addState(t *testing.T, repo *rules.MemoryRepository, threshold model.ThresholdRule) {
	t.Helper()
	state := threshold.State
	require.NoError(t, repo.AddThresholdRule(threshold))
	require.NoError(t, repo.AddMarketplaceRule(defaultMarketplace(state)))
	require.NoError(t, repo.AddRateRule(model.RateRule{
		Effective:    model.Effective{EffectiveFrom: ruleStart},
		State:        state,
		StateRate:    dec("0.04"),
		AvgLocalRate: dec("0.01"),
	}))
	require.NoError(t, repo.AddInterestPenaltyRule(simpleInterest(state)))
}

func sale(state string, d time.Time, amount string) model.Transaction {
	txn := model.Transaction{
		AnalysisID:   "analysis-1",
		ID:           fmt.Sprintf("%s-%s-%s", state, d.Format("20060102"), amount),
		Date:         d,
		State:        state,
		Channel:      model.ChannelDirect,
		GrossAmount:  dec(amount),
		ExemptAmount: decimal.Zero,
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

func marketplaceSale(state string, d time.Time, amount string) model.Transaction {
	txn := sale(state, d, amount)
	txn.ID += "-mp"
	txn.Channel = model.ChannelMarketplace
	txn.Hash = txn.GenerateHash()
	return txn
}

func exemptSale(state string, d time.Time, amount string) model.Transaction {
	txn := sale(state, d, amount)
	txn.ExemptAmount = txn.GrossAmount
	txn.Hash = txn.GenerateHash()
	return txn
}

func analysisAsOf(asOf time.Time) model.Analysis {
	return model.Analysis{ID: "analysis-1", Name: "test", AsOfDate: asOf}
}

func newTestEngine(t *testing.T, repo rules.Repository) *Engine {
	t.Helper()
	engine, err := NewEngine(Deps{Rules: repo}, Config{Workers: 4})
	require.NoError(t, err)
	return engine
}

func calculate(t *testing.T, engine *Engine, in Input) *Output {
	t.Helper()
	out, err := engine.Calculate(context.Background(), in, nil)
	require.NoError(t, err)
	return out
}

func findResult(t *testing.T, out *Output, state string, year int) model.StateYearResult {
	t.Helper()
	for _, r := range out.Results {
		if r.State == state && r.Year == year {
			return r
		}
	}
	require.Failf(t, "result not found", "%s %d", state, year)
	return model.StateYearResult{}
}

func requireDate(t *testing.T, want time.Time, got *time.Time) {
	t.Helper()
	require.NotNil(t, got)
	require.True(t, want.Equal(*got), "want %s, got %s", want.Format("2006-01-02"), got.Format("2006-01-02"))
}
