package nexus

import (
	"context"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/rules"
)

// Split is a state's transactions partitioned by channel.
type Split struct {
	Direct      []model.Transaction
	Marketplace []model.Transaction
}

// SplitChannels partitions transactions into direct and marketplace sales,
// keeping the input order within each side.
func SplitChannels(txns []model.Transaction) Split {
	var s Split
	for _, txn := range txns {
		if txn.IsMarketplace() {
			s.Marketplace = append(s.Marketplace, txn)
		} else {
			s.Direct = append(s.Direct, txn)
		}
	}
	return s
}

// MarketplaceTreatment answers marketplace facilitator questions for one
// state, caching rule lookups by date.
type MarketplaceTreatment struct {
	repo  rules.Repository
	cache map[time.Time]*model.MarketplaceRule
	state string
}

// NewMarketplaceTreatment creates a treatment for state.
func NewMarketplaceTreatment(repo rules.Repository, state string) *MarketplaceTreatment {
	return &MarketplaceTreatment{
		repo:  repo,
		state: state,
		cache: make(map[time.Time]*model.MarketplaceRule),
	}
}

// Rule returns the marketplace rule covering date. It returns nil without an
// error when the state has no facilitator regime yet on that date.
func (m *MarketplaceTreatment) Rule(ctx context.Context, date time.Time) (*model.MarketplaceRule, error) {
	key := dateOf(date)
	if rule, ok := m.cache[key]; ok {
		return rule, nil
	}

	rule, err := m.repo.MarketplaceRule(ctx, m.state, key)
	if err != nil {
		if !rules.IsNotYetEffective(err) {
			return nil, &rules.ConfigError{State: m.state, RuleType: model.RuleMarketplace, AsOf: key, Err: err}
		}
		rule = nil
	}
	m.cache[key] = rule
	return rule, nil
}

// CountsTowardThreshold reports whether marketplace sales on date count
// toward the economic threshold test.
func (m *MarketplaceTreatment) CountsTowardThreshold(ctx context.Context, date time.Time) (bool, error) {
	rule, err := m.Rule(ctx, date)
	if err != nil {
		return false, err
	}
	if rule == nil {
		return true, nil
	}
	return rule.CountsTowardThreshold, nil
}

// ExcludedFromLiability reports whether marketplace sales on date are left
// out of exposure because a facilitator law was collecting on them.
func (m *MarketplaceTreatment) ExcludedFromLiability(ctx context.Context, date time.Time) (bool, error) {
	rule, err := m.Rule(ctx, date)
	if err != nil || rule == nil {
		return false, err
	}
	return rule.ExcludedFromLiability && rule.LawInEffect(date), nil
}

// thresholdSales builds the ledger input for a state's chronologically sorted
// transactions, dropping marketplace sales that do not count.
func (m *MarketplaceTreatment) thresholdSales(ctx context.Context, txns []model.Transaction) ([]Sale, error) {
	sales := make([]Sale, 0, len(txns))
	for i := range txns {
		txn := &txns[i]
		if txn.IsMarketplace() {
			counts, err := m.CountsTowardThreshold(ctx, txn.Date)
			if err != nil {
				return nil, err
			}
			if !counts {
				continue
			}
		}
		sales = append(sales, Sale{Date: dateOf(txn.Date), Amount: txn.GrossAmount})
	}
	return sales, nil
}
