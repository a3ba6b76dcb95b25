package rules

import (
	"context"
	"errors"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// Gap describes a rule that cannot be resolved for a state on a date.
type Gap struct {
	Err      error
	State    string
	RuleType model.RuleType
}

// Coverage reports every state with a threshold rule whose remaining rules do
// not resolve as of asOf. Threshold rules not yet effective are not gaps.
func Coverage(ctx context.Context, repo *MemoryRepository, asOf time.Time) []Gap {
	var gaps []Gap
	for _, state := range repo.States() {
		if _, err := repo.ThresholdRule(ctx, state, asOf); err != nil && !errors.Is(err, ErrNotYetEffective) {
			gaps = append(gaps, Gap{State: state, RuleType: model.RuleThreshold, Err: err})
		}
		if _, err := repo.MarketplaceRule(ctx, state, asOf); err != nil && !errors.Is(err, ErrNotYetEffective) {
			gaps = append(gaps, Gap{State: state, RuleType: model.RuleMarketplace, Err: err})
		}
		if _, err := repo.RateRule(ctx, state, asOf); err != nil {
			gaps = append(gaps, Gap{State: state, RuleType: model.RuleRate, Err: err})
		}
		if _, err := repo.InterestPenaltyRule(ctx, state, asOf); err != nil {
			gaps = append(gaps, Gap{State: state, RuleType: model.RuleInterestPenalty, Err: err})
		}
	}
	return gaps
}
