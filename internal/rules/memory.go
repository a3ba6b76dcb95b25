package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// Ensure MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository holds every rule version in memory. It is safe for
// concurrent reads once loading is finished.
type MemoryRepository struct {
	thresholds  map[string][]model.ThresholdRule
	marketplace map[string][]model.MarketplaceRule
	rates       map[string][]model.RateRule
	interest    map[string][]model.InterestPenaltyRule
	mu          sync.RWMutex
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		thresholds:  make(map[string][]model.ThresholdRule),
		marketplace: make(map[string][]model.MarketplaceRule),
		rates:       make(map[string][]model.RateRule),
		interest:    make(map[string][]model.InterestPenaltyRule),
	}
}

// AddThresholdRule adds a threshold rule version.
func (r *MemoryRepository) AddThresholdRule(rule model.ThresholdRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds[rule.State] = insertSorted(r.thresholds[rule.State], rule, func(v model.ThresholdRule) model.Effective { return v.Effective })
	return nil
}

// AddMarketplaceRule adds a marketplace rule version.
func (r *MemoryRepository) AddMarketplaceRule(rule model.MarketplaceRule) error {
	if rule.State == "" {
		return fmt.Errorf("marketplace rule is missing state")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marketplace[rule.State] = insertSorted(r.marketplace[rule.State], rule, func(v model.MarketplaceRule) model.Effective { return v.Effective })
	return nil
}

// AddRateRule adds a rate rule version. A zero combined rate is derived from
// the state and average local rates.
func (r *MemoryRepository) AddRateRule(rule model.RateRule) error {
	if rule.State == "" {
		return fmt.Errorf("rate rule is missing state")
	}
	if rule.CombinedRate.IsZero() {
		rule.CombinedRate = rule.StateRate.Add(rule.AvgLocalRate)
	}
	if rule.CombinedRate.IsNegative() {
		return fmt.Errorf("rate rule for %s has negative combined rate", rule.State)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[rule.State] = insertSorted(r.rates[rule.State], rule, func(v model.RateRule) model.Effective { return v.Effective })
	return nil
}

// AddInterestPenaltyRule adds an interest and penalty rule version.
func (r *MemoryRepository) AddInterestPenaltyRule(rule model.InterestPenaltyRule) error {
	if rule.State == "" {
		return fmt.Errorf("interest rule is missing state")
	}
	if !rule.Method.IsValid() {
		return fmt.Errorf("interest rule for %s has invalid method %q", rule.State, rule.Method)
	}
	if rule.PenaltyMin != nil && rule.PenaltyMax != nil && rule.PenaltyMin.GreaterThan(*rule.PenaltyMax) {
		return fmt.Errorf("interest rule for %s has penalty_min above penalty_max", rule.State)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interest[rule.State] = insertSorted(r.interest[rule.State], rule, func(v model.InterestPenaltyRule) model.Effective { return v.Effective })
	return nil
}

// ThresholdRule resolves the threshold rule covering asOf.
func (r *MemoryRepository) ThresholdRule(ctx context.Context, state string, asOf time.Time) (*model.ThresholdRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return resolve(r.thresholds[state], func(v model.ThresholdRule) model.Effective { return v.Effective }, asOf)
}

// MarketplaceRule resolves the marketplace rule covering asOf.
func (r *MemoryRepository) MarketplaceRule(ctx context.Context, state string, asOf time.Time) (*model.MarketplaceRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return resolve(r.marketplace[state], func(v model.MarketplaceRule) model.Effective { return v.Effective }, asOf)
}

// RateRule resolves the rate rule covering asOf.
func (r *MemoryRepository) RateRule(ctx context.Context, state string, asOf time.Time) (*model.RateRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return resolve(r.rates[state], func(v model.RateRule) model.Effective { return v.Effective }, asOf)
}

// InterestPenaltyRule resolves the interest and penalty rule covering asOf.
func (r *MemoryRepository) InterestPenaltyRule(ctx context.Context, state string, asOf time.Time) (*model.InterestPenaltyRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return resolve(r.interest[state], func(v model.InterestPenaltyRule) model.Effective { return v.Effective }, asOf)
}

// States returns every state with at least one threshold rule, sorted.
func (r *MemoryRepository) States() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]string, 0, len(r.thresholds))
	for state := range r.thresholds {
		states = append(states, state)
	}
	sort.Strings(states)
	return states
}

func insertSorted[T any](versions []T, v T, effective func(T) model.Effective) []T {
	versions = append(versions, v)
	sort.SliceStable(versions, func(i, j int) bool {
		return effective(versions[i]).EffectiveFrom.Before(effective(versions[j]).EffectiveFrom)
	})
	return versions
}

// resolve returns a copy of the version covering asOf. Versions are sorted by
// EffectiveFrom; the latest covering version wins if ranges overlap.
func resolve[T any](versions []T, effective func(T) model.Effective, asOf time.Time) (*T, error) {
	if len(versions) == 0 {
		return nil, ErrRuleNotFound
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if effective(versions[i]).Covers(asOf) {
			found := versions[i]
			return &found, nil
		}
	}
	if asOf.Before(effective(versions[0]).EffectiveFrom) {
		return nil, ErrNotYetEffective
	}
	return nil, ErrRuleNotFound
}
