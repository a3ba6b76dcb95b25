// Package rules provides time-versioned state rule lookups for the nexus engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// Lookup errors.
var (
	// ErrRuleNotFound means no version of the rule covers the requested date.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrNotYetEffective means the state has versions of the rule, but all of
	// them start after the requested date.
	ErrNotYetEffective = errors.New("rule not yet effective")
)

// Repository is the read-only rule source consumed by the engine. Every lookup
// resolves to the single version whose effective range covers asOf.
type Repository interface {
	ThresholdRule(ctx context.Context, state string, asOf time.Time) (*model.ThresholdRule, error)
	MarketplaceRule(ctx context.Context, state string, asOf time.Time) (*model.MarketplaceRule, error)
	RateRule(ctx context.Context, state string, asOf time.Time) (*model.RateRule, error)
	InterestPenaltyRule(ctx context.Context, state string, asOf time.Time) (*model.InterestPenaltyRule, error)
}

// ConfigError records which rule could not be resolved for a state.
type ConfigError struct {
	AsOf     time.Time
	Err      error
	State    string
	RuleType model.RuleType
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s rule for %s as of %s: %v", e.RuleType, e.State, e.AsOf.Format("2006-01-02"), e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsNotYetEffective reports whether err is a lookup before the first version.
func IsNotYetEffective(err error) bool {
	return errors.Is(err, ErrNotYetEffective)
}
