package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

//go:embed defaults.yaml
var defaultRules []byte

const dateLayout = "2006-01-02"

// tableStart is used when a version omits effective_from.
var tableStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// File is the on-disk rule table.
type File struct {
	Defaults Defaults              `yaml:"defaults"`
	States   map[string]StateRules `yaml:"states"`
	Version  int                   `yaml:"version"`
}

// Defaults apply to every state that does not list its own versions.
type Defaults struct {
	Marketplace     *MarketplaceEntry     `yaml:"marketplace"`
	InterestPenalty *InterestPenaltyEntry `yaml:"interest_penalty"`
}

// StateRules lists the versions of every rule type for one state.
type StateRules struct {
	Threshold       []ThresholdEntry       `yaml:"threshold"`
	Marketplace     []MarketplaceEntry     `yaml:"marketplace"`
	Rate            []RateEntry            `yaml:"rate"`
	InterestPenalty []InterestPenaltyEntry `yaml:"interest_penalty"`
}

// Window is the effective range of one version. EffectiveTo may be omitted;
// it then runs until the next version starts.
type Window struct {
	EffectiveFrom string `yaml:"effective_from"`
	EffectiveTo   string `yaml:"effective_to"`
}

// ThresholdEntry is one threshold version.
type ThresholdEntry struct {
	Window           `yaml:",inline"`
	Revenue          string `yaml:"revenue"`
	Operator         string `yaml:"operator"`
	Lookback         string `yaml:"lookback"`
	Transactions     int    `yaml:"transactions"`
	LookbackQuarters int    `yaml:"lookback_quarters"`
	FiscalStartMonth int    `yaml:"fiscal_start_month"`
}

// MarketplaceEntry is one marketplace facilitator version.
type MarketplaceEntry struct {
	Window                `yaml:",inline"`
	LawEffectiveDate      string `yaml:"law_effective_date"`
	CountsTowardThreshold *bool  `yaml:"counts_toward_threshold"`
	ExcludedFromLiability *bool  `yaml:"excluded_from_liability"`
}

// RateEntry is one rate version.
type RateEntry struct {
	Window       `yaml:",inline"`
	StateRate    string `yaml:"state_rate"`
	AvgLocalRate string `yaml:"avg_local_rate"`
	CombinedRate string `yaml:"combined_rate"`
}

// InterestPenaltyEntry is one interest and penalty version.
type InterestPenaltyEntry struct {
	Window            `yaml:",inline"`
	VDAInterestWaived *bool  `yaml:"vda_interest_waived"`
	VDAPenaltyWaived  *bool  `yaml:"vda_penalty_waived"`
	Method            string `yaml:"method"`
	AnnualRate        string `yaml:"annual_rate"`
	PenaltyRate       string `yaml:"penalty_rate"`
	PenaltyMin        string `yaml:"penalty_min"`
	PenaltyMax        string `yaml:"penalty_max"`
	VDALookbackMonths int    `yaml:"vda_lookback_months"`
}

// Default returns a repository built from the embedded rule table.
func Default() (*MemoryRepository, error) {
	return Parse(defaultRules)
}

// LoadFile reads a rule table from path. An empty path loads the embedded table.
func LoadFile(path string) (*MemoryRepository, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from user config
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML rule table into a repository.
func Parse(data []byte) (*MemoryRepository, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return file.Build()
}

// Build converts the decoded table into a repository.
func (f *File) Build() (*MemoryRepository, error) {
	repo := NewMemoryRepository()

	states := make([]string, 0, len(f.States))
	for state := range f.States {
		states = append(states, state)
	}
	sort.Strings(states)

	for _, raw := range states {
		state, ok := model.NormalizeState(raw)
		if !ok {
			return nil, fmt.Errorf("unknown state code %q in rules", raw)
		}
		entries := f.States[raw]

		if err := buildThresholds(repo, state, entries.Threshold); err != nil {
			return nil, err
		}

		marketplace := entries.Marketplace
		if len(marketplace) == 0 && f.Defaults.Marketplace != nil {
			marketplace = []MarketplaceEntry{*f.Defaults.Marketplace}
		}
		if err := buildMarketplace(repo, state, marketplace, f.Defaults.Marketplace); err != nil {
			return nil, err
		}

		if err := buildRates(repo, state, entries.Rate); err != nil {
			return nil, err
		}

		interest := entries.InterestPenalty
		if len(interest) == 0 && f.Defaults.InterestPenalty != nil {
			interest = []InterestPenaltyEntry{*f.Defaults.InterestPenalty}
		}
		if err := buildInterest(repo, state, interest, f.Defaults.InterestPenalty); err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func buildThresholds(repo *MemoryRepository, state string, entries []ThresholdEntry) error {
	windows := make([]Window, len(entries))
	for i, e := range entries {
		windows[i] = e.Window
	}
	effective, err := resolveWindows(windows)
	if err != nil {
		return fmt.Errorf("%s threshold: %w", state, err)
	}

	for i, e := range entries {
		revenue, err := parseDecimal(e.Revenue)
		if err != nil {
			return fmt.Errorf("%s threshold revenue: %w", state, err)
		}
		operator := model.ThresholdOperator(strings.ToLower(e.Operator))
		if operator == "" {
			operator = model.OperatorOr
		}
		lookback := model.LookbackPolicy(e.Lookback)
		if lookback == "" {
			lookback = model.LookbackCurrentOrPreviousYear
		}
		quarters := e.LookbackQuarters
		if lookback == model.LookbackPrecedingQuarters && quarters == 0 {
			quarters = 4
		}

		rule := model.ThresholdRule{
			Effective:            effective[i],
			State:                state,
			RevenueThreshold:     revenue,
			TransactionThreshold: e.Transactions,
			Operator:             operator,
			Lookback:             lookback,
			LookbackQuarters:     quarters,
			FiscalStartMonth:     time.Month(e.FiscalStartMonth),
		}
		if err := repo.AddThresholdRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func buildMarketplace(repo *MemoryRepository, state string, entries []MarketplaceEntry, defaults *MarketplaceEntry) error {
	windows := make([]Window, len(entries))
	for i, e := range entries {
		windows[i] = e.Window
	}
	effective, err := resolveWindows(windows)
	if err != nil {
		return fmt.Errorf("%s marketplace: %w", state, err)
	}

	for i, e := range entries {
		lawDate, err := parseOptionalDate(e.LawEffectiveDate)
		if err != nil {
			return fmt.Errorf("%s marketplace law_effective_date: %w", state, err)
		}
		rule := model.MarketplaceRule{
			Effective:             effective[i],
			State:                 state,
			LawEffectiveDate:      lawDate,
			CountsTowardThreshold: boolOr(e.CountsTowardThreshold, defaults, func(d *MarketplaceEntry) *bool { return d.CountsTowardThreshold }, true),
			ExcludedFromLiability: boolOr(e.ExcludedFromLiability, defaults, func(d *MarketplaceEntry) *bool { return d.ExcludedFromLiability }, true),
		}
		if err := repo.AddMarketplaceRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func buildRates(repo *MemoryRepository, state string, entries []RateEntry) error {
	windows := make([]Window, len(entries))
	for i, e := range entries {
		windows[i] = e.Window
	}
	effective, err := resolveWindows(windows)
	if err != nil {
		return fmt.Errorf("%s rate: %w", state, err)
	}

	for i, e := range entries {
		stateRate, err := parseDecimal(e.StateRate)
		if err != nil {
			return fmt.Errorf("%s state_rate: %w", state, err)
		}
		localRate, err := parseDecimal(e.AvgLocalRate)
		if err != nil {
			return fmt.Errorf("%s avg_local_rate: %w", state, err)
		}
		combined, err := parseDecimal(e.CombinedRate)
		if err != nil {
			return fmt.Errorf("%s combined_rate: %w", state, err)
		}
		rule := model.RateRule{
			Effective:    effective[i],
			State:        state,
			StateRate:    stateRate,
			AvgLocalRate: localRate,
			CombinedRate: combined,
		}
		if err := repo.AddRateRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func buildInterest(repo *MemoryRepository, state string, entries []InterestPenaltyEntry, defaults *InterestPenaltyEntry) error {
	windows := make([]Window, len(entries))
	for i, e := range entries {
		windows[i] = e.Window
	}
	effective, err := resolveWindows(windows)
	if err != nil {
		return fmt.Errorf("%s interest_penalty: %w", state, err)
	}

	for i, e := range entries {
		// Unset fields fall back to the defaults block.
		if defaults != nil {
			e = mergeInterest(e, *defaults)
		}
		annual, err := parseDecimal(e.AnnualRate)
		if err != nil {
			return fmt.Errorf("%s annual_rate: %w", state, err)
		}
		penalty, err := parseDecimal(e.PenaltyRate)
		if err != nil {
			return fmt.Errorf("%s penalty_rate: %w", state, err)
		}
		penaltyMin, err := parseOptionalDecimal(e.PenaltyMin)
		if err != nil {
			return fmt.Errorf("%s penalty_min: %w", state, err)
		}
		penaltyMax, err := parseOptionalDecimal(e.PenaltyMax)
		if err != nil {
			return fmt.Errorf("%s penalty_max: %w", state, err)
		}
		method := model.InterestMethod(e.Method)
		if method == "" {
			method = model.InterestSimple
		}

		rule := model.InterestPenaltyRule{
			Effective:         effective[i],
			State:             state,
			Method:            method,
			AnnualRate:        annual,
			PenaltyRate:       penalty,
			PenaltyMin:        penaltyMin,
			PenaltyMax:        penaltyMax,
			VDALookbackMonths: e.VDALookbackMonths,
			VDAPenaltyWaived:  e.VDAPenaltyWaived != nil && *e.VDAPenaltyWaived,
			VDAInterestWaived: e.VDAInterestWaived != nil && *e.VDAInterestWaived,
		}
		if err := repo.AddInterestPenaltyRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func mergeInterest(e, d InterestPenaltyEntry) InterestPenaltyEntry {
	if e.Method == "" {
		e.Method = d.Method
	}
	if e.AnnualRate == "" {
		e.AnnualRate = d.AnnualRate
	}
	if e.PenaltyRate == "" {
		e.PenaltyRate = d.PenaltyRate
	}
	if e.PenaltyMin == "" {
		e.PenaltyMin = d.PenaltyMin
	}
	if e.PenaltyMax == "" {
		e.PenaltyMax = d.PenaltyMax
	}
	if e.VDALookbackMonths == 0 {
		e.VDALookbackMonths = d.VDALookbackMonths
	}
	if e.VDAPenaltyWaived == nil {
		e.VDAPenaltyWaived = d.VDAPenaltyWaived
	}
	if e.VDAInterestWaived == nil {
		e.VDAInterestWaived = d.VDAInterestWaived
	}
	return e
}

// resolveWindows parses the version windows and fills missing effective_to
// values with the start of the following version.
func resolveWindows(windows []Window) ([]model.Effective, error) {
	result := make([]model.Effective, len(windows))
	for i, w := range windows {
		from := tableStart
		if w.EffectiveFrom != "" {
			parsed, err := time.Parse(dateLayout, w.EffectiveFrom)
			if err != nil {
				return nil, fmt.Errorf("invalid effective_from %q: %w", w.EffectiveFrom, err)
			}
			from = parsed
		}
		result[i].EffectiveFrom = from

		if w.EffectiveTo != "" {
			to, err := time.Parse(dateLayout, w.EffectiveTo)
			if err != nil {
				return nil, fmt.Errorf("invalid effective_to %q: %w", w.EffectiveTo, err)
			}
			if !to.After(from) {
				return nil, fmt.Errorf("effective_to %s is not after effective_from %s", w.EffectiveTo, from.Format(dateLayout))
			}
			result[i].EffectiveTo = &to
		}
	}

	order := make([]int, len(result))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return result[order[a]].EffectiveFrom.Before(result[order[b]].EffectiveFrom)
	})

	for k := 0; k < len(order)-1; k++ {
		cur := &result[order[k]]
		next := result[order[k+1]].EffectiveFrom
		if cur.EffectiveTo == nil {
			to := next
			cur.EffectiveTo = &to
		}
		if cur.EffectiveTo.After(next) {
			return nil, fmt.Errorf("versions starting %s and %s overlap",
				cur.EffectiveFrom.Format(dateLayout), next.Format(dateLayout))
		}
	}
	return result, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative value %q", s)
	}
	return d, nil
}

func parseOptionalDecimal(s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := parseDecimal(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseOptionalDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, strings.TrimSpace(s))
}

func boolOr[T any](v *bool, defaults *T, pick func(*T) *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	if defaults != nil {
		if d := pick(defaults); d != nil {
			return *d
		}
	}
	return fallback
}
