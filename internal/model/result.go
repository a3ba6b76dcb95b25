package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NexusType is the kind of nexus a seller has in a state for a year.
type NexusType string

// Nexus type constants.
const (
	NexusNone     NexusType = "none"
	NexusEconomic NexusType = "economic"
	NexusPhysical NexusType = "physical"
	NexusBoth     NexusType = "both"
)

// HasNexus reports whether the type represents an established obligation.
func (n NexusType) HasNexus() bool {
	return n != "" && n != NexusNone
}

// Liability is the dollar outcome of one estimate.
type Liability struct {
	ExposureSales decimal.Decimal
	BaseTax       decimal.Decimal
	Interest      decimal.Decimal
	Penalties     decimal.Decimal
	Total         decimal.Decimal
}

// StateYearResult is the engine output for one state and one calendar year.
// Result sets are replaced wholesale on every run.
type StateYearResult struct {
	NexusDate           *time.Time
	ObligationStartDate *time.Time
	// FirstNexusYear is zero until nexus is first established.
	FirstNexusYear   int
	AnalysisID       string
	State            string
	NexusType        NexusType
	Year             int
	GrossSales       decimal.Decimal
	ExemptSales      decimal.Decimal
	TaxableSales     decimal.Decimal
	DirectSales      decimal.Decimal
	MarketplaceSales decimal.Decimal
	TransactionCount int
	Liability
	// VDA is the same year estimated under voluntary disclosure terms.
	VDA Liability
}

// EstimatedLiability is the standard estimate total.
func (r *StateYearResult) EstimatedLiability() decimal.Decimal {
	return r.Total
}

// VDASavings is the difference between the standard and VDA totals.
func (r *StateYearResult) VDASavings() decimal.Decimal {
	return r.Total.Sub(r.VDA.Total)
}

// StateSummary folds every year of one state.
type StateSummary struct {
	AnalysisID       string
	State            string
	NexusType        NexusType
	FirstNexusYear   int
	YearsWithNexus   int
	GrossSales       decimal.Decimal
	ExemptSales      decimal.Decimal
	TaxableSales     decimal.Decimal
	DirectSales      decimal.Decimal
	MarketplaceSales decimal.Decimal
	TransactionCount int
	Liability
	VDA Liability
}

// AnalysisSummary aggregates every state of an analysis.
type AnalysisSummary struct {
	ComputedAt      time.Time
	AnalysisID      string
	States          []StateSummary
	StatesAnalyzed  int
	StatesWithNexus int
	GrossSales      decimal.Decimal
	ExposureSales   decimal.Decimal
	BaseTax         decimal.Decimal
	Interest        decimal.Decimal
	Penalties       decimal.Decimal
	TotalLiability  decimal.Decimal
	VDALiability    decimal.Decimal
	VDASavings      decimal.Decimal
}
