package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

const dateLayout = "2006-01-02"

// AnalysisResponse describes an analysis.
type AnalysisResponse struct {
	CreatedAt        time.Time `json:"created_at"`
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	AsOfDate         string    `json:"as_of_date"`
	VDADate          string    `json:"vda_date,omitempty"`
	TransactionCount int       `json:"transaction_count"`
}

// LiabilityResponse is one liability estimate.
type LiabilityResponse struct {
	ExposureSales decimal.Decimal `json:"exposure_sales"`
	BaseTax       decimal.Decimal `json:"base_tax"`
	Interest      decimal.Decimal `json:"interest"`
	Penalties     decimal.Decimal `json:"penalties"`
	Total         decimal.Decimal `json:"total"`
}

// StateYearResponse is one state-year result row.
type StateYearResponse struct {
	NexusDate           *string           `json:"nexus_date"`
	ObligationStartDate *string           `json:"obligation_start_date"`
	State               string            `json:"state"`
	NexusType           model.NexusType   `json:"nexus_type"`
	GrossSales          decimal.Decimal   `json:"gross_sales"`
	ExemptSales         decimal.Decimal   `json:"exempt_sales"`
	TaxableSales        decimal.Decimal   `json:"taxable_sales"`
	DirectSales         decimal.Decimal   `json:"direct_sales"`
	MarketplaceSales    decimal.Decimal   `json:"marketplace_sales"`
	Estimate            LiabilityResponse `json:"estimate"`
	VDA                 LiabilityResponse `json:"vda"`
	VDASavings          decimal.Decimal   `json:"vda_savings"`
	Year                int               `json:"year"`
	FirstNexusYear      int               `json:"first_nexus_year,omitempty"`
	TransactionCount    int               `json:"transaction_count"`
}

// StateSummaryResponse folds every year of one state.
type StateSummaryResponse struct {
	State          string            `json:"state"`
	NexusType      model.NexusType   `json:"nexus_type"`
	GrossSales     decimal.Decimal   `json:"gross_sales"`
	TaxableSales   decimal.Decimal   `json:"taxable_sales"`
	Estimate       LiabilityResponse `json:"estimate"`
	VDA            LiabilityResponse `json:"vda"`
	FirstNexusYear int               `json:"first_nexus_year,omitempty"`
	YearsWithNexus int               `json:"years_with_nexus"`
}

// SummaryResponse aggregates an analysis.
type SummaryResponse struct {
	ComputedAt      time.Time              `json:"computed_at"`
	States          []StateSummaryResponse `json:"states"`
	GrossSales      decimal.Decimal        `json:"gross_sales"`
	ExposureSales   decimal.Decimal        `json:"exposure_sales"`
	BaseTax         decimal.Decimal        `json:"base_tax"`
	Interest        decimal.Decimal        `json:"interest"`
	Penalties       decimal.Decimal        `json:"penalties"`
	TotalLiability  decimal.Decimal        `json:"total_liability"`
	VDALiability    decimal.Decimal        `json:"vda_liability"`
	VDASavings      decimal.Decimal        `json:"vda_savings"`
	StatesAnalyzed  int                    `json:"states_analyzed"`
	StatesWithNexus int                    `json:"states_with_nexus"`
}

// ResultsResponse is the body of the results endpoint.
type ResultsResponse struct {
	Summary    SummaryResponse     `json:"summary"`
	AnalysisID string              `json:"analysis_id"`
	Results    []StateYearResponse `json:"results"`
}

func newAnalysisResponse(a *model.Analysis, count int) AnalysisResponse {
	resp := AnalysisResponse{
		ID:               a.ID,
		Name:             a.Name,
		AsOfDate:         a.AsOfDate.Format(dateLayout),
		CreatedAt:        a.CreatedAt,
		TransactionCount: count,
	}
	if !a.VDADate.IsZero() {
		resp.VDADate = a.VDADate.Format(dateLayout)
	}
	return resp
}

func newLiabilityResponse(l model.Liability) LiabilityResponse {
	return LiabilityResponse{
		ExposureSales: l.ExposureSales,
		BaseTax:       l.BaseTax,
		Interest:      l.Interest,
		Penalties:     l.Penalties,
		Total:         l.Total,
	}
}

func optionalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func newStateYearResponse(r *model.StateYearResult) StateYearResponse {
	return StateYearResponse{
		State:               r.State,
		Year:                r.Year,
		NexusType:           r.NexusType,
		NexusDate:           optionalDate(r.NexusDate),
		ObligationStartDate: optionalDate(r.ObligationStartDate),
		FirstNexusYear:      r.FirstNexusYear,
		GrossSales:          r.GrossSales,
		ExemptSales:         r.ExemptSales,
		TaxableSales:        r.TaxableSales,
		DirectSales:         r.DirectSales,
		MarketplaceSales:    r.MarketplaceSales,
		TransactionCount:    r.TransactionCount,
		Estimate:            newLiabilityResponse(r.Liability),
		VDA:                 newLiabilityResponse(r.VDA),
		VDASavings:          r.VDASavings(),
	}
}

func newSummaryResponse(s *model.AnalysisSummary) SummaryResponse {
	states := make([]StateSummaryResponse, 0, len(s.States))
	for i := range s.States {
		st := &s.States[i]
		states = append(states, StateSummaryResponse{
			State:          st.State,
			NexusType:      st.NexusType,
			FirstNexusYear: st.FirstNexusYear,
			YearsWithNexus: st.YearsWithNexus,
			GrossSales:     st.GrossSales,
			TaxableSales:   st.TaxableSales,
			Estimate:       newLiabilityResponse(st.Liability),
			VDA:            newLiabilityResponse(st.VDA),
		})
	}
	return SummaryResponse{
		ComputedAt:      s.ComputedAt,
		States:          states,
		StatesAnalyzed:  s.StatesAnalyzed,
		StatesWithNexus: s.StatesWithNexus,
		GrossSales:      s.GrossSales,
		ExposureSales:   s.ExposureSales,
		BaseTax:         s.BaseTax,
		Interest:        s.Interest,
		Penalties:       s.Penalties,
		TotalLiability:  s.TotalLiability,
		VDALiability:    s.VDALiability,
		VDASavings:      s.VDASavings,
	}
}
