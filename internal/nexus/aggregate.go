package nexus

import (
	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// Aggregate folds per-year results, ordered by state then year, into
// per-state totals and an analysis summary. ComputedAt is left for the
// caller to stamp.
func Aggregate(analysisID string, results []model.StateYearResult) model.AnalysisSummary {
	summary := model.AnalysisSummary{
		AnalysisID:     analysisID,
		GrossSales:     decimal.Zero,
		ExposureSales:  decimal.Zero,
		BaseTax:        decimal.Zero,
		Interest:       decimal.Zero,
		Penalties:      decimal.Zero,
		TotalLiability: decimal.Zero,
		VDALiability:   decimal.Zero,
		VDASavings:     decimal.Zero,
	}

	for i := 0; i < len(results); {
		j := i
		for j < len(results) && results[j].State == results[i].State {
			j++
		}
		state := SummarizeState(results[i:j])
		summary.States = append(summary.States, state)
		i = j

		summary.StatesAnalyzed++
		if state.YearsWithNexus > 0 {
			summary.StatesWithNexus++
		}
		summary.GrossSales = summary.GrossSales.Add(state.GrossSales)
		summary.ExposureSales = summary.ExposureSales.Add(state.ExposureSales)
		summary.BaseTax = summary.BaseTax.Add(state.BaseTax)
		summary.Interest = summary.Interest.Add(state.Interest)
		summary.Penalties = summary.Penalties.Add(state.Penalties)
		summary.TotalLiability = summary.TotalLiability.Add(state.Total)
		summary.VDALiability = summary.VDALiability.Add(state.VDA.Total)
	}
	summary.VDASavings = summary.TotalLiability.Sub(summary.VDALiability)
	return summary
}

// SummarizeState folds one state's years. FirstNexusYear is the minimum
// across the fold, and NexusType is the type of the latest year.
func SummarizeState(years []model.StateYearResult) model.StateSummary {
	s := model.StateSummary{
		GrossSales:       decimal.Zero,
		ExemptSales:      decimal.Zero,
		TaxableSales:     decimal.Zero,
		DirectSales:      decimal.Zero,
		MarketplaceSales: decimal.Zero,
		NexusType:        model.NexusNone,
		Liability:        zeroLiability(),
		VDA:              zeroLiability(),
	}
	for i := range years {
		y := &years[i]
		s.AnalysisID = y.AnalysisID
		s.State = y.State
		s.NexusType = y.NexusType
		if y.NexusType.HasNexus() {
			s.YearsWithNexus++
		}
		if y.FirstNexusYear != 0 && (s.FirstNexusYear == 0 || y.FirstNexusYear < s.FirstNexusYear) {
			s.FirstNexusYear = y.FirstNexusYear
		}

		s.GrossSales = s.GrossSales.Add(y.GrossSales)
		s.ExemptSales = s.ExemptSales.Add(y.ExemptSales)
		s.TaxableSales = s.TaxableSales.Add(y.TaxableSales)
		s.DirectSales = s.DirectSales.Add(y.DirectSales)
		s.MarketplaceSales = s.MarketplaceSales.Add(y.MarketplaceSales)
		s.TransactionCount += y.TransactionCount
		s.Liability = addLiability(s.Liability, y.Liability)
		s.VDA = addLiability(s.VDA, y.VDA)
	}
	return s
}

func addLiability(a, b model.Liability) model.Liability {
	return model.Liability{
		ExposureSales: a.ExposureSales.Add(b.ExposureSales),
		BaseTax:       a.BaseTax.Add(b.BaseTax),
		Interest:      a.Interest.Add(b.Interest),
		Penalties:     a.Penalties.Add(b.Penalties),
		Total:         a.Total.Add(b.Total),
	}
}
