package nexus

import (
	"time"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// Status is a state's position in the nexus lifecycle.
type Status string

// Status constants.
const (
	StatusNoNexus             Status = "no_nexus"
	StatusEconomicPending     Status = "economic_pending"
	StatusEconomicEstablished Status = "economic_established"
	StatusPhysicalEstablished Status = "physical_established"
	StatusBoth                Status = "both"
)

// Tracker folds one state's years in ascending order. Transitions only move
// forward: once established, nexus is never revoked.
type Tracker struct {
	economic *Crossing
	physical *time.Time
	pending  bool
}

// ObserveSales moves a state with counted sales into EconomicPending.
func (t *Tracker) ObserveSales(w Window) {
	if t.economic == nil && (w.Revenue.IsPositive() || w.Transactions > 0) {
		t.pending = true
	}
}

// EstablishEconomic records the first threshold crossing. Later crossings are ignored.
func (t *Tracker) EstablishEconomic(c Crossing) {
	if t.economic != nil {
		return
	}
	t.economic = &c
	t.pending = false
}

// EstablishPhysical records physical presence, keeping the earliest date.
// Obligations begin on that date with no following-month delay.
func (t *Tracker) EstablishPhysical(date time.Time) {
	date = dateOf(date)
	if t.physical == nil || date.Before(*t.physical) {
		t.physical = &date
	}
}

// HasEconomic reports whether the threshold has been crossed.
func (t *Tracker) HasEconomic() bool {
	return t.economic != nil
}

// Status returns the current lifecycle state.
func (t *Tracker) Status() Status {
	switch {
	case t.economic != nil && t.physical != nil:
		return StatusBoth
	case t.economic != nil:
		return StatusEconomicEstablished
	case t.physical != nil:
		return StatusPhysicalEstablished
	case t.pending:
		return StatusEconomicPending
	default:
		return StatusNoNexus
	}
}

// YearNexus is the nexus outcome carried into one year's result.
type YearNexus struct {
	NexusDate       *time.Time
	ObligationStart *time.Time
	Type            model.NexusType
	FirstNexusYear  int
}

// Snapshot returns the nexus outcome as of the end of the current fold step.
func (t *Tracker) Snapshot() YearNexus {
	var dates, starts []time.Time
	if t.economic != nil {
		dates = append(dates, t.economic.Date)
		starts = append(starts, t.economic.ObligationStart())
	}
	if t.physical != nil {
		dates = append(dates, *t.physical)
		starts = append(starts, *t.physical)
	}
	if len(dates) == 0 {
		return YearNexus{Type: model.NexusNone}
	}

	nexusDate := earliest(dates)
	start := earliest(starts)
	return YearNexus{
		Type:            t.nexusType(),
		NexusDate:       &nexusDate,
		ObligationStart: &start,
		FirstNexusYear:  nexusDate.Year(),
	}
}

func (t *Tracker) nexusType() model.NexusType {
	switch t.Status() {
	case StatusBoth:
		return model.NexusBoth
	case StatusEconomicEstablished:
		return model.NexusEconomic
	case StatusPhysicalEstablished:
		return model.NexusPhysical
	default:
		return model.NexusNone
	}
}

func earliest(dates []time.Time) time.Time {
	first := dates[0]
	for _, d := range dates[1:] {
		if d.Before(first) {
			first = d
		}
	}
	return first
}
