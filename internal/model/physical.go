package model

import "time"

// PhysicalNexusFact records a user-supplied physical presence in a state
// (office, warehouse, employee).
type PhysicalNexusFact struct {
	EstablishedDate time.Time
	EndedDate       *time.Time
	AnalysisID      string
	State           string
	Description     string
	ID              int64
}

// StillActive reports whether the presence had not ended as of asOf.
func (f *PhysicalNexusFact) StillActive(asOf time.Time) bool {
	return f.EndedDate == nil || f.EndedDate.After(asOf)
}
