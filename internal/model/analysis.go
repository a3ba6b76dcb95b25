package model

import "time"

// Analysis groups one seller's transactions and physical facts for evaluation.
type Analysis struct {
	CreatedAt time.Time
	// AsOfDate is the evaluation date interest accrues to.
	AsOfDate time.Time
	// VDADate is the assumed voluntary disclosure filing date; zero means AsOfDate.
	VDADate time.Time
	ID      string
	Name    string
}

// EffectiveVDADate returns the date the VDA lookback is measured from.
func (a *Analysis) EffectiveVDADate() time.Time {
	if a.VDADate.IsZero() {
		return a.AsOfDate
	}
	return a.VDADate
}
