package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeState(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{input: "ca", want: "CA", wantOK: true},
		{input: " ny ", want: "NY", wantOK: true},
		{input: "DC", want: "DC", wantOK: true},
		{input: "PR", want: "PR", wantOK: false},
		{input: "", want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeState(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestStateCodes(t *testing.T) {
	codes := StateCodes()
	assert.Len(t, codes, 51)
	assert.Equal(t, "AK", codes[0])
	assert.Equal(t, "California", StateName("CA"))
	assert.Equal(t, "ZZ", StateName("ZZ"))
}

func TestThresholdRule_Met(t *testing.T) {
	hundredK := decimal.NewFromInt(100000)

	tests := []struct {
		name    string
		rule    ThresholdRule
		revenue int64
		count   int
		want    bool
	}{
		{
			name:    "or met by revenue",
			rule:    ThresholdRule{RevenueThreshold: hundredK, TransactionThreshold: 200, Operator: OperatorOr},
			revenue: 110000, count: 10, want: true,
		},
		{
			name:    "or met by count",
			rule:    ThresholdRule{RevenueThreshold: hundredK, TransactionThreshold: 200, Operator: OperatorOr},
			revenue: 5000, count: 200, want: true,
		},
		{
			name:    "or unmet",
			rule:    ThresholdRule{RevenueThreshold: hundredK, TransactionThreshold: 200, Operator: OperatorOr},
			revenue: 99999, count: 199, want: false,
		},
		{
			name:    "and needs both",
			rule:    ThresholdRule{RevenueThreshold: hundredK, TransactionThreshold: 100, Operator: OperatorAnd},
			revenue: 120000, count: 80, want: false,
		},
		{
			name:    "and met",
			rule:    ThresholdRule{RevenueThreshold: hundredK, TransactionThreshold: 100, Operator: OperatorAnd},
			revenue: 120000, count: 100, want: true,
		},
		{
			name:    "revenue only rule ignores count",
			rule:    ThresholdRule{RevenueThreshold: hundredK, Operator: OperatorOr},
			revenue: 50000, count: 100000, want: false,
		},
		{
			name:    "and with revenue only",
			rule:    ThresholdRule{RevenueThreshold: hundredK, Operator: OperatorAnd},
			revenue: 100000, count: 0, want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Met(decimal.NewFromInt(tt.revenue), tt.count))
		})
	}
}

func TestEffective_Covers(t *testing.T) {
	from := time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Effective{EffectiveFrom: from, EffectiveTo: &to}

	assert.False(t, e.Covers(from.AddDate(0, 0, -1)))
	assert.True(t, e.Covers(from))
	assert.True(t, e.Covers(to.AddDate(0, 0, -1)))
	assert.False(t, e.Covers(to))

	open := Effective{EffectiveFrom: from}
	assert.True(t, open.Covers(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestTransaction_TaxableAmount(t *testing.T) {
	txn := Transaction{GrossAmount: decimal.NewFromInt(100), ExemptAmount: decimal.NewFromInt(30)}
	assert.True(t, decimal.NewFromInt(70).Equal(txn.TaxableAmount()))

	over := Transaction{GrossAmount: decimal.NewFromInt(100), ExemptAmount: decimal.NewFromInt(130)}
	assert.True(t, over.TaxableAmount().IsZero())
}

func TestPhysicalNexusFact_StillActive(t *testing.T) {
	asOf := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	ended := time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC)
	later := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	open := PhysicalNexusFact{EstablishedDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	assert.True(t, open.StillActive(asOf))

	closed := PhysicalNexusFact{EndedDate: &ended}
	assert.False(t, closed.StillActive(asOf))

	closing := PhysicalNexusFact{EndedDate: &later}
	assert.True(t, closing.StillActive(asOf))
}
