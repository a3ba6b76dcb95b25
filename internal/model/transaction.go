package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Channel identifies how a sale reached the buyer.
type Channel string

// Channel constants.
const (
	ChannelDirect      Channel = "direct"
	ChannelMarketplace Channel = "marketplace"
)

// IsValid reports whether the channel is one of the known values.
func (c Channel) IsValid() bool {
	return c == ChannelDirect || c == ChannelMarketplace
}

// Transaction represents a single normalized sale. Transactions are immutable
// once ingested; the engine only reads them.
type Transaction struct {
	Date        time.Time
	ID          string
	AnalysisID  string
	State       string
	Channel     Channel
	Hash        string
	GrossAmount decimal.Decimal
	// ExemptAmount is the portion of GrossAmount not subject to sales tax.
	ExemptAmount decimal.Decimal
}

// TaxableAmount returns the gross amount less the exempt portion, never negative.
func (t *Transaction) TaxableAmount() decimal.Decimal {
	taxable := t.GrossAmount.Sub(t.ExemptAmount)
	if taxable.IsNegative() {
		return decimal.Zero
	}
	return taxable
}

// IsMarketplace reports whether the sale was made through a marketplace facilitator.
func (t *Transaction) IsMarketplace() bool {
	return t.Channel == ChannelMarketplace
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s",
		t.AnalysisID,
		t.ID,
		t.Date.Format("2006-01-02"),
		t.State,
		t.GrossAmount.StringFixed(2),
		t.ExemptAmount.StringFixed(2),
		t.Channel)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
