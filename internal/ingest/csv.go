// Package ingest normalizes sales exports into transactions.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/model"
)

// Column names after header normalization.
const (
	ColumnDate    = "date"
	ColumnState   = "state"
	ColumnAmount  = "amount"
	ColumnChannel = "channel"
	ColumnTaxable = "taxable_amount"
	ColumnExempt  = "exempt_amount"
	ColumnID      = "id"
)

var headerAliases = map[string]string{
	"date":             ColumnDate,
	"sale_date":        ColumnDate,
	"transaction_date": ColumnDate,
	"order_date":       ColumnDate,
	"state":            ColumnState,
	"ship_to_state":    ColumnState,
	"customer_state":   ColumnState,
	"amount":           ColumnAmount,
	"gross_amount":     ColumnAmount,
	"sales_amount":     ColumnAmount,
	"total":            ColumnAmount,
	"channel":          ColumnChannel,
	"sales_channel":    ColumnChannel,
	"taxable_amount":   ColumnTaxable,
	"taxable":          ColumnTaxable,
	"exempt_amount":    ColumnExempt,
	"exempt":           ColumnExempt,
	"id":               ColumnID,
	"transaction_id":   ColumnID,
	"order_id":         ColumnID,
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

var marketplaceChannels = map[string]bool{
	"marketplace":             true,
	"mp":                      true,
	"amazon":                  true,
	"etsy":                    true,
	"ebay":                    true,
	"walmart":                 true,
	"shopify_marketplace":     true,
	"marketplace_facilitator": true,
}

// idNamespace seeds deterministic IDs for rows without an id column.
var idNamespace = uuid.MustParse("6f1c2b0e-8a4d-5b7e-9c3f-2d1e0a9b8c7d")

// Result is the outcome of parsing one file.
type Result struct {
	Transactions []model.Transaction
	Errors       ValidationErrors
	Rows         int
}

// Parser reads normalized CSV sales exports.
type Parser struct {
	analysisID string
}

// NewParser creates a parser that assigns every transaction to analysisID.
func NewParser(analysisID string) *Parser {
	return &Parser{analysisID: analysisID}
}

// Parse reads every row of a CSV file. Structural problems (unreadable input,
// missing columns) are returned as an error; invalid rows are collected in
// Result.Errors and left out of Result.Transactions.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	seen := make(map[string]int)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Errors = append(result.Errors, &RowError{Row: parseErr.Line, Reason: parseErr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		result.Rows++

		txn, rowErrs := p.parseRecord(line, record, columns)
		if len(rowErrs) > 0 {
			result.Errors = append(result.Errors, rowErrs...)
			continue
		}

		if txn.ID == "" {
			txn.ID = syntheticID(&txn, seen)
		}
		txn.Hash = txn.GenerateHash()
		result.Transactions = append(result.Transactions, txn)
	}

	slog.Info("Parsed CSV file",
		"rows", result.Rows,
		"transactions", len(result.Transactions),
		"invalid_rows", len(result.Errors.Rows()))

	return result, nil
}

func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		canonical, ok := headerAliases[key]
		if !ok {
			slog.Debug("Ignoring unknown column", "column", name)
			continue
		}
		if _, dup := columns[canonical]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, canonical)
		}
		columns[canonical] = i
	}

	for _, required := range []string{ColumnDate, ColumnState, ColumnAmount} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}
	_, hasTaxable := columns[ColumnTaxable]
	_, hasExempt := columns[ColumnExempt]
	if hasTaxable && hasExempt {
		return nil, ErrConflictingTax
	}
	return columns, nil
}

func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\uFEFF")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

func (p *Parser) parseRecord(line int, record []string, columns map[string]int) (model.Transaction, ValidationErrors) {
	var errs ValidationErrors
	cell := func(column string) (string, bool) {
		i, ok := columns[column]
		if !ok || i >= len(record) {
			return "", ok
		}
		return strings.TrimSpace(record[i]), true
	}
	fail := func(column, value, reason string) {
		errs = append(errs, &RowError{Row: line, Column: column, Value: value, Reason: reason})
	}

	txn := model.Transaction{AnalysisID: p.analysisID}

	raw, _ := cell(ColumnDate)
	date, err := ParseDate(raw)
	if err != nil {
		fail(ColumnDate, raw, err.Error())
	}
	txn.Date = date

	raw, _ = cell(ColumnState)
	state, ok := model.NormalizeState(raw)
	if !ok {
		fail(ColumnState, raw, "unknown state code")
	}
	txn.State = state

	raw, _ = cell(ColumnAmount)
	gross, err := ParseAmount(raw)
	if err != nil {
		fail(ColumnAmount, raw, err.Error())
	}
	txn.GrossAmount = gross

	raw, _ = cell(ColumnChannel)
	txn.Channel = NormalizeChannel(raw)

	txn.ExemptAmount = decimal.Zero
	if raw, present := cell(ColumnTaxable); present && raw != "" {
		taxable, err := ParseAmount(raw)
		switch {
		case err != nil:
			fail(ColumnTaxable, raw, err.Error())
		case taxable.GreaterThan(gross):
			fail(ColumnTaxable, raw, "taxable amount exceeds gross amount")
		default:
			txn.ExemptAmount = gross.Sub(taxable)
		}
	}
	if raw, present := cell(ColumnExempt); present && raw != "" {
		exempt, err := ParseAmount(raw)
		switch {
		case err != nil:
			fail(ColumnExempt, raw, err.Error())
		case exempt.GreaterThan(gross):
			fail(ColumnExempt, raw, "exempt amount exceeds gross amount")
		default:
			txn.ExemptAmount = exempt
		}
	}

	txn.ID, _ = cell(ColumnID)
	return txn, errs
}

// ParseDate accepts ISO dates and U.S. month/day/year dates.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized date format")
}

// ParseAmount parses a non-negative money amount. Currency symbols, thousands
// separators and surrounding spaces are ignored.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if cleaned == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, errors.New("not a number")
	}
	if amount.IsNegative() {
		return decimal.Zero, errors.New("amount must not be negative")
	}
	return amount, nil
}

// NormalizeChannel maps a free-form channel label to a Channel. Anything not
// recognized as a marketplace is a direct sale.
func NormalizeChannel(s string) model.Channel {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if marketplaceChannels[key] {
		return model.ChannelMarketplace
	}
	return model.ChannelDirect
}

// syntheticID derives a stable ID from the row content, so re-importing the
// same file produces the same IDs. Identical rows within a file are told
// apart by their occurrence number.
func syntheticID(txn *model.Transaction, seen map[string]int) string {
	content := fmt.Sprintf("%s|%s|%s|%s|%s",
		txn.Date.Format("2006-01-02"),
		txn.State,
		txn.GrossAmount.StringFixed(2),
		txn.ExemptAmount.StringFixed(2),
		txn.Channel)
	seen[content]++
	key := fmt.Sprintf("%s#%d", content, seen[content])
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
