package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Ingest errors.
var (
	ErrMissingColumn   = errors.New("missing required column")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrConflictingTax  = errors.New("both taxable_amount and exempt_amount columns present")
	ErrEmptyFile       = errors.New("file has no header row")
	// ErrInvalidRows matches any ValidationErrors.
	ErrInvalidRows = errors.New("invalid rows")
)

// RowError describes one invalid cell. Row is the 1-based line number in the
// file, counting the header.
type RowError struct {
	Column string
	Value  string
	Reason string
	Row    int
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d, column %s: %s (%q)", e.Row, e.Column, e.Reason, e.Value)
}

// ValidationErrors collects every RowError found in a file.
type ValidationErrors []*RowError

// maxListed caps how many row errors Error() spells out.
const maxListed = 10

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d invalid rows", len(v))
	for i, err := range v {
		if i == maxListed {
			fmt.Fprintf(&b, "; and %d more", len(v)-maxListed)
			break
		}
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Is makes errors.Is(v, ErrInvalidRows) hold.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrInvalidRows
}

// Rows returns the distinct row numbers with errors.
func (v ValidationErrors) Rows() []int {
	seen := make(map[int]bool, len(v))
	var rows []int
	for _, err := range v {
		if !seen[err.Row] {
			seen[err.Row] = true
			rows = append(rows, err.Row)
		}
	}
	return rows
}
