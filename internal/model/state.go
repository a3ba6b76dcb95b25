package model

import (
	"sort"
	"strings"
)

var stateCodes = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas", "CA": "California",
	"CO": "Colorado", "CT": "Connecticut", "DE": "Delaware", "DC": "District of Columbia",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho", "IL": "Illinois",
	"IN": "Indiana", "IA": "Iowa", "KS": "Kansas", "KY": "Kentucky", "LA": "Louisiana",
	"ME": "Maine", "MD": "Maryland", "MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota",
	"MS": "Mississippi", "MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma", "OR": "Oregon",
	"PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina", "SD": "South Dakota",
	"TN": "Tennessee", "TX": "Texas", "UT": "Utah", "VT": "Vermont", "VA": "Virginia",
	"WA": "Washington", "WV": "West Virginia", "WI": "Wisconsin", "WY": "Wyoming",
}

// NormalizeState upper-cases and trims a state code. It returns false when the
// code is not a U.S. state or DC.
func NormalizeState(code string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	_, ok := stateCodes[normalized]
	return normalized, ok
}

// StateName returns the full name for a code, or the code itself when unknown.
func StateName(code string) string {
	if name, ok := stateCodes[code]; ok {
		return name
	}
	return code
}

// StateCodes returns every known state code in sorted order.
func StateCodes() []string {
	codes := make([]string, 0, len(stateCodes))
	for code := range stateCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// noSalesTax lists states that levy no statewide sales tax.
var noSalesTax = map[string]bool{
	"AK": true,
	"DE": true,
	"MT": true,
	"NH": true,
	"OR": true,
}

// HasSalesTax reports whether the state levies a statewide sales tax. Sales
// into the others are reported but never create an obligation.
func HasSalesTax(code string) bool {
	return !noSalesTax[code]
}
