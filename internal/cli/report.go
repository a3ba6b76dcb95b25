package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/nexus-exposure/internal/analysis"
	"github.com/Veraticus/nexus-exposure/internal/model"
)

const dateLayout = "2006-01-02"

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

// FormatMoney renders an amount as dollars with thousands separators.
func FormatMoney(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	whole, cents, _ := strings.Cut(s, ".")

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(cents)
	return b.String()
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

func formatNexus(n model.NexusType) string {
	if n.HasNexus() {
		return NexusStyle.Render(string(n))
	}
	return SubtleStyle.Render(string(n))
}

func writeRow(w io.Writer, cells ...string) error {
	_, err := fmt.Fprintln(w, strings.Join(cells, "\t"))
	return err
}

func writeHeader(w io.Writer, names ...string) error {
	styled := make([]string, len(names))
	rule := make([]string, len(names))
	for i, name := range names {
		styled[i] = headerStyle.Render(name)
		rule[i] = strings.Repeat("─", len(name))
	}
	if err := writeRow(w, styled...); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writeRow(w, rule...); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}
	return nil
}

// WriteResults renders per-state, per-year results as a table.
func WriteResults(out io.Writer, results []model.StateYearResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, InfoStyle.Render("No results. Run 'nexus calculate' first."))
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	if err := writeHeader(w, "State", "Year", "Nexus", "Nexus Date", "Obligation", "Gross", "Taxable", "Exposure", "Tax", "Interest", "Penalty", "Total", "VDA Total"); err != nil {
		return err
	}

	for i := range results {
		r := &results[i]
		if err := writeRow(w,
			r.State,
			fmt.Sprintf("%d", r.Year),
			formatNexus(r.NexusType),
			formatOptionalDate(r.NexusDate),
			formatOptionalDate(r.ObligationStartDate),
			FormatMoney(r.GrossSales),
			FormatMoney(r.TaxableSales),
			FormatMoney(r.ExposureSales),
			FormatMoney(r.BaseTax),
			FormatMoney(r.Interest),
			FormatMoney(r.Penalties),
			FormatMoney(r.Total),
			FormatMoney(r.VDA.Total),
		); err != nil {
			return fmt.Errorf("failed to write result row: %w", err)
		}
	}
	return w.Flush()
}

// WriteSummary renders the analysis totals and one line per state.
func WriteSummary(out io.Writer, summary *model.AnalysisSummary) error {
	totals := fmt.Sprintf("States analyzed: %d\n", summary.StatesAnalyzed) +
		fmt.Sprintf("States with nexus: %d\n", summary.StatesWithNexus) +
		fmt.Sprintf("Gross sales: %s\n", FormatMoney(summary.GrossSales)) +
		fmt.Sprintf("Exposure sales: %s\n", FormatMoney(summary.ExposureSales)) +
		fmt.Sprintf("Estimated liability: %s\n", BoldStyle.Render(FormatMoney(summary.TotalLiability))) +
		fmt.Sprintf("  tax %s, interest %s, penalties %s\n",
			FormatMoney(summary.BaseTax), FormatMoney(summary.Interest), FormatMoney(summary.Penalties)) +
		fmt.Sprintf("With voluntary disclosure: %s (saves %s)\n",
			FormatMoney(summary.VDALiability), FormatMoney(summary.VDASavings)) +
		SubtleStyle.Render("Computed "+summary.ComputedAt.Format(time.RFC3339))

	if _, err := fmt.Fprintln(out, RenderBox(ChartIcon+" Exposure Summary "+summary.AnalysisID, totals)); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if len(summary.States) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	if err := writeHeader(w, "State", "Nexus", "First Year", "Years", "Gross", "Exposure", "Total", "VDA Total", "Savings"); err != nil {
		return err
	}
	for i := range summary.States {
		s := &summary.States[i]
		firstYear := "-"
		if s.FirstNexusYear > 0 {
			firstYear = fmt.Sprintf("%d", s.FirstNexusYear)
		}
		if err := writeRow(w,
			s.State,
			formatNexus(s.NexusType),
			firstYear,
			fmt.Sprintf("%d", s.YearsWithNexus),
			FormatMoney(s.GrossSales),
			FormatMoney(s.ExposureSales),
			FormatMoney(s.Total),
			FormatMoney(s.VDA.Total),
			FormatMoney(s.Total.Sub(s.VDA.Total)),
		); err != nil {
			return fmt.Errorf("failed to write state row: %w", err)
		}
	}
	return w.Flush()
}

// WriteRun renders a run's status line and any per-state failures.
func WriteRun(out io.Writer, run *analysis.Run, now time.Time) error {
	line := fmt.Sprintf("Run %s: %s (%d/%d states, %s)",
		run.ID, StyleStatus(string(run.Status)), run.StatesDone, run.StatesTotal,
		run.Duration(now).Round(time.Millisecond))
	if _, err := fmt.Fprintln(out, line); err != nil {
		return err
	}
	if run.Error != nil {
		if _, err := fmt.Fprintln(out, FormatError(*run.Error)); err != nil {
			return err
		}
	}
	for _, failure := range run.StateErrors {
		if _, err := fmt.Fprintln(out, FormatWarning(failure.State+": "+failure.Error)); err != nil {
			return err
		}
	}
	return nil
}
