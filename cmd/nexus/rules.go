package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/cli"
	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the state rule table",
	}

	cmd.AddCommand(checkRulesCmd())
	cmd.AddCommand(showRulesCmd())

	return cmd
}

func checkRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [rules.yaml]",
		Short: "Validate a rule table and report coverage gaps",
		Long: `Load a rule table (the configured one, or the embedded defaults) and report
every state whose marketplace, rate, or interest rule does not resolve on the
given date. A state with gaps would fail during calculation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := asOfFlag(cmd)
			if err != nil {
				return err
			}

			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Rules.Path
			}

			repo, err := rules.LoadFile(path)
			if err != nil {
				return common.NewUserError("rule table is invalid", err)
			}

			source := path
			if source == "" {
				source = "embedded defaults"
			}

			out := cmd.OutOrStdout()
			gaps := rules.Coverage(cmd.Context(), repo, asOf)
			if len(gaps) == 0 {
				_, err := fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s: %d states fully covered as of %s",
					source, len(repo.States()), asOf.Format(dateLayout))))
				return err
			}

			if _, err := fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s: %d gaps as of %s",
				source, len(gaps), asOf.Format(dateLayout)))); err != nil {
				return err
			}
			for _, gap := range gaps {
				if _, err := fmt.Fprintf(out, "  %s %-17s %v\n", gap.State, gap.RuleType, gap.Err); err != nil {
					return err
				}
			}
			return common.NewUserError(fmt.Sprintf("%d rule gaps", len(gaps)), nil)
		},
	}

	cmd.Flags().String("as-of", "", "Date to resolve rules on (YYYY-MM-DD, default today)")

	return cmd
}

func showRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <state>",
		Short: "Show the rules in effect for one state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			state, ok := model.NormalizeState(args[0])
			if !ok {
				return common.NewUserError(fmt.Sprintf("unknown state code %q", args[0]), nil)
			}
			asOf, err := asOfFlag(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			repo, err := loadRules(cfg)
			if err != nil {
				return err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Rules as of %s\n\n", asOf.Format(dateLayout))

			threshold, err := repo.ThresholdRule(ctx, state, asOf)
			switch {
			case err == nil:
				writeThreshold(&b, threshold)
			case errors.Is(err, rules.ErrNotYetEffective):
				b.WriteString("Threshold:   not yet in effect\n")
			default:
				fmt.Fprintf(&b, "Threshold:   %v\n", err)
			}

			if marketplace, err := repo.MarketplaceRule(ctx, state, asOf); err == nil {
				law := "none"
				if !marketplace.LawEffectiveDate.IsZero() {
					law = marketplace.LawEffectiveDate.Format(dateLayout)
				}
				fmt.Fprintf(&b, "Marketplace: law since %s, counts toward threshold %s, excluded from liability %s\n",
					law, yesNo(marketplace.CountsTowardThreshold), yesNo(marketplace.ExcludedFromLiability))
			} else {
				fmt.Fprintf(&b, "Marketplace: %v\n", err)
			}

			if rate, err := repo.RateRule(ctx, state, asOf); err == nil {
				fmt.Fprintf(&b, "Rate:        %s combined (%s state + %s average local)\n",
					percent(rate.CombinedRate), percent(rate.StateRate), percent(rate.AvgLocalRate))
			} else {
				fmt.Fprintf(&b, "Rate:        %v\n", err)
			}

			if interest, err := repo.InterestPenaltyRule(ctx, state, asOf); err == nil {
				writeInterest(&b, interest)
			} else {
				fmt.Fprintf(&b, "Interest:    %v\n", err)
			}

			title := fmt.Sprintf("%s %s (%s)", cli.MapIcon, model.StateName(state), state)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(title, strings.TrimRight(b.String(), "\n")))
			return err
		},
	}

	cmd.Flags().String("as-of", "", "Date to resolve rules on (YYYY-MM-DD, default today)")

	return cmd
}

func asOfFlag(cmd *cobra.Command) (time.Time, error) {
	asOf, err := dateFlag(cmd, "as-of")
	if err != nil {
		return time.Time{}, err
	}
	if asOf.IsZero() {
		now := time.Now()
		asOf = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return asOf, nil
}

func writeThreshold(w io.Writer, r *model.ThresholdRule) {
	var tests []string
	if r.RevenueThreshold.IsPositive() {
		tests = append(tests, cli.FormatMoney(r.RevenueThreshold)+" in sales")
	}
	if r.TransactionThreshold > 0 {
		tests = append(tests, fmt.Sprintf("%d transactions", r.TransactionThreshold))
	}
	lookback := string(r.Lookback)
	switch r.Lookback {
	case model.LookbackPrecedingQuarters:
		lookback = fmt.Sprintf("%s (%d)", lookback, r.LookbackQuarters)
	case model.LookbackFiscalYear:
		lookback = fmt.Sprintf("%s (starts %s)", lookback, r.FiscalStartMonth)
	}
	_, _ = fmt.Fprintf(w, "Threshold:   %s, %s, since %s\n",
		strings.Join(tests, " "+string(r.Operator)+" "), lookback, r.EffectiveFrom.Format(dateLayout))
}

func writeInterest(w io.Writer, r *model.InterestPenaltyRule) {
	_, _ = fmt.Fprintf(w, "Interest:    %s %s per year\n", percent(r.AnnualRate), r.Method)

	penalty := percent(r.PenaltyRate)
	if r.PenaltyMin != nil {
		penalty += ", min " + cli.FormatMoney(*r.PenaltyMin)
	}
	if r.PenaltyMax != nil {
		penalty += ", max " + cli.FormatMoney(*r.PenaltyMax)
	}
	_, _ = fmt.Fprintf(w, "Penalty:     %s\n", penalty)

	lookback := "engine default"
	if r.VDALookbackMonths > 0 {
		lookback = fmt.Sprintf("%d months", r.VDALookbackMonths)
	}
	_, _ = fmt.Fprintf(w, "VDA:         lookback %s, penalty waived %s, interest waived %s\n",
		lookback, yesNo(r.VDAPenaltyWaived), yesNo(r.VDAInterestWaived))
}

func percent(rate decimal.Decimal) string {
	return rate.Shift(2).StringFixed(2) + "%"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
