package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/cost"
)

var (
	costsDays int
	costsXLSX string
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Inspect model usage and spend",
}

var costsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Usage statistics over a trailing window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			stats, err := env.Ledger.UsageStats(cmd.Context(), costsDays)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var costsMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Month-to-date spend against the budget",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			m, err := env.Ledger.MonthlyCosts(cmd.Context())
			if err != nil {
				return err
			}
			printMonthly(cmd.OutOrStdout(), m)
			return nil
		})
	},
}

var costsRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Cost optimization recommendations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			recs, err := env.Ledger.Recommendations(cmd.Context())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No recommendations.")
				return nil
			}
			for _, r := range recs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", r.Priority, r.Type, r.Message)
			}
			return nil
		})
	},
}

var costsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Full cost report as text or an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			if costsXLSX != "" {
				if err := env.Ledger.ExportXLSX(cmd.Context(), costsDays, costsXLSX); err != nil {
					return err
				}
				zap.L().Info("cost report written", zap.String("path", costsXLSX))
				return nil
			}
			report, err := env.Ledger.Report(cmd.Context(), costsDays)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

func init() {
	costsCmd.PersistentFlags().IntVar(&costsDays, "days", 7, "trailing window in days")
	costsReportCmd.Flags().StringVar(&costsXLSX, "xlsx", "", "write the report to this xlsx file")

	costsCmd.AddCommand(costsStatsCmd, costsMonthlyCmd, costsRecommendCmd, costsReportCmd)
	rootCmd.AddCommand(costsCmd)
}

func printMonthly(out io.Writer, m *cost.MonthlyReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Month start:\t%s\n", m.MonthStart.Format("2006-01-02"))
	_, _ = fmt.Fprintf(w, "Spent:\t$%.2f\n", m.CurrentMonthCost)
	_, _ = fmt.Fprintf(w, "Budget:\t$%.2f\n", m.MonthlyBudget)
	_, _ = fmt.Fprintf(w, "Remaining:\t$%.2f\n", m.RemainingBudget)
	_, _ = fmt.Fprintf(w, "Usage:\t%.1f%%\n", m.BudgetUsagePercent)
	_, _ = fmt.Fprintf(w, "Daily average:\t$%.4f\n", m.DailyAverage)
	_, _ = fmt.Fprintf(w, "Projected:\t$%.2f\n", m.ProjectedMonthlyCost)
	switch {
	case m.IsOverBudget:
		_, _ = fmt.Fprintln(w, "Status:\tOVER BUDGET")
	case m.IsOverThreshold:
		_, _ = fmt.Fprintln(w, "Status:\tover alert threshold")
	default:
		_, _ = fmt.Fprintln(w, "Status:\tok")
	}
	_ = w.Flush()
}
