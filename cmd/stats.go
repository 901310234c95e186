package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/router"
)

var (
	statsDays int
	statsJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Post pipeline statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			s, err := env.Pipeline.Stats(cmd.Context(), statsDays)
			if err != nil {
				return err
			}
			if statsJSON {
				return printJSON(cmd.OutOrStdout(), s)
			}
			printPipelineStats(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Model availability, priority and circuit state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(env *appEnv) error {
			statuses, err := env.Router.Status(cmd.Context())
			if err != nil {
				return err
			}
			printModels(cmd.OutOrStdout(), statuses)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "trailing window in days")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print stats as JSON")
	rootCmd.AddCommand(statsCmd, modelsCmd)
}

func printPipelineStats(out io.Writer, s *model.PipelineStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Period:\t%d days\n", s.PeriodDays)
	_, _ = fmt.Fprintf(w, "Total posts:\t%d\n", s.TotalPosts)
	_, _ = fmt.Fprintf(w, "Approved:\t%d\n", s.Approved)
	_, _ = fmt.Fprintf(w, "Published:\t%d\n", s.Published)
	_, _ = fmt.Fprintf(w, "Needs review:\t%d\n", s.NeedsReview)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", s.Rejected)
	_, _ = fmt.Fprintf(w, "Approval rate:\t%.0f%%\n", s.ApprovalRate*100)
	_, _ = fmt.Fprintf(w, "Avg quality:\t%.2f\n", s.AverageQuality)
	_, _ = fmt.Fprintf(w, "Posts per day:\t%.2f\n", s.PostsPerDay)
	_ = w.Flush()
}

func printModels(out io.Writer, statuses []router.ModelStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PRIORITY\tMODEL\tPROVIDER\tAVAILABLE\tCIRCUIT")
	_, _ = fmt.Fprintln(w, "--------\t-----\t--------\t---------\t-------")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", s.Priority, s.Model, s.Provider, s.Available, s.Circuit)
	}
	_ = w.Flush()
}
