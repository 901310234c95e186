package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runSignalFiles []string

	emergencyTopic   string
	emergencyUrgency string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily pipeline once",
	Long:  "Collects signals, scores opportunities, drafts up to the daily target of posts and gates them for review. Prints the run stats as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run", runSignalFiles...)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Pipeline.DailyRun(ctx)
		if stats != nil {
			env.Alerter.ReportRun(ctx, stats)
			if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil {
				return eris.Wrap(perr, "print run stats")
			}
		}
		if err != nil {
			return err
		}
		if !stats.Success {
			zap.L().Warn("daily run finished without success",
				zap.String("run_id", stats.RunID),
				zap.Strings("errors", stats.Errors),
			)
		}
		return nil
	},
}

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Generate an urgent post about a breaking topic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		post, err := env.Pipeline.GenerateEmergencyPost(ctx, emergencyTopic, emergencyUrgency)
		if err != nil {
			return err
		}
		if post == nil {
			zap.L().Info("emergency post needs review before publication", zap.String("topic", emergencyTopic))
			return nil
		}
		return printJSON(cmd.OutOrStdout(), post)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runSignalFiles, "signals", nil, "signal files (jsonl or yaml) to collect before scoring")
	rootCmd.AddCommand(runCmd)

	emergencyCmd.Flags().StringVar(&emergencyTopic, "topic", "", "breaking topic (required)")
	emergencyCmd.Flags().StringVar(&emergencyUrgency, "urgency", "high", "urgency label")
	_ = emergencyCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(emergencyCmd)
}
