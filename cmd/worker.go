package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/pipeline"
)

var workerNoSchedule bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that executes the scheduled daily run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := pipeline.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		if !workerNoSchedule {
			if _, err := pipeline.ScheduleDaily(ctx, c, cfg.Temporal); err != nil {
				return err
			}
		}

		w := pipeline.NewWorker(c, cfg.Temporal, &pipeline.Activities{
			Runner:   env.Pipeline,
			Reporter: env.Alerter,
		})

		zap.L().Info("starting temporal worker",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("cron", cfg.Temporal.CronSchedule),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerNoSchedule, "no-schedule", false, "do not (re)create the cron workflow")
	rootCmd.AddCommand(workerCmd)
}
