package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/model"
)

// DailyRunWorkflowID is the fixed ID of the cron workflow so scheduling twice
// reuses the existing run.
const DailyRunWorkflowID = "postpilot-daily-run"

// dailyRunTimeout bounds a single daily run activity.
const dailyRunTimeout = 30 * time.Minute

// DailyRunner executes one daily run. Implemented by *Orchestrator.
type DailyRunner interface {
	DailyRun(ctx context.Context) (*model.RunStats, error)
}

// RunReporter receives the stats of every finished run.
type RunReporter interface {
	ReportRun(ctx context.Context, stats *model.RunStats)
}

// Activities hosts the Temporal activities of the pipeline.
type Activities struct {
	Runner   DailyRunner
	Reporter RunReporter
}

// DailyRunActivity runs the pipeline once and reports the outcome.
func (a *Activities) DailyRunActivity(ctx context.Context) (*model.RunStats, error) {
	stats, err := a.Runner.DailyRun(ctx)
	if a.Reporter != nil && stats != nil {
		a.Reporter.ReportRun(ctx, stats)
	}
	return stats, err
}

// DailyRunWorkflow executes DailyRunActivity once. The activity is not
// retried; the next cron tick is the retry.
func DailyRunWorkflow(ctx workflow.Context) (*model.RunStats, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: dailyRunTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities
	var stats model.RunStats
	if err := workflow.ExecuteActivity(ctx, a.DailyRunActivity).Get(ctx, &stats); err != nil {
		return nil, err
	}

	workflow.GetLogger(ctx).Info("daily run finished",
		"run_id", stats.RunID,
		"generated", stats.PostsGenerated,
		"approved", stats.PostsApproved,
		"errors", len(stats.Errors),
	)
	return &stats, nil
}

// Register adds the workflow and activities to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(DailyRunWorkflow)
	w.RegisterActivity(acts)
}

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// ScheduleDaily starts the cron workflow on cfg's task queue. An already
// running schedule is left in place.
func ScheduleDaily(ctx context.Context, c client.Client, cfg config.TemporalConfig) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           DailyRunWorkflowID,
		TaskQueue:    cfg.TaskQueue,
		CronSchedule: cfg.CronSchedule,
	}, DailyRunWorkflow)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: schedule daily run")
	}
	zap.L().Info("pipeline: daily run scheduled",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("cron", cfg.CronSchedule),
	)
	return run, nil
}

// NewWorker creates a worker on cfg's task queue with the pipeline registered.
func NewWorker(c client.Client, cfg config.TemporalConfig, acts *Activities) worker.Worker {
	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 1,
	})
	Register(w, acts)
	return w
}
