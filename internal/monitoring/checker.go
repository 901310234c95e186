package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/config"
)

// Checker polls health snapshots and forwards the alerts they trigger. A
// condition that persists across polls is re-sent at most once per the
// alerter's repeat interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	every     time.Duration
}

// NewChecker creates a checker polling every cfg.CheckIntervalSecs (default
// five minutes).
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	every := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if every <= 0 {
		every = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		every:     every,
	}
}

// Run checks once immediately, then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started", zap.Duration("interval", c.every))

	ticker := time.NewTicker(c.every)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			log.Info("monitoring: checker stopped")
			return
		}
		c.Check(ctx)

		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot and delivers its alerts, skipping types sent
// within the alerter's repeat interval. It returns how many alerts the snapshot
// triggered, suppressed ones included.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		zap.L().Error("monitoring: collect snapshot", zap.Error(err))
		return 0
	}

	triggered := c.alerter.Evaluate(snap)
	sent := 0
	for _, a := range triggered {
		if c.alerter.deliver(ctx, a) {
			sent++
		}
	}
	if len(triggered) > 0 {
		zap.L().Info("monitoring: check complete",
			zap.Int("triggered", len(triggered)),
			zap.Int("sent", sent),
		)
	}
	return len(triggered)
}
