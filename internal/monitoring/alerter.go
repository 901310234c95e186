package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/cost"
	"github.com/sells-group/postpilot/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBudgetWarning  AlertType = "budget_warning"
	AlertBudgetExceeded AlertType = "budget_exceeded"
	AlertRunFailed      AlertType = "run_failed"
	AlertReviewBacklog  AlertType = "review_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultRepeatInterval is how long an alert type stays quiet after it was
// delivered.
const DefaultRepeatInterval = time.Hour

// Alerter turns budget alerts, run results and health snapshots into
// webhook deliveries. Budget and health alerts of one type are delivered at
// most once per repeat interval; run failures are always sent.
type Alerter struct {
	cfg     config.MonitoringConfig
	budget  model.Budget
	client  *http.Client
	now     func() time.Time
	repeat  time.Duration
	pending sync.WaitGroup

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config and budget.
func NewAlerter(cfg config.MonitoringConfig, budget model.Budget) *Alerter {
	return &Alerter{
		cfg:    cfg,
		budget: budget,
		client: &http.Client{Timeout: 10 * time.Second},
		now:      func() time.Time { return time.Now().UTC() },
		repeat:   DefaultRepeatInterval,
		lastSent: make(map[AlertType]time.Time),
	}
}

// claim reserves a delivery slot for typ. It returns false while an earlier
// alert of the same type is inside the repeat interval.
func (a *Alerter) claim(typ AlertType) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.lastSent[typ]; ok && now.Sub(last) < a.repeat {
		return time.Time{}, false
	}
	a.lastSent[typ] = now
	return now, true
}

// release gives back a slot whose delivery failed so the next alert of the
// type is not suppressed.
func (a *Alerter) release(typ AlertType, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastSent[typ].Equal(at) {
		delete(a.lastSent, typ)
	}
}

// deliver sends alert unless its type was delivered within the repeat
// interval. It reports whether the alert went out.
func (a *Alerter) deliver(ctx context.Context, alert Alert) bool {
	at, ok := a.claim(alert.Type)
	if !ok {
		zap.L().Debug("monitoring: alert suppressed", zap.String("type", string(alert.Type)))
		return false
	}
	if a.SendAlerts(ctx, []Alert{alert}) == 0 {
		a.release(alert.Type, at)
		return false
	}
	return true
}

// Notify forwards a ledger budget alert to the webhook without blocking the
// caller. Repeats of the same level inside the repeat interval are dropped.
// Use Wait to flush outstanding deliveries.
func (a *Alerter) Notify(ctx context.Context, b cost.BudgetAlert) {
	alert := Alert{
		Type:     AlertBudgetWarning,
		Severity: "medium",
		Message:  b.Message,
		Details: map[string]any{
			"month_to_date": b.MonthToDate,
			"budget":        b.Budget,
			"usage_percent": b.UsagePercent,
		},
		Timestamp: b.RaisedAt,
	}
	if b.Level == cost.AlertExceeded {
		alert.Type = AlertBudgetExceeded
		alert.Severity = "high"
	}
	if a.cfg.WebhookURL == "" {
		return
	}

	ctx = context.WithoutCancel(ctx)
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		a.deliver(ctx, alert)
	}()
}

// Wait blocks until every alert dispatched by Notify has been delivered or dropped.
func (a *Alerter) Wait() {
	a.pending.Wait()
}

// EvaluateRun reports a failed or partially failed daily run.
func (a *Alerter) EvaluateRun(stats *model.RunStats) []Alert {
	if stats == nil || (stats.Success && len(stats.Errors) == 0) {
		return nil
	}
	severity := "medium"
	if !stats.Success {
		severity = "high"
	}
	return []Alert{{
		Type:     AlertRunFailed,
		Severity: severity,
		Message: fmt.Sprintf("Daily run %s finished with %d error(s): %s",
			stats.RunID, len(stats.Errors), strings.Join(stats.Errors, "; ")),
		Details: map[string]any{
			"run_id":          stats.RunID,
			"posts_generated": stats.PostsGenerated,
			"success":         stats.Success,
		},
		Timestamp: a.now(),
	}}
}

// ReportRun evaluates stats and delivers any resulting alerts.
func (a *Alerter) ReportRun(ctx context.Context, stats *model.RunStats) {
	a.SendAlerts(ctx, a.EvaluateRun(stats))
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := a.now()

	if a.cfg.ReviewBacklogThreshold > 0 && snap.PendingReview >= a.cfg.ReviewBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d posts awaiting review (threshold %d)",
				snap.PendingReview, a.cfg.ReviewBacklogThreshold),
			Details: map[string]any{
				"pending_review": snap.PendingReview,
				"threshold":      a.cfg.ReviewBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if a.budget.MonthlyBudget > 0 {
		usage := snap.MonthToDateCost / a.budget.MonthlyBudget
		details := map[string]any{
			"month_to_date":  snap.MonthToDateCost,
			"budget":         a.budget.MonthlyBudget,
			"projected_cost": snap.ProjectedCost,
		}
		switch {
		case snap.MonthToDateCost >= a.budget.MonthlyBudget:
			alerts = append(alerts, Alert{
				Type:      AlertBudgetExceeded,
				Severity:  "high",
				Message:   fmt.Sprintf("Budget exceeded! $%.2f / $%.2f", snap.MonthToDateCost, a.budget.MonthlyBudget),
				Details:   details,
				Timestamp: now,
			})
		case usage >= a.budget.AlertThreshold:
			alerts = append(alerts, Alert{
				Type:     AlertBudgetWarning,
				Severity: "medium",
				Message: fmt.Sprintf("Budget alert: %.1f%% of monthly budget used ($%.2f / $%.2f)",
					usage*100, snap.MonthToDateCost, a.budget.MonthlyBudget),
				Details:   details,
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
