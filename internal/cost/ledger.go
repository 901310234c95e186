package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/metrics"
	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/resilience"
)

// LedgerStore persists usage rows. Implemented by store.Store.
type LedgerStore interface {
	InsertUsage(ctx context.Context, rec *model.UsageRecord) error
	ListUsage(ctx context.Context, since time.Time) ([]model.UsageRecord, error)
	SumCost(ctx context.Context, since time.Time) (float64, error)
}

// AlertLevel distinguishes budget warnings from overruns.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertExceeded AlertLevel = "exceeded"
)

// BudgetAlert is an advisory raised after a call. It never blocks callers.
type BudgetAlert struct {
	Level        AlertLevel `json:"level"`
	MonthToDate  float64    `json:"month_to_date"`
	Budget       float64    `json:"budget"`
	UsagePercent float64    `json:"usage_percent"`
	Message      string     `json:"message"`
	RaisedAt     time.Time  `json:"raised_at"`
}

// AlertNotifier forwards budget alerts, typically to a webhook.
type AlertNotifier interface {
	Notify(ctx context.Context, alert BudgetAlert)
}

// Call describes one completed or failed provider call to be recorded.
type Call struct {
	Model        string
	InputTokens  int
	OutputTokens int
	RequestType  string
	Component    string
	Latency      time.Duration
	Err          error
}

// UsageSummary is returned from Record.
type UsageSummary struct {
	Record      model.UsageRecord `json:"record"`
	MonthToDate float64           `json:"month_to_date"`
	Alert       *BudgetAlert      `json:"alert,omitempty"`
}

// Ledger records language-model usage and answers budget questions.
type Ledger struct {
	store    LedgerStore
	calc     *Calculator
	budget   model.Budget
	notifier AlertNotifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithNotifier forwards budget alerts to n.
func WithNotifier(n AlertNotifier) LedgerOption {
	return func(l *Ledger) { l.notifier = n }
}

// WithMetrics records spend in m.
func WithMetrics(m *metrics.Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides the ledger's clock.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger.
func NewLedger(st LedgerStore, calc *Calculator, budget model.Budget, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  st,
		calc:   calc,
		budget: budget,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Calculator returns the ledger's pricing calculator.
func (l *Ledger) Calculator() *Calculator { return l.calc }

// Budget returns the configured budget.
func (l *Ledger) Budget() model.Budget { return l.budget }

// Record persists one usage row and re-evaluates month-to-date spend. Failed
// calls are recorded at zero cost. Budget alerts are logged and forwarded but
// never returned as errors.
func (l *Ledger) Record(ctx context.Context, c Call) (*UsageSummary, error) {
	rec := model.UsageRecord{
		ID:           uuid.New().String(),
		ModelName:    c.Model,
		Provider:     l.calc.Provider(c.Model),
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		TotalTokens:  c.InputTokens + c.OutputTokens,
		RequestType:  c.RequestType,
		Component:    c.Component,
		LatencyMS:    c.Latency.Milliseconds(),
		Success:      c.Err == nil,
		CreatedAt:    l.now(),
	}
	if rec.RequestType == "" {
		rec.RequestType = "chat"
	}
	if c.Err != nil {
		rec.ErrorMessage = c.Err.Error()
		rec.ErrorType = resilience.ClassifyError(c.Err)
	} else {
		b := l.calc.Cost(c.Model, c.InputTokens, c.OutputTokens)
		rec.Provider = b.Provider
		rec.InputCost = b.InputCost
		rec.OutputCost = b.OutputCost
		rec.TotalCost = b.TotalCost
		if !b.Known {
			zap.L().Warn("cost: no pricing for model, using default rate",
				zap.String("model", c.Model),
				zap.Float64("per_1k", l.calc.defaultPer1K),
			)
		}
	}

	if err := l.store.InsertUsage(ctx, &rec); err != nil {
		return nil, eris.Wrapf(err, "cost: record usage for %s", c.Model)
	}
	if rec.Success {
		l.metrics.Usage(rec.ModelName, rec.InputTokens, rec.OutputTokens, rec.TotalCost)
	}

	summary := &UsageSummary{Record: rec}
	mtd, err := l.store.SumCost(ctx, MonthStart(rec.CreatedAt))
	if err != nil {
		// The row is already persisted; a failed budget check is only logged.
		zap.L().Warn("cost: month-to-date check failed", zap.Error(err))
		return summary, nil
	}
	summary.MonthToDate = mtd
	l.metrics.MonthToDate(mtd)

	if alert := l.evaluate(mtd, rec.TotalCost); alert != nil {
		summary.Alert = alert
		l.raise(ctx, *alert)
	}
	return summary, nil
}

// evaluate returns the alert for month-to-date spend after a call costing
// callCost. An overrun is reported on every call; the threshold warning only
// for calls that added spend.
func (l *Ledger) evaluate(mtd, callCost float64) *BudgetAlert {
	if l.budget.MonthlyBudget <= 0 {
		return nil
	}
	usage := mtd / l.budget.MonthlyBudget
	alert := &BudgetAlert{
		MonthToDate:  mtd,
		Budget:       l.budget.MonthlyBudget,
		UsagePercent: usage,
		RaisedAt:     l.now(),
	}
	switch {
	case mtd >= l.budget.MonthlyBudget:
		alert.Level = AlertExceeded
		alert.Message = fmt.Sprintf("Budget exceeded! $%.2f / $%.2f", mtd, l.budget.MonthlyBudget)
	case usage >= l.budget.AlertThreshold && callCost > 0:
		alert.Level = AlertWarning
		alert.Message = fmt.Sprintf("Budget alert: %.1f%% of monthly budget used ($%.2f / $%.2f)",
			usage*100, mtd, l.budget.MonthlyBudget)
	default:
		return nil
	}
	return alert
}

func (l *Ledger) raise(ctx context.Context, a BudgetAlert) {
	fields := []zap.Field{
		zap.Float64("month_to_date", a.MonthToDate),
		zap.Float64("budget", a.Budget),
		zap.Float64("usage_percent", a.UsagePercent),
	}
	if a.Level == AlertExceeded {
		zap.L().Error("cost: "+a.Message, fields...)
	} else {
		zap.L().Warn("cost: "+a.Message, fields...)
	}
	l.metrics.BudgetAlert(string(a.Level))
	if l.notifier != nil {
		l.notifier.Notify(ctx, a)
	}
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
