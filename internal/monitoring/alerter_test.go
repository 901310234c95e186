package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/cost"
	"github.com/sells-group/postpilot/internal/model"
)

var testBudget = model.Budget{MonthlyBudget: 100, AlertThreshold: 0.8}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ReviewBacklogThreshold: 10}, testBudget)

	alerts := a.Evaluate(&Snapshot{PendingReview: 3, MonthToDateCost: 20})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ReviewBacklogThreshold: 5}, testBudget)

	alerts := a.Evaluate(&Snapshot{PendingReview: 7})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, "7 posts awaiting review (threshold 5)", alerts[0].Message)
}

func TestAlerter_Evaluate_BacklogDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, testBudget)

	alerts := a.Evaluate(&Snapshot{PendingReview: 500})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Budget(t *testing.T) {
	tests := []struct {
		name string
		mtd  float64
		want AlertType
		msg  string
	}{
		{"warning", 85, AlertBudgetWarning, "Budget alert: 85.0% of monthly budget used ($85.00 / $100.00)"},
		{"exceeded", 100, AlertBudgetExceeded, "Budget exceeded! $100.00 / $100.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAlerter(config.MonitoringConfig{}, testBudget)
			alerts := a.Evaluate(&Snapshot{MonthToDateCost: tt.mtd})
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.want, alerts[0].Type)
			assert.Equal(t, tt.msg, alerts[0].Message)
		})
	}
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ReviewBacklogThreshold: 2}, testBudget)

	alerts := a.Evaluate(&Snapshot{PendingReview: 4, MonthToDateCost: 150})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, AlertBudgetExceeded, alerts[1].Type)
}

func TestAlerter_EvaluateRun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, testBudget)

	assert.Empty(t, a.EvaluateRun(nil))
	assert.Empty(t, a.EvaluateRun(&model.RunStats{Success: true}))

	partial := a.EvaluateRun(&model.RunStats{RunID: "r1", Success: true, Errors: []string{"collector arxiv: timeout"}})
	require.Len(t, partial, 1)
	assert.Equal(t, AlertRunFailed, partial[0].Type)
	assert.Equal(t, "medium", partial[0].Severity)
	assert.Contains(t, partial[0].Message, "collector arxiv: timeout")

	failed := a.EvaluateRun(&model.RunStats{RunID: "r2", Errors: []string{"a", "b"}})
	require.Len(t, failed, 1)
	assert.Equal(t, "high", failed[0].Severity)
	assert.Contains(t, failed[0].Message, "2 error(s)")
}

func TestAlerter_Notify_ForwardsBudgetAlert(t *testing.T) {
	var mu sync.Mutex
	var got []Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err == nil {
			mu.Lock()
			got = append(got, alert)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, testBudget)
	a.Notify(context.Background(), cost.BudgetAlert{
		Level:       cost.AlertExceeded,
		MonthToDate: 101,
		Budget:      100,
		Message:     "Budget exceeded! $101.00 / $100.00",
		RaisedAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	})
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, AlertBudgetExceeded, got[0].Type)
	assert.Equal(t, "high", got[0].Severity)
	assert.Equal(t, "Budget exceeded! $101.00 / $100.00", got[0].Message)
}

func TestAlerter_Notify_SuppressesRepeatsPerType(t *testing.T) {
	var mu sync.Mutex
	var types []AlertType
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err == nil {
			mu.Lock()
			types = append(types, alert.Type)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, testBudget)
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }
	notify := func(level cost.AlertLevel) {
		a.Notify(context.Background(), cost.BudgetAlert{Level: level, Message: string(level)})
		a.Wait()
	}

	notify(cost.AlertExceeded)
	notify(cost.AlertExceeded)
	notify(cost.AlertWarning)

	mu.Lock()
	assert.Equal(t, []AlertType{AlertBudgetExceeded, AlertBudgetWarning}, types)
	mu.Unlock()

	clock = clock.Add(DefaultRepeatInterval)
	notify(cost.AlertExceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []AlertType{AlertBudgetExceeded, AlertBudgetWarning, AlertBudgetExceeded}, types)
}

func TestAlerter_Notify_FailedDeliveryIsRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, testBudget)
	for range 3 {
		a.Notify(context.Background(), cost.BudgetAlert{Level: cost.AlertExceeded})
		a.Wait()
	}

	// The failed first attempt does not open a quiet window; the second
	// succeeds and suppresses the third.
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_RunFailuresAreNotSuppressed(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, testBudget)
	stats := &model.RunStats{RunID: "run-1", Errors: []string{"boom"}}
	a.ReportRun(context.Background(), stats)
	a.ReportRun(context.Background(), stats)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_ReportRun(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err == nil && alert.Type == AlertRunFailed {
			received.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, testBudget)
	a.ReportRun(context.Background(), &model.RunStats{RunID: "r1", Success: true})
	assert.Equal(t, int32(0), received.Load())

	a.ReportRun(context.Background(), &model.RunStats{RunID: "r2", Errors: []string{"generate: model"}})
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_Notify_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, testBudget)
	a.Notify(context.Background(), cost.BudgetAlert{Level: cost.AlertWarning})
	a.Wait()
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		assert.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, testBudget)

	alerts := []Alert{
		{Type: AlertRunFailed, Severity: "high", Message: "test alert 1"},
		{Type: AlertReviewBacklog, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, testBudget)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"}, testBudget)

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, testBudget)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_ImplementsNotifier(t *testing.T) {
	var _ cost.AlertNotifier = NewAlerter(config.MonitoringConfig{}, testBudget)
}
