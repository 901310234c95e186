// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline's collectors. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	modelAttempts      *prometheus.CounterVec
	llmCost            *prometheus.CounterVec
	llmTokens          *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	budgetAlerts       *prometheus.CounterVec
	postsGenerated     *prometheus.CounterVec
	monthToDateCost    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		modelAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpilot_model_attempts_total",
				Help: "Model completion attempts by outcome (success, failed, unavailable)",
			},
			[]string{"model", "outcome"},
		),
		llmCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpilot_llm_cost_usd_total",
				Help: "Cumulative language-model spend in USD",
			},
			[]string{"model"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpilot_llm_tokens_total",
				Help: "Tokens consumed by direction",
			},
			[]string{"model", "direction"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpilot_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		budgetAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpilot_budget_alerts_total",
				Help: "Budget alerts raised by level",
			},
			[]string{"level"},
		),
		postsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpilot_posts_generated_total",
				Help: "Generated posts by resulting status",
			},
			[]string{"status"},
		),
		monthToDateCost: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "postpilot_month_to_date_cost_usd",
				Help: "Month-to-date language-model spend in USD",
			},
		),
	}
	reg.MustRegister(
		m.modelAttempts,
		m.llmCost,
		m.llmTokens,
		m.breakerTransitions,
		m.budgetAlerts,
		m.postsGenerated,
		m.monthToDateCost,
	)
	return m
}

// ModelAttempt counts one router attempt.
func (m *Metrics) ModelAttempt(model, outcome string) {
	if m == nil {
		return
	}
	m.modelAttempts.WithLabelValues(model, outcome).Inc()
}

// Usage records tokens and spend for a successful call.
func (m *Metrics) Usage(model string, inputTokens, outputTokens int, cost float64) {
	if m == nil {
		return
	}
	m.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	if cost > 0 {
		m.llmCost.WithLabelValues(model).Add(cost)
	}
}

// BreakerTransition counts a circuit breaker state change.
func (m *Metrics) BreakerTransition(name, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(name, from, to).Inc()
}

// BudgetAlert counts an alert at the given level.
func (m *Metrics) BudgetAlert(level string) {
	if m == nil {
		return
	}
	m.budgetAlerts.WithLabelValues(level).Inc()
}

// MonthToDate sets the month-to-date spend gauge.
func (m *Metrics) MonthToDate(cost float64) {
	if m == nil {
		return
	}
	m.monthToDateCost.Set(cost)
}

// PostGenerated counts a post that reached the given status.
func (m *Metrics) PostGenerated(status string) {
	if m == nil {
		return
	}
	m.postsGenerated.WithLabelValues(status).Inc()
}
