// Package router sends completion requests to language models in priority
// order, falling back to the next model when one fails.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/cost"
	"github.com/sells-group/postpilot/internal/metrics"
	"github.com/sells-group/postpilot/internal/resilience"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults applied to requests that leave sampling parameters unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request. Model pins a single candidate; when empty
// the configured priority list is used.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	Component   string
	RequestType string
}

// Completion is what a provider returns for one call.
type Completion struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Response is a successful completion with its accounting.
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	Latency      time.Duration `json:"latency"`
	Attempts     []Attempt     `json:"attempts"`
}

// UsageRecorder persists one usage row per provider call. Implemented by
// *cost.Ledger.
type UsageRecorder interface {
	Record(ctx context.Context, c cost.Call) (*cost.UsageSummary, error)
}

// Router implements priority-ordered completion with fallback.
type Router struct {
	registry *Registry
	prober   AvailabilityProber
	priority []string
	breakers *resilience.Breakers
	ledger   UsageRecorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLedger records every call in l.
func WithLedger(l UsageRecorder) Option {
	return func(r *Router) { r.ledger = l }
}

// WithMetrics counts attempts in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithBreakers overrides the per-model circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(r *Router) { r.breakers = b }
}

// WithClock overrides the clock used for latency.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router over registry. priority is the default candidate order.
func New(registry *Registry, prober AvailabilityProber, priority []string, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		prober:   prober,
		priority: append([]string(nil), priority...),
		breakers: resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewBreakers builds model breakers from config, reporting transitions to m.
func NewBreakers(cfg config.RouterConfig, m *metrics.Metrics) *resilience.Breakers {
	bc := resilience.FromBreakerConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs)
	bc.OnStateChange = func(name string, from, to resilience.CircuitState) {
		zap.L().Info("router: circuit state changed",
			zap.String("model", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		m.BreakerTransition(name, from.String(), to.String())
	}
	return resilience.NewBreakers(bc)
}

// Priority returns the configured candidate order.
func (r *Router) Priority() []string {
	return append([]string(nil), r.priority...)
}

// Complete tries each candidate in order and returns the first success.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Temperature == 0 {
		req.Temperature = DefaultTemperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	candidates := r.priority
	if req.Model != "" {
		candidates = []string{req.Model}
	}

	available, err := r.prober.AvailableModels(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "router: complete")
		}
		zap.L().Warn("router: availability probe failed", zap.Error(err))
	}

	var usable []string
	for _, m := range candidates {
		if !available[m] {
			zap.L().Debug("router: model unavailable, skipping", zap.String("model", m))
			r.metrics.ModelAttempt(m, "unavailable")
			continue
		}
		usable = append(usable, m)
	}
	if len(usable) == 0 {
		return nil, eris.Wrapf(ErrNoModelsAvailable, "router: candidates %v", candidates)
	}

	var attempts []Attempt
	var last error
	for _, m := range usable {
		if ctx.Err() != nil {
			last = ctx.Err()
			break
		}

		resp, attempt := r.try(ctx, m, req)
		attempts = append(attempts, attempt)
		if attempt.Err == nil {
			resp.Attempts = attempts
			return resp, nil
		}
		last = attempt.Err
	}

	return nil, &AllModelsFailedError{Attempts: attempts, Last: last}
}

func (r *Router) try(ctx context.Context, model string, req Request) (*Response, Attempt) {
	log := zap.L().With(zap.String("model", model), zap.String("component", req.Component))

	prov, ok := r.registry.For(model)
	if !ok {
		log.Warn("router: no provider for model")
		r.metrics.ModelAttempt(model, "unavailable")
		return nil, Attempt{Model: model, Err: eris.Wrapf(ErrModelUnavailable, "router: no provider for %s", model)}
	}

	start := r.now()
	comp, err := resilience.Call(ctx, r.breakers.Get(model), func(ctx context.Context) (*Completion, error) {
		return prov.Complete(ctx, model, req)
	})
	latency := r.now().Sub(start)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		log.Warn("router: circuit open, skipping")
		r.metrics.ModelAttempt(model, "unavailable")
		return nil, Attempt{Model: model, Err: eris.Wrapf(ErrModelUnavailable, "router: circuit open for %s", model), Latency: latency}
	}

	call := cost.Call{
		Model:       model,
		RequestType: req.RequestType,
		Component:   req.Component,
		Latency:     latency,
		Err:         err,
	}
	if err != nil {
		log.Warn("router: model failed", zap.Duration("latency", latency), zap.Error(err))
		r.metrics.ModelAttempt(model, "failure")
		if resilience.IsTransient(err) {
			r.refreshAvailability()
		}
		r.record(ctx, call)
		return nil, Attempt{Model: model, Err: err, Latency: latency}
	}

	call.InputTokens = comp.InputTokens
	call.OutputTokens = comp.OutputTokens
	r.metrics.ModelAttempt(model, "success")

	resp := &Response{
		Content:      comp.Content,
		Model:        model,
		Provider:     prov.Name(),
		InputTokens:  comp.InputTokens,
		OutputTokens: comp.OutputTokens,
		Latency:      latency,
	}
	if summary := r.record(ctx, call); summary != nil {
		resp.Cost = summary.Record.TotalCost
	}
	log.Debug("router: completion succeeded",
		zap.Int("input_tokens", comp.InputTokens),
		zap.Int("output_tokens", comp.OutputTokens),
		zap.Float64("cost", resp.Cost),
	)
	return resp, Attempt{Model: model, Latency: latency}
}

// invalidator is implemented by probers that cache availability.
type invalidator interface {
	Invalidate()
}

// refreshAvailability makes the next request re-probe providers, so a model
// that just went away stops being tried first.
func (r *Router) refreshAvailability() {
	if inv, ok := r.prober.(invalidator); ok {
		inv.Invalidate()
	}
}

// record forwards the call to the ledger. Ledger failures are logged and do
// not fail the completion.
func (r *Router) record(ctx context.Context, c cost.Call) *cost.UsageSummary {
	if r.ledger == nil {
		return nil
	}
	summary, err := r.ledger.Record(ctx, c)
	if err != nil {
		zap.L().Error("router: record usage", zap.String("model", c.Model), zap.Error(err))
		return nil
	}
	return summary
}

// ModelStatus describes one configured model for display.
type ModelStatus struct {
	Model     string `json:"model"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
	Provider  string `json:"provider"`
	Circuit   string `json:"circuit"`
}

// Status reports availability and circuit state for every priority model.
func (r *Router) Status(ctx context.Context) ([]ModelStatus, error) {
	available, err := r.prober.AvailableModels(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "router: probe availability")
	}
	out := make([]ModelStatus, 0, len(r.priority))
	for i, m := range r.priority {
		st := ModelStatus{
			Model:     m,
			Priority:  i + 1,
			Available: available[m],
			Provider:  cost.ProviderFor(m),
			Circuit:   r.breakers.Get(m).State().String(),
		}
		if p, ok := r.registry.For(m); ok {
			st.Provider = p.Name()
		}
		out = append(out, st)
	}
	return out, nil
}
