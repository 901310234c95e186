package router

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/postpilot/internal/resilience"
)

// Provider is one language-model backend.
type Provider interface {
	Name() string
	// Models lists the model identifiers the provider can serve right now.
	Models(ctx context.Context) ([]string, error)
	Complete(ctx context.Context, model string, req Request) (*Completion, error)
}

// Registry maps model identifiers to providers by prefix.
type Registry struct {
	mu       sync.RWMutex
	prefixes map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{prefixes: make(map[string]Provider)}
}

// Register routes every model starting with prefix to p.
func (r *Registry) Register(prefix string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = p
}

// For returns the provider with the longest prefix matching model.
func (r *Registry) For(model string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Provider
	bestLen := -1
	for prefix, p := range r.prefixes {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best, best != nil
}

// Providers returns the distinct registered providers ordered by name.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Provider
	for _, p := range r.prefixes {
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// AvailabilityProber reports which models can currently be called.
type AvailabilityProber interface {
	AvailableModels(ctx context.Context) (map[string]bool, error)
}

// Prober asks every registered provider for its models and caches the union.
// A provider whose probe fails contributes nothing.
type Prober struct {
	registry *Registry
	retry    resilience.RetryConfig
	timeout  time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   map[string]bool
	cachedAt time.Time
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeTimeout bounds each provider probe.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.timeout = d }
}

// WithProbeTTL sets how long a probe result is reused. Zero disables caching.
func WithProbeTTL(d time.Duration) ProberOption {
	return func(p *Prober) { p.ttl = d }
}

// WithProbeRetry overrides the retry policy for probes.
func WithProbeRetry(cfg resilience.RetryConfig) ProberOption {
	return func(p *Prober) { p.retry = cfg }
}

// NewProber creates a Prober over the providers in registry.
func NewProber(registry *Registry, opts ...ProberOption) *Prober {
	p := &Prober{
		registry: registry,
		retry:    resilience.DefaultProbeRetry(),
		timeout:  10 * time.Second,
		ttl:      30 * time.Second,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AvailableModels returns the union of every provider's models.
func (p *Prober) AvailableModels(ctx context.Context) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.ttl > 0 && p.now().Sub(p.cachedAt) < p.ttl {
		return p.cached, nil
	}

	var (
		mu  sync.Mutex
		out = make(map[string]bool)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, prov := range p.registry.Providers() {
		g.Go(func() error {
			models, err := p.probe(gctx, prov)
			if err != nil {
				zap.L().Warn("router: provider probe failed",
					zap.String("provider", prov.Name()),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			for _, m := range models {
				out[m] = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// A canceled caller says nothing about the providers.
	if err := ctx.Err(); err != nil {
		return out, eris.Wrap(err, "router: probe availability")
	}
	p.cached = out
	p.cachedAt = p.now()
	return out, nil
}

// Invalidate drops the cached probe result.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *Prober) probe(ctx context.Context, prov Provider) ([]string, error) {
	cfg := p.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.LogRetry(prov.Name(), "models")
	}
	return resilience.Retry(ctx, cfg, func(ctx context.Context) ([]string, error) {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		return prov.Models(ctx)
	})
}
