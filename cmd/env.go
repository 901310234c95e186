package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/cost"
	"github.com/sells-group/postpilot/internal/lifecycle"
	"github.com/sells-group/postpilot/internal/metrics"
	"github.com/sells-group/postpilot/internal/monitoring"
	"github.com/sells-group/postpilot/internal/pipeline"
	"github.com/sells-group/postpilot/internal/router"
	"github.com/sells-group/postpilot/internal/scorer"
	"github.com/sells-group/postpilot/internal/store"
	anthropicpkg "github.com/sells-group/postpilot/pkg/anthropic"
	"github.com/sells-group/postpilot/pkg/ollama"
)

// appEnv holds the store, clients and services shared by every command.
type appEnv struct {
	Store     store.Store
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Alerter   *monitoring.Alerter
	Ledger    *cost.Ledger
	Router    *router.Router
	Lifecycle *lifecycle.Manager
	Pipeline  *pipeline.Orchestrator
}

// Close waits for in-flight alerts and releases the store.
func (e *appEnv) Close() {
	if e.Alerter != nil {
		e.Alerter.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "postpilot.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates cfg for mode, opens and migrates the store, and wires the
// router, ledger, lifecycle and orchestrator. Each signal file becomes a
// collector of the daily run. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string, signalFiles ...string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	alerter := monitoring.NewAlerter(cfg.Monitoring, cfg.Budget)
	calc := cost.NewCalculator(cost.PricingFromConfig(cfg.Pricing), cfg.Pricing.DefaultPer1K)
	ledger := cost.NewLedger(st, calc, cfg.Budget,
		cost.WithNotifier(alerter),
		cost.WithMetrics(m),
	)

	registry := initProviders()
	var probeOpts []router.ProberOption
	if cfg.Router.ProbeTimeoutSecs > 0 {
		probeOpts = append(probeOpts, router.WithProbeTimeout(time.Duration(cfg.Router.ProbeTimeoutSecs)*time.Second))
	}
	prober := router.NewProber(registry, probeOpts...)
	rt := router.New(registry, prober, cfg.Router.ModelPriority,
		router.WithLedger(ledger),
		router.WithMetrics(m),
		router.WithBreakers(router.NewBreakers(cfg.Router, m)),
	)

	roles, err := pipeline.LoadRoles(cfg.Pipeline.RolesFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var collectors []pipeline.Collector
	for _, path := range signalFiles {
		collectors = append(collectors, newFileCollector(path, st))
	}

	lc := lifecycle.New(st, cfg.Pipeline, lifecycle.WithMetrics(m))
	orch, err := pipeline.New(cfg, pipeline.Deps{
		Collectors: collectors,
		Scorer:     scorer.New(st, cfg.Scorer),
		Writer:     pipeline.NewRoleWriter(roles, rt, cfg.Pipeline.RequiredHashtags, cfg.Pipeline.PlatformMaxLength),
		Lifecycle:  lc,
		Posts:      st,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &appEnv{
		Store:     st,
		Registry:  reg,
		Metrics:   m,
		Alerter:   alerter,
		Ledger:    ledger,
		Router:    rt,
		Lifecycle: lc,
		Pipeline:  orch,
	}, nil
}

// initProviders registers the local Ollama daemon and, when a key is set,
// the Anthropic API.
func initProviders() *router.Registry {
	registry := router.NewRegistry()
	registry.Register(router.OllamaPrefix, router.NewOllamaProvider(ollama.NewClient(
		ollama.WithBaseURL(cfg.Ollama.BaseURL),
		ollama.WithRateLimit(cfg.Ollama.RateLimit),
		ollama.WithTimeout(time.Duration(cfg.Ollama.TimeoutSecs)*time.Second),
	)))

	if cfg.Anthropic.Key != "" {
		registry.Register(router.AnthropicPrefix, router.NewAnthropicProvider(anthropicpkg.NewClient(cfg.Anthropic.Key)))
		zap.L().Info("anthropic provider enabled")
	} else {
		zap.L().Debug("POSTPILOT_ANTHROPIC_KEY not set, cloud fallback disabled")
	}
	return registry
}
