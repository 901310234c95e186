package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/router"
)

// --- Router Mock ---

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req router.Request) (*router.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*router.Response), args.Error(1)
}

// --- Collector Fake ---

type fakeCollector struct {
	name  string
	count int
	err   error
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Collect(context.Context) (int, error) { return f.count, f.err }

// --- Scorer Fake ---

type fakeScorer struct {
	opps      []model.ContentOpportunity
	err       error
	gotCount  int
	gotWindow int
}

func (f *fakeScorer) TopOpportunities(_ context.Context, count, windowDays int) ([]model.ContentOpportunity, error) {
	f.gotCount, f.gotWindow = count, windowDays
	if f.err != nil {
		return nil, f.err
	}
	if len(f.opps) > count {
		return f.opps[:count], nil
	}
	return f.opps, nil
}

// --- Drafter Fake ---

// fakeDrafter returns a canned draft per source ID. Missing IDs fall back to
// def; errs take precedence.
type fakeDrafter struct {
	mu     sync.Mutex
	drafts map[string]*Draft
	errs   map[string]error
	def    *Draft
	calls  []string
}

func (f *fakeDrafter) Draft(_ context.Context, opp model.ContentOpportunity) (*Draft, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opp.SourceID)
	f.mu.Unlock()
	if err := f.errs[opp.SourceID]; err != nil {
		return nil, err
	}
	if d, ok := f.drafts[opp.SourceID]; ok {
		c := *d
		return &c, nil
	}
	c := *f.def
	return &c, nil
}

// --- Generator Fake ---

type fakeGenerator struct {
	name    string
	content string
	err     error
	prompts []string
}

func (f *fakeGenerator) Name() string         { return f.name }
func (f *fakeGenerator) Temperature() float64 { return 0.5 }
func (f *fakeGenerator) MaxTokens() int       { return 500 }

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (*router.Response, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &router.Response{Content: f.content, Model: "ollama/qwen3:8b", Cost: 0.001}, nil
}

// --- Runner and Reporter Fakes ---

type fakeRunner struct {
	stats *model.RunStats
	err   error
}

func (f *fakeRunner) DailyRun(context.Context) (*model.RunStats, error) { return f.stats, f.err }

type fakeReporter struct {
	mu      sync.Mutex
	reports []*model.RunStats
}

func (f *fakeReporter) ReportRun(_ context.Context, stats *model.RunStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, stats)
}
