package cost

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/postpilot/internal/model"
)

func usageFixture() *memLedgerStore {
	day1 := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)
	return &memLedgerStore{records: []model.UsageRecord{
		{ModelName: "gpt-4", Provider: "openai", InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500,
			TotalCost: 0.06, Component: "linkedin_writer", LatencyMS: 2000, Success: true, CreatedAt: day1},
		{ModelName: "gpt-4", Provider: "openai", InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500,
			TotalCost: 0.06, Component: "content_strategist", LatencyMS: 4000, Success: true, CreatedAt: day2},
		{ModelName: "ollama/qwen3:8b", Provider: "ollama", InputTokens: 800, OutputTokens: 200, TotalTokens: 1000,
			Component: "linkedin_writer", LatencyMS: 9000, Success: true, CreatedAt: day2},
		{ModelName: "claude-3-haiku", Provider: "anthropic", Component: "linkedin_writer",
			Success: false, ErrorMessage: "overloaded", CreatedAt: day2},
		{ModelName: "gpt-4", Provider: "openai", TotalCost: 5, Success: true, LatencyMS: 100,
			CreatedAt: testNow.AddDate(0, 0, -40)},
	}}
}

func TestUsageStats(t *testing.T) {
	l := newTestLedger(usageFixture(), model.Budget{MonthlyBudget: 100, AlertThreshold: 0.8}, nil)

	s, err := l.UsageStats(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 7, s.PeriodDays)
	assert.Equal(t, 4, s.TotalRequests)
	assert.Equal(t, 3, s.SuccessfulRequests)
	assert.InDelta(t, 0.75, s.SuccessRate, 1e-9)
	assert.InDelta(t, 0.12, s.TotalCost, 1e-9)
	assert.Equal(t, 2800, s.InputTokens)
	assert.Equal(t, 1200, s.OutputTokens)
	assert.Equal(t, 4000, s.TotalTokens)
	assert.InDelta(t, 5000, s.AvgLatencyMS, 1e-9)
	assert.InDelta(t, 0.04, s.AvgCostPerRequest, 1e-9)

	require.Len(t, s.ByModel, 2)
	assert.Equal(t, "gpt-4", s.ByModel[0].Model)
	assert.Equal(t, 2, s.ByModel[0].Requests)
	assert.InDelta(t, 3000, s.ByModel[0].AvgLatencyMS, 1e-9)
	assert.Equal(t, "ollama/qwen3:8b", s.ByModel[1].Model)

	require.Len(t, s.ByComponent, 2)
	assert.Equal(t, "content_strategist", s.ByComponent[0].Component)
	assert.Equal(t, "linkedin_writer", s.ByComponent[1].Component)
	assert.Equal(t, 2, s.ByComponent[1].Requests)

	require.Len(t, s.ByDay, 2)
	assert.Equal(t, "2026-03-08", s.ByDay[0].Date)
	assert.Equal(t, 2, s.ByDay[1].Requests)
}

func TestUsageStats_InvalidDays(t *testing.T) {
	l := newTestLedger(&memLedgerStore{}, model.Budget{MonthlyBudget: 100, AlertThreshold: 0.8}, nil)
	_, err := l.UsageStats(context.Background(), 0)
	assert.Error(t, err)
}

func TestUsageStats_Empty(t *testing.T) {
	l := newTestLedger(&memLedgerStore{}, model.Budget{MonthlyBudget: 100, AlertThreshold: 0.8}, nil)
	s, err := l.UsageStats(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, s.TotalRequests)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.AvgCostPerRequest)
}

func TestMonthlyCosts_Projection(t *testing.T) {
	st := &memLedgerStore{}
	seed(st, "gpt-4", 12, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	seed(st, "gpt-4", 8, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	l := newTestLedger(st, model.Budget{MonthlyBudget: 50, AlertThreshold: 0.8}, nil)

	r, err := l.MonthlyCosts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, r.DaysPassed)
	assert.InDelta(t, 20, r.CurrentMonthCost, 1e-9)
	assert.InDelta(t, 2, r.DailyAverage, 1e-9)
	assert.Equal(t, r.DailyAverage*30, r.ProjectedMonthlyCost)
	assert.InDelta(t, 30, r.RemainingBudget, 1e-9)
	assert.InDelta(t, 0.4, r.BudgetUsagePercent, 1e-9)
	assert.False(t, r.IsOverThreshold)
	assert.False(t, r.IsOverBudget)
}

func TestMonthlyCosts_Flags(t *testing.T) {
	l := newTestLedger(&memLedgerStore{}, model.Budget{MonthlyBudget: 10, AlertThreshold: 0.8}, nil)

	r := l.monthly(testNow, 8)
	assert.True(t, r.IsOverThreshold)
	assert.False(t, r.IsOverBudget)

	r = l.monthly(testNow, 10)
	assert.True(t, r.IsOverBudget)

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r = l.monthly(first, 3)
	assert.Equal(t, 1, r.DaysPassed)
	assert.InDelta(t, 90, r.ProjectedMonthlyCost, 1e-9)
}

func TestRecommendations(t *testing.T) {
	st := &memLedgerStore{}
	day := testNow.Add(-24 * time.Hour)
	st.records = []model.UsageRecord{
		{ModelName: "claude-3-opus", Provider: "anthropic", TotalCost: 25, LatencyMS: 1000, Success: true, CreatedAt: day},
		{ModelName: "gpt-4", Provider: "openai", TotalCost: 12, LatencyMS: 7000, Success: true, CreatedAt: day},
		{ModelName: "ollama/qwen3:8b", Provider: "ollama", LatencyMS: 6000, Success: true, CreatedAt: day},
	}
	l := newTestLedger(st, model.Budget{MonthlyBudget: 50, AlertThreshold: 0.8}, nil)

	recs, err := l.Recommendations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 5)

	assert.Equal(t, RecCostOptimization, recs[0].Type)
	assert.Equal(t, "claude-3-opus", recs[0].CurrentModel)
	assert.Equal(t, "ollama/deepseek-r1:1.5b", recs[0].Alternative)
	assert.Equal(t, PriorityHigh, recs[0].Priority)
	assert.Equal(t, RecCostOptimization, recs[1].Type)
	assert.Equal(t, "gpt-4", recs[1].CurrentModel)

	assert.Equal(t, RecPerformance, recs[2].Type)
	assert.Equal(t, "gpt-4", recs[2].CurrentModel)
	assert.Equal(t, RecPerformance, recs[3].Type)
	assert.Equal(t, "ollama/qwen3:8b", recs[3].CurrentModel)
	assert.Equal(t, PriorityMedium, recs[3].Priority)

	// 37 USD over 10 days projects to 111 > 50.
	assert.Equal(t, RecBudgetWarning, recs[4].Type)
	assert.InDelta(t, 111, recs[4].ProjectedCost, 1e-9)
}

func TestRecommendations_None(t *testing.T) {
	st := &memLedgerStore{}
	seed(st, "gpt-4", 1, testNow.Add(-time.Hour))
	l := newTestLedger(st, model.Budget{MonthlyBudget: 100, AlertThreshold: 0.8}, nil)

	recs, err := l.Recommendations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReport_Markdown(t *testing.T) {
	l := newTestLedger(usageFixture(), model.Budget{MonthlyBudget: 100, AlertThreshold: 0.8}, nil)

	out, err := l.Report(context.Background(), 7)
	require.NoError(t, err)

	assert.Contains(t, out, "# LLM Cost Report (7 days)")
	assert.Contains(t, out, "Generated: 2026-03-10T12:00:00Z")
	assert.Contains(t, out, "- Total Cost: $0.1200")
	assert.Contains(t, out, "- Success Rate: 75.0%")
	assert.Contains(t, out, "- Total Tokens: 4,000")
	assert.Contains(t, out, "- Budget: $100.00")
	assert.Contains(t, out, "- gpt-4 (openai): $0.1200 | 2 requests | 3,000 tokens")
	assert.Contains(t, out, "## Recommendations")
	assert.Contains(t, out, "ollama/qwen3:8b has high latency (9000ms)")
}

func TestExportXLSX(t *testing.T) {
	l := newTestLedger(usageFixture(), model.Budget{MonthlyBudget: 100, AlertThreshold: 0.8}, nil)
	path := filepath.Join(t.TempDir(), "costs.xlsx")

	require.NoError(t, l.ExportXLSX(context.Background(), 7, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 4)

	models := f.Sheet["Models"]
	require.NotNil(t, models)
	require.Len(t, models.Rows, 3)
	assert.Equal(t, "Model", models.Rows[0].Cells[0].String())
	assert.Equal(t, "gpt-4", models.Rows[1].Cells[0].String())

	daily := f.Sheet["Daily"]
	require.NotNil(t, daily)
	assert.Equal(t, "2026-03-08", daily.Rows[1].Cells[0].String())
}
