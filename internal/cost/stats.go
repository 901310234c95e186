package cost

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/postpilot/internal/model"
)

// DaysPerMonth is the fixed month length used for budget projection.
const DaysPerMonth = 30

// ModelUsage aggregates successful calls to one model.
type ModelUsage struct {
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	Requests     int     `json:"requests"`
	Cost         float64 `json:"cost"`
	Tokens       int     `json:"tokens"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// ComponentUsage aggregates successful calls by calling component.
type ComponentUsage struct {
	Component string  `json:"component"`
	Requests  int     `json:"requests"`
	Cost      float64 `json:"cost"`
	Tokens    int     `json:"tokens"`
}

// DayUsage aggregates successful calls by UTC calendar day.
type DayUsage struct {
	Date     string  `json:"date"`
	Requests int     `json:"requests"`
	Cost     float64 `json:"cost"`
}

// UsageStats is the trailing-window usage report.
type UsageStats struct {
	PeriodDays         int              `json:"period_days"`
	TotalRequests      int              `json:"total_requests"`
	SuccessfulRequests int              `json:"successful_requests"`
	SuccessRate        float64          `json:"success_rate"`
	TotalCost          float64          `json:"total_cost"`
	InputTokens        int              `json:"total_input_tokens"`
	OutputTokens       int              `json:"total_output_tokens"`
	TotalTokens        int              `json:"total_tokens"`
	AvgLatencyMS       float64          `json:"avg_latency_ms"`
	AvgCostPerRequest  float64          `json:"avg_cost_per_request"`
	ByModel            []ModelUsage     `json:"model_breakdown"`
	ByComponent        []ComponentUsage `json:"component_breakdown"`
	ByDay              []DayUsage       `json:"daily_breakdown"`
}

// UsageStats aggregates the trailing days of usage. Request counts include
// failures; cost, tokens, latency and every breakdown cover successful calls only.
func (l *Ledger) UsageStats(ctx context.Context, days int) (*UsageStats, error) {
	if days <= 0 {
		return nil, eris.Errorf("cost: usage stats: days must be > 0, got %d", days)
	}
	since := l.now().AddDate(0, 0, -days)
	recs, err := l.store.ListUsage(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "cost: usage stats")
	}
	return aggregate(days, recs), nil
}

func aggregate(days int, recs []model.UsageRecord) *UsageStats {
	s := &UsageStats{PeriodDays: days}

	type modelAcc struct {
		ModelUsage
		latency int64
	}
	byModel := map[string]*modelAcc{}
	byComponent := map[string]*ComponentUsage{}
	byDay := map[string]*DayUsage{}
	var latency int64

	for _, r := range recs {
		s.TotalRequests++
		if !r.Success {
			continue
		}
		s.SuccessfulRequests++
		s.TotalCost += r.TotalCost
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		latency += r.LatencyMS

		key := r.ModelName + "\x00" + r.Provider
		m, ok := byModel[key]
		if !ok {
			m = &modelAcc{ModelUsage: ModelUsage{Model: r.ModelName, Provider: r.Provider}}
			byModel[key] = m
		}
		m.Requests++
		m.Cost += r.TotalCost
		m.Tokens += r.TotalTokens
		m.latency += r.LatencyMS

		if r.Component != "" {
			c, ok := byComponent[r.Component]
			if !ok {
				c = &ComponentUsage{Component: r.Component}
				byComponent[r.Component] = c
			}
			c.Requests++
			c.Cost += r.TotalCost
			c.Tokens += r.TotalTokens
		}

		day := r.CreatedAt.UTC().Format(time.DateOnly)
		d, ok := byDay[day]
		if !ok {
			d = &DayUsage{Date: day}
			byDay[day] = d
		}
		d.Requests++
		d.Cost += r.TotalCost
	}

	s.TotalTokens = s.InputTokens + s.OutputTokens
	s.SuccessRate = float64(s.SuccessfulRequests) / float64(max(s.TotalRequests, 1))
	s.AvgCostPerRequest = s.TotalCost / float64(max(s.SuccessfulRequests, 1))
	if s.SuccessfulRequests > 0 {
		s.AvgLatencyMS = float64(latency) / float64(s.SuccessfulRequests)
	}

	for _, m := range byModel {
		m.AvgLatencyMS = float64(m.latency) / float64(m.Requests)
		s.ByModel = append(s.ByModel, m.ModelUsage)
	}
	sort.Slice(s.ByModel, func(i, j int) bool {
		if s.ByModel[i].Cost != s.ByModel[j].Cost {
			return s.ByModel[i].Cost > s.ByModel[j].Cost
		}
		return s.ByModel[i].Model < s.ByModel[j].Model
	})
	for _, c := range byComponent {
		s.ByComponent = append(s.ByComponent, *c)
	}
	sort.Slice(s.ByComponent, func(i, j int) bool { return s.ByComponent[i].Component < s.ByComponent[j].Component })
	for _, d := range byDay {
		s.ByDay = append(s.ByDay, *d)
	}
	sort.Slice(s.ByDay, func(i, j int) bool { return s.ByDay[i].Date < s.ByDay[j].Date })
	return s
}

// MonthlyReport is the current-month budget view.
type MonthlyReport struct {
	MonthStart           time.Time `json:"month_start"`
	CurrentMonthCost     float64   `json:"current_month_cost"`
	MonthlyBudget        float64   `json:"monthly_budget"`
	RemainingBudget      float64   `json:"remaining_budget"`
	BudgetUsagePercent   float64   `json:"budget_usage_percent"`
	DailyAverage         float64   `json:"daily_average"`
	ProjectedMonthlyCost float64   `json:"projected_monthly_cost"`
	DaysPassed           int       `json:"days_passed"`
	AlertThreshold       float64   `json:"alert_threshold"`
	IsOverThreshold      bool      `json:"is_over_threshold"`
	IsOverBudget         bool      `json:"is_over_budget"`
}

// MonthlyCosts reports month-to-date spend and a linear projection.
func (l *Ledger) MonthlyCosts(ctx context.Context) (*MonthlyReport, error) {
	now := l.now()
	start := MonthStart(now)
	spent, err := l.store.SumCost(ctx, start)
	if err != nil {
		return nil, eris.Wrap(err, "cost: monthly costs")
	}
	return l.monthly(now, spent), nil
}

func (l *Ledger) monthly(now time.Time, spent float64) *MonthlyReport {
	start := MonthStart(now)
	days := int(now.Sub(start).Hours()/24) + 1
	r := &MonthlyReport{
		MonthStart:       start,
		CurrentMonthCost: spent,
		MonthlyBudget:    l.budget.MonthlyBudget,
		RemainingBudget:  l.budget.MonthlyBudget - spent,
		DaysPassed:       days,
		AlertThreshold:   l.budget.AlertThreshold,
		DailyAverage:     spent / float64(days),
	}
	r.ProjectedMonthlyCost = r.DailyAverage * DaysPerMonth
	if l.budget.MonthlyBudget > 0 {
		r.BudgetUsagePercent = spent / l.budget.MonthlyBudget
	}
	r.IsOverThreshold = r.BudgetUsagePercent >= l.budget.AlertThreshold
	r.IsOverBudget = spent >= l.budget.MonthlyBudget
	return r
}

// Recommendation types and priorities.
const (
	RecCostOptimization = "cost_optimization"
	RecPerformance      = "performance"
	RecBudgetWarning    = "budget_warning"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

// Thresholds for recommendations.
const (
	ExpensiveModelUSD = 10.0
	SlowModelMS       = 5000.0
)

// Recommendation is one advisory from Recommendations.
type Recommendation struct {
	Type          string  `json:"type"`
	Priority      string  `json:"priority"`
	Message       string  `json:"message"`
	CurrentModel  string  `json:"current_model,omitempty"`
	Alternative   string  `json:"alternative,omitempty"`
	ProjectedCost float64 `json:"projected_cost,omitempty"`
	Budget        float64 `json:"budget,omitempty"`
}

// Recommendations returns cost advisories over the trailing 30 days, ordered
// cost optimizations first (most expensive model first), then slow models,
// then the budget projection warning.
func (l *Ledger) Recommendations(ctx context.Context) ([]Recommendation, error) {
	stats, err := l.UsageStats(ctx, DaysPerMonth)
	if err != nil {
		return nil, err
	}
	monthly, err := l.MonthlyCosts(ctx)
	if err != nil {
		return nil, err
	}
	return l.recommend(stats, monthly), nil
}

func (l *Ledger) recommend(stats *UsageStats, monthly *MonthlyReport) []Recommendation {
	var recs []Recommendation
	alt := l.calc.CheapestFree("ollama/deepseek-r1:1.5b")

	for _, m := range stats.ByModel {
		if m.Cost > ExpensiveModelUSD && !l.calc.IsFree(m.Model) && alt != "" {
			recs = append(recs, Recommendation{
				Type:         RecCostOptimization,
				Priority:     PriorityHigh,
				Message:      fmt.Sprintf("Consider using %s instead of %s (saves $%.2f/month)", alt, m.Model, m.Cost),
				CurrentModel: m.Model,
				Alternative:  alt,
			})
		}
	}
	for _, m := range stats.ByModel {
		if m.AvgLatencyMS > SlowModelMS {
			recs = append(recs, Recommendation{
				Type:         RecPerformance,
				Priority:     PriorityMedium,
				Message:      fmt.Sprintf("%s has high latency (%.0fms). Consider switching to a faster model.", m.Model, m.AvgLatencyMS),
				CurrentModel: m.Model,
			})
		}
	}
	if monthly.ProjectedMonthlyCost > l.budget.MonthlyBudget {
		recs = append(recs, Recommendation{
			Type:     RecBudgetWarning,
			Priority: PriorityHigh,
			Message: fmt.Sprintf("Projected monthly cost ($%.2f) exceeds budget ($%.2f). Consider cost optimization.",
				monthly.ProjectedMonthlyCost, l.budget.MonthlyBudget),
			ProjectedCost: monthly.ProjectedMonthlyCost,
			Budget:        l.budget.MonthlyBudget,
		})
	}
	return recs
}
