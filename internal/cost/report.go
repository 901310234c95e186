package cost

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report renders a markdown cost report for the trailing days.
func (l *Ledger) Report(ctx context.Context, days int) (string, error) {
	stats, monthly, recs, err := l.reportData(ctx, days)
	if err != nil {
		return "", err
	}
	return RenderReport(l.now(), days, stats, monthly, recs), nil
}

func (l *Ledger) reportData(ctx context.Context, days int) (*UsageStats, *MonthlyReport, []Recommendation, error) {
	stats, err := l.UsageStats(ctx, days)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "cost: report")
	}
	monthly, err := l.MonthlyCosts(ctx)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "cost: report")
	}
	recs, err := l.Recommendations(ctx)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "cost: report")
	}
	return stats, monthly, recs, nil
}

// RenderReport formats report sections as markdown.
func RenderReport(now time.Time, days int, stats *UsageStats, monthly *MonthlyReport, recs []Recommendation) string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	fmt.Fprintf(&b, "# LLM Cost Report (%d days)\n", days)
	fmt.Fprintf(&b, "Generated: %s\n\n", now.UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Total Cost: $%.4f\n", stats.TotalCost)
	p.Fprintf(&b, "- Total Requests: %d\n", stats.TotalRequests)
	fmt.Fprintf(&b, "- Success Rate: %.1f%%\n", stats.SuccessRate*100)
	fmt.Fprintf(&b, "- Avg Cost/Request: $%.6f\n", stats.AvgCostPerRequest)
	p.Fprintf(&b, "- Total Tokens: %d\n\n", stats.TotalTokens)

	b.WriteString("## Current Month\n")
	fmt.Fprintf(&b, "- Month Cost: $%.4f\n", monthly.CurrentMonthCost)
	fmt.Fprintf(&b, "- Budget: $%.2f\n", monthly.MonthlyBudget)
	fmt.Fprintf(&b, "- Budget Used: %.1f%%\n", monthly.BudgetUsagePercent*100)
	fmt.Fprintf(&b, "- Projected: $%.2f\n\n", monthly.ProjectedMonthlyCost)

	b.WriteString("## Model Breakdown\n")
	for _, m := range stats.ByModel {
		p.Fprintf(&b, "- %s (%s): $%.4f | %d requests | %d tokens\n", m.Model, m.Provider, m.Cost, m.Requests, m.Tokens)
	}

	if len(recs) > 0 {
		b.WriteString("\n## Recommendations\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "- %s\n", r.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExportXLSX writes the report as a workbook with summary, model, component
// and daily sheets.
func (l *Ledger) ExportXLSX(ctx context.Context, days int, path string) error {
	stats, monthly, recs, err := l.reportData(ctx, days)
	if err != nil {
		return err
	}
	f, err := BuildWorkbook(stats, monthly, recs)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "cost: save workbook %s", path)
}

// BuildWorkbook lays out report data as an xlsx file.
func BuildWorkbook(stats *UsageStats, monthly *MonthlyReport, recs []Recommendation) (*xlsx.File, error) {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return nil, eris.Wrap(err, "cost: add summary sheet")
	}
	addRow(summary, "Metric", "Value")
	addRow(summary, "Period Days", stats.PeriodDays)
	addRow(summary, "Total Requests", stats.TotalRequests)
	addRow(summary, "Successful Requests", stats.SuccessfulRequests)
	addRow(summary, "Success Rate", stats.SuccessRate)
	addRow(summary, "Total Cost", stats.TotalCost)
	addRow(summary, "Total Tokens", stats.TotalTokens)
	addRow(summary, "Avg Latency (ms)", stats.AvgLatencyMS)
	addRow(summary, "Avg Cost/Request", stats.AvgCostPerRequest)
	addRow(summary, "Month Cost", monthly.CurrentMonthCost)
	addRow(summary, "Monthly Budget", monthly.MonthlyBudget)
	addRow(summary, "Projected Monthly Cost", monthly.ProjectedMonthlyCost)
	for _, r := range recs {
		addRow(summary, "Recommendation ("+r.Type+")", r.Message)
	}

	models, err := f.AddSheet("Models")
	if err != nil {
		return nil, eris.Wrap(err, "cost: add models sheet")
	}
	addRow(models, "Model", "Provider", "Requests", "Cost", "Tokens", "Avg Latency (ms)")
	for _, m := range stats.ByModel {
		addRow(models, m.Model, m.Provider, m.Requests, m.Cost, m.Tokens, m.AvgLatencyMS)
	}

	components, err := f.AddSheet("Components")
	if err != nil {
		return nil, eris.Wrap(err, "cost: add components sheet")
	}
	addRow(components, "Component", "Requests", "Cost", "Tokens")
	for _, c := range stats.ByComponent {
		addRow(components, c.Component, c.Requests, c.Cost, c.Tokens)
	}

	daily, err := f.AddSheet("Daily")
	if err != nil {
		return nil, eris.Wrap(err, "cost: add daily sheet")
	}
	addRow(daily, "Date", "Requests", "Cost")
	for _, d := range stats.ByDay {
		addRow(daily, d.Date, d.Requests, d.Cost)
	}

	return f, nil
}

func addRow(sheet *xlsx.Sheet, values ...any) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch x := v.(type) {
		case string:
			cell.SetString(x)
		case int:
			cell.SetInt(x)
		case float64:
			cell.SetFloat(x)
		default:
			cell.SetString(fmt.Sprint(x))
		}
	}
}
