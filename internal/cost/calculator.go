package cost

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/postpilot/internal/config"
)

// ModelPrice is one entry of the pricing table. Rates are USD per token.
type ModelPrice struct {
	Provider   string  `json:"provider" yaml:"provider"`
	InputRate  float64 `json:"input_rate" yaml:"input_rate"`
	OutputRate float64 `json:"output_rate" yaml:"output_rate"`
	IsFree     bool    `json:"is_free" yaml:"is_free"`
}

// Pricing maps model identifiers to prices.
type Pricing map[string]ModelPrice

// DefaultPerThousand is the fallback rate, in USD per 1000 tokens, charged
// for models missing from the pricing table.
const DefaultPerThousand = 0.001

// DefaultPricing returns the built-in pricing table.
func DefaultPricing() Pricing {
	perK := func(provider string, in, out float64) ModelPrice {
		return ModelPrice{Provider: provider, InputRate: in / 1000, OutputRate: out / 1000}
	}
	free := ModelPrice{Provider: "ollama", IsFree: true}
	return Pricing{
		"ollama/deepseek-r1:1.5b": free,
		"ollama/qwen3:8b":         free,
		"ollama/llama3.1:8b":      free,
		"ollama/mistral:7b":       free,

		"gpt-3.5-turbo": perK("openai", 0.0015, 0.002),
		"gpt-4":         perK("openai", 0.03, 0.06),
		"gpt-4-turbo":   perK("openai", 0.01, 0.03),
		"gpt-4o":        perK("openai", 0.005, 0.015),

		"claude-3-sonnet": perK("anthropic", 0.003, 0.015),
		"claude-3-opus":   perK("anthropic", 0.015, 0.075),
		"claude-3-haiku":  perK("anthropic", 0.00025, 0.00125),

		"gemini-pro":        perK("google", 0.0005, 0.0015),
		"gemini-pro-vision": perK("google", 0.0005, 0.0015),
	}
}

// PricingFromConfig overlays configured entries on the built-in table.
// Entries without a model name are ignored.
func PricingFromConfig(cfg config.PricingConfig) Pricing {
	p := DefaultPricing()
	for _, m := range cfg.Models {
		if m.Model == "" {
			continue
		}
		provider := m.Provider
		if provider == "" {
			provider = ProviderFor(m.Model)
		}
		p[m.Model] = ModelPrice{
			Provider:   provider,
			InputRate:  m.InputRate,
			OutputRate: m.OutputRate,
			IsFree:     m.IsFree,
		}
	}
	return p
}

// Breakdown is the priced result of one call.
type Breakdown struct {
	Provider   string  `json:"provider"`
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
	IsFree     bool    `json:"is_free"`
	Known      bool    `json:"known"`
}

// Calculator prices language-model calls.
type Calculator struct {
	pricing      Pricing
	defaultPer1K float64
}

// NewCalculator creates a Calculator. A negative defaultPer1K falls back to
// DefaultPerThousand.
func NewCalculator(pricing Pricing, defaultPer1K float64) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	if defaultPer1K < 0 {
		defaultPer1K = DefaultPerThousand
	}
	return &Calculator{pricing: pricing, defaultPer1K: defaultPer1K}
}

// Price returns the table entry for model.
func (c *Calculator) Price(model string) (ModelPrice, bool) {
	p, ok := c.pricing[model]
	return p, ok
}

// IsFree reports whether model is a known free-tier model.
func (c *Calculator) IsFree(model string) bool {
	p, ok := c.pricing[model]
	return ok && p.IsFree
}

// Cost prices a call. Free models always cost zero. Unknown models are
// charged the default per-1000-token rate on total tokens, split between
// input and output by token share. Every amount is rounded to 6 decimal
// places, half up.
func (c *Calculator) Cost(model string, inputTokens, outputTokens int) Breakdown {
	p, ok := c.pricing[model]
	if !ok {
		return c.unknownCost(model, inputTokens, outputTokens)
	}
	if p.IsFree {
		return Breakdown{Provider: p.Provider, IsFree: true, Known: true}
	}

	in := decimal.NewFromInt(int64(inputTokens)).Mul(decimal.NewFromFloat(p.InputRate))
	out := decimal.NewFromInt(int64(outputTokens)).Mul(decimal.NewFromFloat(p.OutputRate))
	return Breakdown{
		Provider:   p.Provider,
		InputCost:  round6(in),
		OutputCost: round6(out),
		TotalCost:  round6(in.Add(out)),
		Known:      true,
	}
}

func (c *Calculator) unknownCost(model string, inputTokens, outputTokens int) Breakdown {
	b := Breakdown{Provider: ProviderFor(model)}
	total := inputTokens + outputTokens
	if total <= 0 || c.defaultPer1K == 0 {
		return b
	}
	all := decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(1000)).Mul(decimal.NewFromFloat(c.defaultPer1K))
	in := all.Mul(decimal.NewFromInt(int64(inputTokens))).Div(decimal.NewFromInt(int64(total)))
	b.InputCost = round6(in)
	b.OutputCost = round6(all.Sub(in))
	b.TotalCost = round6(all)
	return b
}

// CheapestFree returns the free-tier model to suggest as an alternative.
// Models are compared by name so the choice is stable; preferred wins when
// it is itself free.
func (c *Calculator) CheapestFree(preferred ...string) string {
	for _, m := range preferred {
		if c.IsFree(m) {
			return m
		}
	}
	var free []string
	for m, p := range c.pricing {
		if p.IsFree {
			free = append(free, m)
		}
	}
	if len(free) == 0 {
		return ""
	}
	sort.Strings(free)
	return free[0]
}

// Provider returns the provider recorded for model, inferring it from the
// model name when the table has no entry.
func (c *Calculator) Provider(model string) string {
	if p, ok := c.pricing[model]; ok && p.Provider != "" {
		return p.Provider
	}
	return ProviderFor(model)
}

// ProviderFor infers a provider from a model identifier.
func ProviderFor(model string) string {
	switch {
	case strings.HasPrefix(model, "ollama/"):
		return "ollama"
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	}
	if i := strings.Index(model, "/"); i > 0 {
		return model[:i]
	}
	return "unknown"
}

func round6(d decimal.Decimal) float64 {
	return d.Round(6).InexactFloat64()
}
