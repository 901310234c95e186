// Package scorer ranks collected signals as content opportunities.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/model"
)

// DefaultScorerConfig returns a config.ScorerConfig with the reference
// weights and gates.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		Weights: model.DefaultWeights(),
		MinScore: config.MinScoreConfig{
			Paper:      6.0,
			Discussion: 5.5,
			TrendCombo: 7.0,
		},
		WindowDays:      7,
		PaperLimit:      50,
		DiscussionLimit: 30,
		TrendLimit:      10,
	}
}

// ValidateConfig checks that a ScorerConfig is internally consistent.
func ValidateConfig(c config.ScorerConfig) error {
	var errs []string

	w := c.Weights
	for name, v := range map[string]float64{
		"novelty":    w.Novelty,
		"relevance":  w.Relevance,
		"timeliness": w.Timeliness,
		"engagement": w.Engagement,
		"visual":     w.Visual,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("weights.%s must be >= 0", name))
		}
	}
	if math.Abs(w.Sum()-1.0) > 0.001 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1.0, got %.3f", w.Sum()))
	}

	if c.MinScore.Paper < 0 || c.MinScore.Discussion < 0 || c.MinScore.TrendCombo < 0 {
		errs = append(errs, "min_score values must be >= 0")
	}
	if c.WindowDays < 0 {
		errs = append(errs, "window_days must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// withDefaults fills zero limits and window from the defaults.
func withDefaults(c config.ScorerConfig) config.ScorerConfig {
	def := DefaultScorerConfig()
	if c.Weights == (model.ScoreWeights{}) {
		c.Weights = def.Weights
	}
	if c.WindowDays <= 0 {
		c.WindowDays = def.WindowDays
	}
	if c.PaperLimit <= 0 {
		c.PaperLimit = def.PaperLimit
	}
	if c.DiscussionLimit <= 0 {
		c.DiscussionLimit = def.DiscussionLimit
	}
	if c.TrendLimit <= 0 {
		c.TrendLimit = def.TrendLimit
	}
	return c
}
