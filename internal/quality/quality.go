// Package quality scores generated post text and screens it against the
// content policy.
package quality

import (
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/sells-group/postpilot/internal/config"
)

// Rules parameterize Score.
type Rules struct {
	MinLength      int
	MaxLength      int
	DomainKeywords []string
	RoboticPhrases []string
}

// DefaultRules returns the reference checklist for LinkedIn posts.
func DefaultRules() Rules {
	return Rules{
		MinLength:      200,
		MaxLength:      2900,
		DomainKeywords: []string{"ai safety", "alignment", "interpretability", "control"},
		RoboticPhrases: []string{"leverage", "optimize", "utilize", "furthermore", "moreover"},
	}
}

// RulesFromConfig overrides the length bounds from pipeline config.
func RulesFromConfig(cfg config.PipelineConfig) Rules {
	r := DefaultRules()
	if cfg.PlatformMaxLength > 0 {
		r.MaxLength = cfg.PlatformMaxLength
	}
	if cfg.MinLength > 0 {
		r.MinLength = cfg.MinLength
	}
	return r
}

// Length counts content in runes, the unit platform limits are stated in.
func Length(content string) int {
	return utf8.RuneCountInString(content)
}

// Score rates a draft on [0,10]:
//
//	base 5
//	+1   length within [MinLength, MaxLength]
//	-2   length above MaxLength
//	+0.5 two or more hashtags
//	+0.5 at least one mention
//	+0.5 contains '?' or '!'
//	+0.5 per domain keyword, at most 1.5
//	-0.3 per robotic phrase, at most 1.0
func Score(content string, hashtags, mentions []string, r Rules) float64 {
	score := 5.0

	n := Length(content)
	switch {
	case n > r.MaxLength:
		score -= 2
	case n >= r.MinLength:
		score++
	}

	if len(hashtags) >= 2 {
		score += 0.5
	}
	if len(mentions) >= 1 {
		score += 0.5
	}

	if content != "" {
		if strings.ContainsAny(content, "?!") {
			score += 0.5
		}
		folded := cases.Fold().String(content)
		score += math.Min(0.5*float64(countContained(folded, r.DomainKeywords)), 1.5)
		score -= math.Min(0.3*float64(countContained(folded, r.RoboticPhrases)), 1.0)
	}

	return math.Max(0, math.Min(10, score))
}

func countContained(folded string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(folded, cases.Fold().String(t)) {
			n++
		}
	}
	return n
}
