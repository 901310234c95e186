package scorer

import (
	"strings"

	"golang.org/x/text/cases"
)

// Strategy supplies the text heuristics behind the component scores.
type Strategy interface {
	// NoveltyHits counts novelty vocabulary in text.
	NoveltyHits(text string) int
	// EngagementHits counts engagement vocabulary in text.
	EngagementHits(text string) int
	// FigureHits counts figure-related vocabulary in text.
	FigureHits(text string) int
	// Topic returns the first high-relevance topic mentioned in text, or "".
	Topic(text string) string
}

// KeywordStrategy matches fixed vocabularies as case-folded substrings.
type KeywordStrategy struct {
	Novelty    []string
	Topics     []string
	Engagement []string
	Figures    []string
}

// DefaultStrategy returns the reference vocabularies.
func DefaultStrategy() *KeywordStrategy {
	return &KeywordStrategy{
		Novelty: []string{
			"novel", "new", "breakthrough", "first", "unprecedented",
			"revolutionary", "innovative", "cutting-edge", "state-of-the-art",
		},
		Topics: []string{
			"ai safety", "ai alignment", "mechanistic interpretability",
			"ai control", "existential risk", "ai governance",
			"interpretability", "safety", "alignment", "control",
		},
		Engagement: []string{
			"controversial", "surprising", "implications",
			"breakthrough", "concerns", "debate", "discussion",
		},
		Figures: []string{"figure", "visualization", "chart", "graph", "plot"},
	}
}

func (k *KeywordStrategy) NoveltyHits(text string) int    { return countHits(k.Novelty, text) }
func (k *KeywordStrategy) EngagementHits(text string) int { return countHits(k.Engagement, text) }
func (k *KeywordStrategy) FigureHits(text string) int     { return countHits(k.Figures, text) }

func (k *KeywordStrategy) Topic(text string) string {
	folded := fold(text)
	for _, t := range k.Topics {
		if strings.Contains(folded, fold(t)) {
			return t
		}
	}
	return ""
}

// fold applies Unicode case folding. A Caser keeps state, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func countHits(keywords []string, text string) int {
	if text == "" {
		return 0
	}
	folded := fold(text)
	n := 0
	for _, kw := range keywords {
		if strings.Contains(folded, fold(kw)) {
			n++
		}
	}
	return n
}
