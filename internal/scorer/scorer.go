package scorer

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/model"
)

// ErrNoSignalsAvailable is returned when no opportunity clears its gate.
var ErrNoSignalsAvailable = eris.New("no signals available")

// Pool entry thresholds on upstream relevance.
const (
	paperPoolMin      = 0.6
	discussionPoolMin = 0.8
	highRelevance     = 0.9
)

var visualCategories = []string{"cs.CV", "cs.LG", "cs.AI"}

// SignalSource returns unprocessed signals published at or after since.
type SignalSource interface {
	RecentSignals(ctx context.Context, since time.Time) ([]model.Signal, error)
}

// Scorer turns recent signals into ranked content opportunities.
type Scorer struct {
	src      SignalSource
	cfg      config.ScorerConfig
	strategy Strategy
	now      func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithStrategy replaces the keyword heuristics.
func WithStrategy(s Strategy) Option {
	return func(sc *Scorer) { sc.strategy = s }
}

// WithClock overrides the clock used for ages.
func WithClock(now func() time.Time) Option {
	return func(sc *Scorer) { sc.now = now }
}

// New creates a Scorer. Zero limits and window fall back to defaults.
func New(src SignalSource, cfg config.ScorerConfig, opts ...Option) *Scorer {
	s := &Scorer{
		src:      src,
		cfg:      withDefaults(cfg),
		strategy: DefaultStrategy(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ScoreRecent scores every candidate in the trailing window and returns those
// clearing their type's gate, highest score first. windowDays <= 0 uses the
// configured window.
func (s *Scorer) ScoreRecent(ctx context.Context, windowDays int) ([]model.ContentOpportunity, error) {
	if windowDays <= 0 {
		windowDays = s.cfg.WindowDays
	}
	now := s.now()
	since := now.AddDate(0, 0, -windowDays)

	signals, err := s.src.RecentSignals(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: load signals")
	}
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].PublishedAt.After(signals[j].PublishedAt)
	})

	var papers, discussions []model.Signal
	for _, sig := range signals {
		switch sig.Type {
		case model.SignalPaper:
			papers = append(papers, sig)
		case model.SignalDiscussion:
			discussions = append(discussions, sig)
		}
	}

	var opps []model.ContentOpportunity
	paperOpps := s.scorePapers(papers, now)
	discussionOpps := s.scoreDiscussions(discussions, now)
	trendOpps := s.scoreTrends(papers, discussions, now)
	opps = append(opps, paperOpps...)
	opps = append(opps, discussionOpps...)
	opps = append(opps, trendOpps...)

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].TotalScore > opps[j].TotalScore
	})

	zap.L().Info("scorer: scored opportunities",
		zap.Int("signals", len(signals)),
		zap.Int("papers", len(paperOpps)),
		zap.Int("discussions", len(discussionOpps)),
		zap.Int("trends", len(trendOpps)),
	)

	if len(opps) == 0 {
		return nil, eris.Wrapf(ErrNoSignalsAvailable, "scorer: %d signals in %d-day window", len(signals), windowDays)
	}
	return opps, nil
}

// TopOpportunities returns up to count opportunities with type diversity.
func (s *Scorer) TopOpportunities(ctx context.Context, count, windowDays int) ([]model.ContentOpportunity, error) {
	opps, err := s.ScoreRecent(ctx, windowDays)
	if err != nil {
		return nil, err
	}
	return SelectDiverse(opps, count), nil
}

func (s *Scorer) scorePapers(papers []model.Signal, now time.Time) []model.ContentOpportunity {
	var out []model.ContentOpportunity
	n := 0
	for _, p := range papers {
		if p.UpstreamRelevance < paperPoolMin {
			continue
		}
		if n >= s.cfg.PaperLimit {
			break
		}
		n++
		if o := s.scorePaper(p, now); o.TotalScore >= s.cfg.MinScore.Paper {
			out = append(out, o)
		}
	}
	return out
}

func (s *Scorer) scoreDiscussions(discussions []model.Signal, now time.Time) []model.ContentOpportunity {
	var out []model.ContentOpportunity
	n := 0
	for _, d := range discussions {
		if !d.IsViral && d.UpstreamRelevance < discussionPoolMin {
			continue
		}
		if n >= s.cfg.DiscussionLimit {
			break
		}
		n++
		if o := s.scoreDiscussion(d, now); o.TotalScore >= s.cfg.MinScore.Discussion {
			out = append(out, o)
		}
	}
	return out
}

// scoreTrends scores papers cited by at least one discussion in the window.
func (s *Scorer) scoreTrends(papers, discussions []model.Signal, now time.Time) []model.ContentOpportunity {
	citedBy := make(map[string][]string)
	for _, d := range discussions {
		for _, ref := range d.ReferencedSourceIDs {
			citedBy[ref] = append(citedBy[ref], d.SourceID)
		}
	}

	var out []model.ContentOpportunity
	n := 0
	for _, p := range papers {
		refs := citedBy[p.SourceID]
		if len(refs) == 0 {
			continue
		}
		if n >= s.cfg.TrendLimit {
			break
		}
		n++
		if o := s.scoreTrend(p, refs, now); o.TotalScore >= s.cfg.MinScore.TrendCombo {
			out = append(out, o)
		}
	}
	return out
}

func (s *Scorer) scorePaper(p model.Signal, now time.Time) model.ContentOpportunity {
	age := p.AgeDays(now)
	text := p.Text()

	novelty := 5.0 + float64(s.strategy.NoveltyHits(text))
	switch {
	case age <= 1:
		novelty += 2
	case age <= 3:
		novelty++
	}

	engagement := 5.0 + float64(s.strategy.EngagementHits(text))
	if p.UpstreamRelevance >= highRelevance {
		engagement += 1.5
	}

	visual := 3.0
	if p.HasCategory(visualCategories...) {
		visual += 2
	}
	visual += float64(s.strategy.FigureHits(p.Summary))

	o := model.NewOpportunity(s.cfg.Weights, model.ContentPaper, p.SourceID, p.Title, model.Components{
		Novelty:    novelty,
		Relevance:  relevance(p),
		Timeliness: Timeliness(age),
		Engagement: engagement,
		Visual:     visual,
	})
	o.Description = "Paper: " + p.SourceID
	o.RecommendedAngle = s.paperAngle(p)
	o.SignalIDs = []string{p.SourceID}
	o.SourceData = map[string]any{
		"source_id":  p.SourceID,
		"authors":    p.Authors,
		"abstract":   truncate(p.Summary, 200),
		"categories": p.CategoryTags,
		"url":        p.URL,
	}
	return o
}

func (s *Scorer) scoreDiscussion(d model.Signal, now time.Time) model.ContentOpportunity {
	novelty, engagement := 5.0, 6.0
	if d.IsViral {
		novelty, engagement = 7.0, 9.0
	}

	content := d.Summary
	if content == "" {
		content = d.Title
	}

	o := model.NewOpportunity(s.cfg.Weights, model.ContentDiscussion, d.SourceID, "Discussion: "+truncate(content, 50), model.Components{
		Novelty:    novelty,
		Relevance:  relevance(d),
		Timeliness: Timeliness(d.AgeDays(now)),
		Engagement: engagement,
		Visual:     4.0,
	})
	o.Description = "Discussion by @" + d.AuthorHandle
	if d.AuthorHandle == "" {
		o.Description = "Discussion " + d.SourceID
	}
	topic := s.strategy.Topic(content)
	if topic == "" {
		topic = "AI research"
	}
	o.RecommendedAngle = "Community perspectives on " + topic
	if d.AuthorHandle != "" {
		o.SuggestedMentions = []string{"@" + strings.TrimPrefix(d.AuthorHandle, "@")}
	}
	o.SignalIDs = []string{d.SourceID}
	o.SourceData = map[string]any{
		"content":               content,
		"author_handle":         d.AuthorHandle,
		"is_viral":              d.IsViral,
		"referenced_source_ids": d.ReferencedSourceIDs,
	}
	return o
}

func (s *Scorer) scoreTrend(p model.Signal, discussionIDs []string, now time.Time) model.ContentOpportunity {
	o := model.NewOpportunity(s.cfg.Weights, model.ContentTrendCombo, p.SourceID, "Trend: "+truncate(p.Title, 50), model.Components{
		Novelty:    8.5,
		Relevance:  relevance(p),
		Timeliness: Timeliness(p.AgeDays(now)),
		Engagement: 9.0,
		Visual:     7.5,
	})
	o.Description = "Trending discussion around " + p.SourceID
	o.RecommendedAngle = "Why everyone is talking about " + s.mainTopic(p)
	o.SignalIDs = append([]string{p.SourceID}, discussionIDs...)
	o.SourceData = map[string]any{
		"paper": map[string]any{
			"source_id": p.SourceID,
			"title":     p.Title,
			"authors":   p.Authors,
		},
		"discussion_count": len(discussionIDs),
	}
	return o
}

func (s *Scorer) paperAngle(p model.Signal) string {
	title := fold(p.Title)
	switch {
	case strings.Contains(title, "safety"):
		return "What this means for AI safety research"
	case strings.Contains(title, "method"):
		return "Breaking down the methodology in " + p.SourceID
	default:
		return "New insights on " + s.mainTopic(p)
	}
}

// mainTopic is the first high-relevance topic in the title, else its first
// three words.
func (s *Scorer) mainTopic(p model.Signal) string {
	if t := s.strategy.Topic(p.Title); t != "" {
		return t
	}
	words := strings.Fields(p.Title)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.ToLower(strings.Join(words, " "))
}

func relevance(s model.Signal) float64 {
	return math.Min(s.UpstreamRelevance*10, model.MaxComponentScore)
}

// Timeliness maps a signal's age in whole days to a score.
func Timeliness(ageDays int) float64 {
	switch {
	case ageDays <= 0:
		return 10
	case ageDays <= 1:
		return 9
	case ageDays <= 3:
		return 7
	case ageDays <= 7:
		return 5
	default:
		return math.Max(10-float64(ageDays), 1)
	}
}

// truncate cuts s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
