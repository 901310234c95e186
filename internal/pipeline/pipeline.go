// Package pipeline runs the daily signal-to-post flow: collect, score,
// generate, persist and gate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/quality"
	"github.com/sells-group/postpilot/internal/scorer"
	"github.com/sells-group/postpilot/internal/store"
)

// EmergencyMinScore is the quality an urgent post needs to skip review.
const EmergencyMinScore = 7.0

// ErrEmptyContent is returned when a model produced no usable post text.
var ErrEmptyContent = eris.New("pipeline: empty content")

// Collector gathers signals from one upstream source into the store.
type Collector interface {
	Name() string
	Collect(ctx context.Context) (int, error)
}

// OpportunitySource ranks content opportunities. Implemented by *scorer.Scorer.
type OpportunitySource interface {
	TopOpportunities(ctx context.Context, count, windowDays int) ([]model.ContentOpportunity, error)
}

// Drafter generates post text for an opportunity. Implemented by *Writer.
type Drafter interface {
	Draft(ctx context.Context, opp model.ContentOpportunity) (*Draft, error)
}

// Gatekeeper routes drafts through the review lifecycle. Implemented by
// *lifecycle.Manager.
type Gatekeeper interface {
	Gate(ctx context.Context, p *model.GeneratedPost) (model.PostStatus, error)
	GateUrgent(ctx context.Context, p *model.GeneratedPost, minScore float64, at time.Time) (model.PostStatus, error)
}

// PostStore is the subset of store.Store the pipeline writes to.
type PostStore interface {
	CreatePost(ctx context.Context, p *model.GeneratedPost) error
	ListPosts(ctx context.Context, filter store.PostFilter) ([]model.GeneratedPost, error)
	MarkSignalsProcessed(ctx context.Context, sourceIDs []string) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Collectors []Collector
	Scorer     OpportunitySource
	Writer     Drafter
	Lifecycle  Gatekeeper
	Posts      PostStore
}

// FailureKind tags why a candidate produced no draft.
type FailureKind string

const (
	FailureModel       FailureKind = "model"
	FailurePersistence FailureKind = "persistence"
	FailureEmpty       FailureKind = "empty"
)

// GenerationResult is the outcome of one candidate: a persisted draft or an
// error with its kind.
type GenerationResult struct {
	Opportunity model.ContentOpportunity
	Post        *model.GeneratedPost
	Err         error
	Kind        FailureKind
}

// Orchestrator runs the daily pipeline.
type Orchestrator struct {
	cfg        config.PipelineConfig
	windowDays int
	deps       Deps
	rules      quality.Rules
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the orchestrator clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New validates cfg and creates an Orchestrator. A validation failure is the
// only error that prevents a run.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, eris.Wrap(err, "pipeline: invalid config")
	}
	if deps.Scorer == nil || deps.Writer == nil || deps.Lifecycle == nil || deps.Posts == nil {
		return nil, eris.New("pipeline: scorer, writer, lifecycle and posts are required")
	}
	o := &Orchestrator{
		cfg:        cfg.Pipeline,
		windowDays: cfg.Scorer.WindowDays,
		deps:       deps,
		rules:      quality.RulesFromConfig(cfg.Pipeline),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// DailyRun collects signals, scores them, generates up to the daily target of
// drafts concurrently and gates each one. Per-candidate failures are recorded
// in the stats and never abort the run.
func (o *Orchestrator) DailyRun(ctx context.Context) (*model.RunStats, error) {
	stats := &model.RunStats{RunID: uuid.NewString(), StartedAt: o.now().UTC()}
	log := zap.L().With(zap.String("run_id", stats.RunID))
	log.Info("pipeline: starting daily run", zap.Int("daily_target", o.cfg.DailyTarget))

	o.collect(ctx, stats, log)

	candidates := o.candidates(ctx, stats, log)
	results := o.generateAll(ctx, candidates)

	var processed []string
	for _, r := range results {
		if r.Err != nil {
			stats.AddError(fmt.Sprintf("generate %s %q: %s: %v", r.Opportunity.ContentType, r.Opportunity.Title, r.Kind, r.Err))
			log.Warn("pipeline: candidate failed",
				zap.String("source_id", r.Opportunity.SourceID),
				zap.String("kind", string(r.Kind)),
				zap.Error(r.Err),
			)
			continue
		}
		stats.PostsGenerated++
		processed = append(processed, r.Opportunity.SignalIDs...)

		status, err := o.deps.Lifecycle.Gate(ctx, r.Post)
		if err != nil {
			stats.AddError(fmt.Sprintf("gate post %s: %v", r.Post.ID, err))
			continue
		}
		switch status {
		case model.PostStatusApproved:
			stats.PostsApproved++
			if r.Post.ScheduledFor != nil {
				stats.PostsScheduled++
			}
		case model.PostStatusNeedsReview:
			stats.PostsNeedingReview++
		}
	}

	if len(processed) > 0 {
		if err := o.deps.Posts.MarkSignalsProcessed(ctx, processed); err != nil {
			stats.AddError(fmt.Sprintf("mark signals processed: %v", err))
		}
	}

	stats.FinishedAt = o.now().UTC()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)
	stats.Success = ctx.Err() == nil && (len(candidates) == 0 || stats.PostsGenerated > 0)

	log.Info("pipeline: daily run complete",
		zap.Int("signals_collected", stats.SignalsCollected),
		zap.Int("opportunities", stats.OpportunitiesScored),
		zap.Int("generated", stats.PostsGenerated),
		zap.Int("approved", stats.PostsApproved),
		zap.Int("needs_review", stats.PostsNeedingReview),
		zap.Int("errors", len(stats.Errors)),
		zap.Duration("duration", stats.Duration),
	)

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("pipeline: daily run interrupted: %w", err)
	}
	return stats, nil
}

func (o *Orchestrator) collect(ctx context.Context, stats *model.RunStats, log *zap.Logger) {
	for _, c := range o.deps.Collectors {
		n, err := c.Collect(ctx)
		stats.SignalsCollected += n
		if err != nil {
			stats.AddError(fmt.Sprintf("collect %s: %v", c.Name(), err))
			log.Warn("pipeline: collector failed", zap.String("collector", c.Name()), zap.Error(err))
			continue
		}
		log.Debug("pipeline: collected signals", zap.String("collector", c.Name()), zap.Int("count", n))
	}
}

// candidates fetches twice the daily target and keeps the first daily target
// of them.
func (o *Orchestrator) candidates(ctx context.Context, stats *model.RunStats, log *zap.Logger) []model.ContentOpportunity {
	opps, err := o.deps.Scorer.TopOpportunities(ctx, 2*o.cfg.DailyTarget, o.windowDays)
	switch {
	case errors.Is(err, scorer.ErrNoSignalsAvailable):
		log.Info("pipeline: no signals available")
		return nil
	case err != nil:
		stats.AddError(fmt.Sprintf("score opportunities: %v", err))
		return nil
	}
	stats.OpportunitiesScored = len(opps)
	if len(opps) > o.cfg.DailyTarget {
		opps = opps[:o.cfg.DailyTarget]
	}
	return opps
}

// generateAll drafts every candidate with bounded concurrency. Results keep
// candidate order.
func (o *Orchestrator) generateAll(ctx context.Context, opps []model.ContentOpportunity) []GenerationResult {
	results := make([]GenerationResult, len(opps))
	var g errgroup.Group
	g.SetLimit(max(1, o.cfg.MaxConcurrency))
	for i, opp := range opps {
		g.Go(func() error {
			results[i] = o.generate(ctx, opp)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// generate drafts, scores and persists one opportunity.
func (o *Orchestrator) generate(ctx context.Context, opp model.ContentOpportunity) GenerationResult {
	res := GenerationResult{Opportunity: opp}

	gctx := ctx
	if o.cfg.GenerationTimeoutSecs > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.GenerationTimeoutSecs)*time.Second)
		defer cancel()
	}

	d, err := o.deps.Writer.Draft(gctx, opp)
	if err != nil {
		res.Err, res.Kind = err, FailureModel
		return res
	}
	if strings.TrimSpace(d.Content) == "" {
		res.Err, res.Kind = eris.Wrapf(ErrEmptyContent, "pipeline: model %s", d.Model), FailureEmpty
		return res
	}

	post := o.newPost(opp, d)
	if err := o.deps.Posts.CreatePost(ctx, post); err != nil {
		res.Err, res.Kind = err, FailurePersistence
		return res
	}
	res.Post = post
	return res
}

func (o *Orchestrator) newPost(opp model.ContentOpportunity, d *Draft) *model.GeneratedPost {
	p := &model.GeneratedPost{
		Content:              d.Content,
		Hashtags:             d.Hashtags,
		Mentions:             d.Mentions,
		QualityScore:         quality.Score(d.Content, d.Hashtags, d.Mentions, o.rules),
		Status:               model.PostStatusDraft,
		ContentType:          opp.ContentType,
		EngagementPrediction: opp.EngagementPrediction(),
		ModelName:            d.Model,
		CreatedAt:            o.now().UTC(),
	}
	switch opp.ContentType {
	case model.ContentPaper:
		p.PaperSourceID = opp.SourceID
	case model.ContentDiscussion:
		p.DiscussionSourceIDs = []string{opp.SourceID}
	case model.ContentTrendCombo:
		p.PaperSourceID = opp.SourceID
		if len(opp.SignalIDs) > 1 {
			p.DiscussionSourceIDs = append([]string(nil), opp.SignalIDs[1:]...)
		}
	}
	return p
}

// EmergencyOpportunity builds the synthetic opportunity for an urgent topic.
func EmergencyOpportunity(topic, urgency string) model.ContentOpportunity {
	opp := model.NewOpportunity(model.DefaultWeights(), model.ContentEmergency, "", "Emergency: "+topic, model.Components{
		Novelty:    10,
		Relevance:  10,
		Timeliness: 10,
		Engagement: 9,
		Visual:     5,
	})
	opp.Description = "Urgent content about " + topic
	opp.RecommendedAngle = "COAI perspective on " + topic
	opp.SourceData = map[string]any{"topic": topic, "urgency": urgency}
	return opp
}

// GenerateEmergencyPost drafts a post on topic outside the daily run. A draft
// scoring at least EmergencyMinScore is approved and scheduled after the
// configured delay. Otherwise it is left for review and nil is returned.
func (o *Orchestrator) GenerateEmergencyPost(ctx context.Context, topic, urgency string) (*model.GeneratedPost, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, eris.New("pipeline: emergency topic is required")
	}
	if urgency == "" {
		urgency = "high"
	}
	log := zap.L().With(zap.String("topic", topic), zap.String("urgency", urgency))
	log.Info("pipeline: generating emergency post")

	res := o.generate(ctx, EmergencyOpportunity(topic, urgency))
	if res.Err != nil {
		return nil, eris.Wrapf(res.Err, "pipeline: emergency post (%s)", res.Kind)
	}

	delay := time.Duration(o.cfg.EmergencyDelayMins) * time.Minute
	if delay <= 0 {
		delay = time.Hour
	}
	status, err := o.deps.Lifecycle.GateUrgent(ctx, res.Post, EmergencyMinScore, o.now().Add(delay))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: emergency post")
	}
	if status != model.PostStatusApproved {
		log.Info("pipeline: emergency post left for review",
			zap.String("post_id", res.Post.ID),
			zap.Float64("quality_score", res.Post.QualityScore),
		)
		return nil, nil
	}

	log.Info("pipeline: emergency post approved",
		zap.String("post_id", res.Post.ID),
		zap.Time("scheduled_for", *res.Post.ScheduledFor),
	)
	return res.Post, nil
}

// Stats aggregates posts created in the trailing window of days.
func (o *Orchestrator) Stats(ctx context.Context, days int) (*model.PipelineStats, error) {
	if days <= 0 {
		days = 7
	}
	posts, err := o.deps.Posts.ListPosts(ctx, store.PostFilter{
		CreatedAfter: o.now().AddDate(0, 0, -days),
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: stats")
	}
	return Summarize(posts, days), nil
}

// Summarize computes pipeline stats over posts for a window of days.
func Summarize(posts []model.GeneratedPost, days int) *model.PipelineStats {
	s := &model.PipelineStats{PeriodDays: days, TotalPosts: len(posts)}
	var qualitySum float64
	for _, p := range posts {
		switch p.Status {
		case model.PostStatusApproved:
			s.Approved++
		case model.PostStatusNeedsReview:
			s.NeedsReview++
		case model.PostStatusRejected:
			s.Rejected++
		}
		if p.PostedAt != nil {
			s.Published++
		}
		qualitySum += p.QualityScore
	}
	if len(posts) > 0 {
		s.AverageQuality = math.Round(qualitySum/float64(len(posts))*100) / 100
	}
	s.ApprovalRate = float64(s.Approved) / float64(max(len(posts), 1))
	if days > 0 {
		s.PostsPerDay = float64(len(posts)) / float64(days)
	}
	return s
}
