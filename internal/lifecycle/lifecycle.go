package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/metrics"
	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/quality"
	"github.com/sells-group/postpilot/internal/schedule"
	"github.com/sells-group/postpilot/internal/store"
)

// PostStore is the subset of store.Store the lifecycle needs.
type PostStore interface {
	GetPost(ctx context.Context, id string) (*model.GeneratedPost, error)
	UpdatePost(ctx context.Context, p *model.GeneratedPost) error
	ListPosts(ctx context.Context, filter store.PostFilter) ([]model.GeneratedPost, error)
}

// Manager applies lifecycle transitions and persists them.
type Manager struct {
	posts     PostStore
	planner   schedule.Planner
	rules     quality.Rules
	blocklist []string
	minScore  float64
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for notes and scheduling.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics counts gate outcomes in mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates a Manager from pipeline config.
func New(posts PostStore, cfg config.PipelineConfig, opts ...Option) *Manager {
	blocklist := cfg.Blocklist
	if len(blocklist) == 0 {
		blocklist = quality.DefaultBlocklist()
	}
	m := &Manager{
		posts:     posts,
		planner:   schedule.FromConfig(cfg),
		rules:     quality.RulesFromConfig(cfg),
		blocklist: blocklist,
		minScore:  cfg.QualityMinScore,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Rules returns the quality rules used when rescoring edits.
func (m *Manager) Rules() quality.Rules { return m.rules }

// Evaluate returns nil when p may be approved without a reviewer, otherwise
// ErrQualityTooLow or ErrContentPolicyViolation describing why not.
func (m *Manager) Evaluate(p *model.GeneratedPost, minScore float64) error {
	if strings.TrimSpace(p.Content) == "" {
		return eris.Wrap(ErrQualityTooLow, "lifecycle: empty content")
	}
	if n := quality.Length(p.Content); n > m.rules.MaxLength {
		return eris.Wrapf(ErrContentPolicyViolation, "lifecycle: length %d exceeds %d", n, m.rules.MaxLength)
	}
	if v := quality.PolicyCheck(p.Content, m.blocklist); len(v) > 0 {
		return eris.Wrapf(ErrContentPolicyViolation, "lifecycle: %s", strings.Join(v, "; "))
	}
	if p.QualityScore < minScore {
		return eris.Wrapf(ErrQualityTooLow, "lifecycle: score %.1f below %.1f", p.QualityScore, minScore)
	}
	return nil
}

// Gate routes a freshly persisted draft to approved (and schedules it) or to
// needs_review. The returned status is the one persisted.
func (m *Manager) Gate(ctx context.Context, p *model.GeneratedPost) (model.PostStatus, error) {
	if p.Status != model.PostStatusDraft {
		return p.Status, eris.Wrapf(ErrInvalidTransition, "lifecycle: gate post %s in status %s", p.ID, p.Status)
	}

	next := p.Clone()
	reason := m.Evaluate(&next, m.minScore)
	if reason == nil {
		next.Status = model.PostStatusApproved
		if err := m.assignSlot(ctx, &next); err != nil {
			return p.Status, err
		}
	} else {
		next.Status = model.PostStatusNeedsReview
		next.AppendNote(m.now(), "Needs review - Reason: "+cause(reason))
	}

	if err := m.posts.UpdatePost(ctx, &next); err != nil {
		return p.Status, eris.Wrapf(err, "lifecycle: gate post %s", p.ID)
	}
	*p = next
	m.metrics.PostGenerated(string(p.Status))

	zap.L().Info("lifecycle: gated post",
		zap.String("post_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.Float64("quality_score", p.QualityScore),
	)
	return p.Status, nil
}

// Approve is the reviewer's approval. It assigns a slot when none is set.
func (m *Manager) Approve(ctx context.Context, id, note string) (*model.GeneratedPost, error) {
	return m.apply(ctx, id, func(p *model.GeneratedPost) error {
		if err := checkTransition(p, model.PostStatusApproved); err != nil {
			return err
		}
		p.Status = model.PostStatusApproved
		p.AppendNote(m.now(), withDetail("Approved by reviewer", "Note", note))
		return m.assignSlot(ctx, p)
	})
}

// Edit replaces a pending post's content and rescores it. With approveAfter
// the post is approved when it now passes Evaluate; otherwise the edit is
// kept, the post stays in needs_review and the evaluation error is returned
// alongside the saved post.
func (m *Manager) Edit(ctx context.Context, id, content string, approveAfter bool) (*model.GeneratedPost, error) {
	var verdict error
	p, err := m.apply(ctx, id, func(p *model.GeneratedPost) error {
		if p.Status != model.PostStatusDraft && p.Status != model.PostStatusNeedsReview {
			return eris.Wrapf(ErrInvalidTransition, "lifecycle: edit post %s in status %s", p.ID, p.Status)
		}
		p.Content = strings.TrimSpace(content)
		p.QualityScore = quality.Score(p.Content, p.Hashtags, p.Mentions, m.rules)
		p.Status = model.PostStatusNeedsReview
		p.AppendNote(m.now(), "Edited by reviewer")

		if !approveAfter {
			return nil
		}
		if verdict = m.Evaluate(p, m.minScore); verdict != nil {
			return nil
		}
		p.Status = model.PostStatusApproved
		p.AppendNote(m.now(), "Approved by reviewer after edit")
		return m.assignSlot(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, verdict
}

// Reject is terminal.
func (m *Manager) Reject(ctx context.Context, id, reason string) (*model.GeneratedPost, error) {
	return m.apply(ctx, id, func(p *model.GeneratedPost) error {
		if err := checkTransition(p, model.PostStatusRejected); err != nil {
			return err
		}
		p.Status = model.PostStatusRejected
		p.AppendNote(m.now(), withDetail("Rejected by reviewer", "Reason", reason))
		return nil
	})
}

// MarkForRegeneration retires the post; the next run produces a new draft.
func (m *Manager) MarkForRegeneration(ctx context.Context, id, reason string) (*model.GeneratedPost, error) {
	return m.apply(ctx, id, func(p *model.GeneratedPost) error {
		if err := checkTransition(p, model.PostStatusNeedsRegeneration); err != nil {
			return err
		}
		p.Status = model.PostStatusNeedsRegeneration
		p.AppendNote(m.now(), withDetail("Marked for regeneration by reviewer", "Reason", reason))
		return nil
	})
}

// MarkPosted records external publication of an approved post.
func (m *Manager) MarkPosted(ctx context.Context, id string, at time.Time) (*model.GeneratedPost, error) {
	return m.apply(ctx, id, func(p *model.GeneratedPost) error {
		if p.Status != model.PostStatusApproved || p.PostedAt != nil {
			return eris.Wrapf(ErrInvalidTransition, "lifecycle: mark post %s posted in status %s", p.ID, p.Status)
		}
		at = at.UTC()
		p.PostedAt = &at
		p.AppendNote(m.now(), "Posted")
		return nil
	})
}

// AutoApprove approves every draft scoring at least minScore that passes the
// content policy. Drafts that fail the policy move to needs_review. Posts
// changed concurrently are skipped.
func (m *Manager) AutoApprove(ctx context.Context, minScore float64) (int, error) {
	drafts, err := m.posts.ListPosts(ctx, store.PostFilter{Statuses: []model.PostStatus{model.PostStatusDraft}})
	if err != nil {
		return 0, eris.Wrap(err, "lifecycle: list drafts")
	}

	approved := 0
	for i := range drafts {
		p := &drafts[i]
		if p.QualityScore < minScore {
			continue
		}

		verdict := m.Evaluate(p, minScore)
		if verdict == nil {
			p.Status = model.PostStatusApproved
			p.AppendNote(m.now(), fmt.Sprintf("Auto-approved (score: %.1f)", p.QualityScore))
			if err := m.assignSlot(ctx, p); err != nil {
				return approved, err
			}
		} else {
			p.Status = model.PostStatusNeedsReview
			p.AppendNote(m.now(), "Needs review - Reason: "+cause(verdict))
		}

		if err := m.posts.UpdatePost(ctx, p); err != nil {
			if errors.Is(err, store.ErrStaleWrite) {
				zap.L().Warn("lifecycle: post changed during auto-approve, skipping", zap.String("post_id", p.ID))
				continue
			}
			return approved, eris.Wrapf(err, "lifecycle: auto-approve post %s", p.ID)
		}
		if p.Status == model.PostStatusApproved {
			approved++
		}
	}

	zap.L().Info("lifecycle: auto-approve complete",
		zap.Int("drafts", len(drafts)),
		zap.Int("approved", approved),
		zap.Float64("min_score", minScore),
	)
	return approved, nil
}

// Pending lists posts awaiting a reviewer: drafts and needs_review.
func (m *Manager) Pending(ctx context.Context) ([]model.GeneratedPost, error) {
	posts, err := m.posts.ListPosts(ctx, store.PostFilter{
		Statuses: []model.PostStatus{model.PostStatusDraft, model.PostStatusNeedsReview},
	})
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: list pending")
	}
	return posts, nil
}

// Scheduled lists approved, unpublished posts ordered by slot.
func (m *Manager) Scheduled(ctx context.Context) ([]model.GeneratedPost, error) {
	posts, err := m.posts.ListPosts(ctx, store.PostFilter{
		Statuses:  []model.PostStatus{model.PostStatusApproved},
		Scheduled: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: list scheduled")
	}
	return posts, nil
}

// OpenSlots previews the next n publication slots not yet taken by a
// scheduled post.
func (m *Manager) OpenSlots(ctx context.Context, n int) ([]time.Time, error) {
	taken, err := m.takenSlots(ctx)
	if err != nil {
		return nil, err
	}
	return m.planner.Slots(m.now(), taken, n), nil
}

// GateUrgent is Gate for emergency posts: a draft scoring at least minScore is
// approved and pinned to at instead of the next grid slot.
func (m *Manager) GateUrgent(ctx context.Context, p *model.GeneratedPost, minScore float64, at time.Time) (model.PostStatus, error) {
	if p.Status != model.PostStatusDraft {
		return p.Status, eris.Wrapf(ErrInvalidTransition, "lifecycle: gate urgent post %s in status %s", p.ID, p.Status)
	}

	next := p.Clone()
	if reason := m.Evaluate(&next, minScore); reason != nil {
		next.Status = model.PostStatusNeedsReview
		next.AppendNote(m.now(), "Needs review - Reason: "+cause(reason))
	} else {
		at = at.UTC()
		next.Status = model.PostStatusApproved
		next.ScheduledFor = &at
		next.AppendNote(m.now(), "Auto-approved for urgent publication")
	}

	if err := m.posts.UpdatePost(ctx, &next); err != nil {
		return p.Status, eris.Wrapf(err, "lifecycle: gate urgent post %s", p.ID)
	}
	*p = next
	m.metrics.PostGenerated(string(p.Status))
	return p.Status, nil
}

// apply loads a post, mutates a copy and persists it. The stored post is
// untouched when fn fails.
func (m *Manager) apply(ctx context.Context, id string, fn func(*model.GeneratedPost) error) (*model.GeneratedPost, error) {
	cur, err := m.posts.GetPost(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load post %s", id)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return nil, err
	}
	if err := m.posts.UpdatePost(ctx, &next); err != nil {
		return nil, eris.Wrapf(err, "lifecycle: save post %s", id)
	}
	return &next, nil
}

func (m *Manager) assignSlot(ctx context.Context, p *model.GeneratedPost) error {
	if p.ScheduledFor != nil {
		return nil
	}
	taken, err := m.takenSlots(ctx)
	if err != nil {
		return err
	}
	slot := m.planner.Next(m.now(), taken)
	p.ScheduledFor = &slot
	return nil
}

func (m *Manager) takenSlots(ctx context.Context) ([]time.Time, error) {
	scheduled, err := m.Scheduled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(scheduled))
	for _, p := range scheduled {
		if p.ScheduledFor != nil {
			out = append(out, *p.ScheduledFor)
		}
	}
	return out, nil
}

func withDetail(action, label, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return action
	}
	return action + " - " + label + ": " + detail
}

// cause strips the package prefix from an evaluation error for review notes.
func cause(err error) string {
	return strings.TrimPrefix(err.Error(), "lifecycle: ")
}
