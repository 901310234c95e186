package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/postpilot/internal/config"
	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/store"
)

var testNow = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		QualityMinScore:     7.0,
		PlatformMaxLength:   2900,
		MinLength:           200,
		PostingSpacingHours: 5,
		DailyPostCap:        3,
		BaseSlotHourUTC:     8,
	}
}

func newTestManager(t *testing.T) (*Manager, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, testConfig(), WithClock(func() time.Time { return testNow })), st
}

func draft(t *testing.T, st *store.SQLiteStore, content string, score float64) *model.GeneratedPost {
	t.Helper()
	p := &model.GeneratedPost{
		Content:      content,
		Hashtags:     []string{"#AISafety", "#Interpretability"},
		QualityScore: score,
		ContentType:  model.ContentPaper,
		CreatedAt:    testNow,
	}
	require.NoError(t, st.CreatePost(context.Background(), p))
	return p
}

func slot(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to model.PostStatus
		want     bool
	}{
		{model.PostStatusDraft, model.PostStatusApproved, true},
		{model.PostStatusDraft, model.PostStatusNeedsReview, true},
		{model.PostStatusDraft, model.PostStatusRejected, true},
		{model.PostStatusDraft, model.PostStatusNeedsRegeneration, true},
		{model.PostStatusNeedsReview, model.PostStatusApproved, true},
		{model.PostStatusNeedsReview, model.PostStatusRejected, true},
		{model.PostStatusNeedsReview, model.PostStatusNeedsRegeneration, true},
		{model.PostStatusNeedsReview, model.PostStatusDraft, false},
		{model.PostStatusRejected, model.PostStatusApproved, false},
		{model.PostStatusRejected, model.PostStatusNeedsReview, false},
		{model.PostStatusApproved, model.PostStatusRejected, false},
		{model.PostStatusApproved, model.PostStatusNeedsReview, false},
		{model.PostStatusNeedsRegeneration, model.PostStatusApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestGate_Approves(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	p := draft(t, st, "Why interpretability matters.", 7.5)

	status, err := m.Gate(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, status)
	require.NotNil(t, p.ScheduledFor)
	assert.Equal(t, slot(8), *p.ScheduledFor)

	got, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestGate_SecondPostTakesNextSlot(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	first := draft(t, st, "First post.", 8)
	second := draft(t, st, "Second post.", 8)
	_, err := m.Gate(ctx, first)
	require.NoError(t, err)
	_, err = m.Gate(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, slot(8), *first.ScheduledFor)
	assert.Equal(t, slot(13), *second.ScheduledFor)
}

func TestGate_NeedsReview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		score   float64
		want    error
	}{
		{"low score", "Fine content.", 6.9, ErrQualityTooLow},
		{"policy violation overrides score", "Click here for more!", 9.5, ErrContentPolicyViolation},
		{"punctuation", "Wow! Great! Amazing! Really!", 9.5, ErrContentPolicyViolation},
		{"too long", strings.Repeat("a", 2901), 9.5, ErrContentPolicyViolation},
		{"empty", "   ", 9.5, ErrQualityTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, st := newTestManager(t)
			p := draft(t, st, tt.content, tt.score)

			assert.True(t, errors.Is(m.Evaluate(p, 7.0), tt.want))

			status, err := m.Gate(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, model.PostStatusNeedsReview, status)
			assert.Nil(t, p.ScheduledFor)
			assert.Contains(t, p.ReviewNotes, "Needs review - Reason:")
		})
	}
}

func TestGate_RejectsNonDraft(t *testing.T) {
	m, st := newTestManager(t)
	p := draft(t, st, "content", 8)
	p.Status = model.PostStatusApproved

	_, err := m.Gate(context.Background(), p)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestApprove(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	p := draft(t, st, "Low score but reviewer likes it.", 5)

	got, err := m.Approve(ctx, p.ID, "good angle")
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, got.Status)
	require.NotNil(t, got.ScheduledFor)
	assert.Equal(t, slot(8), *got.ScheduledFor)
	assert.Equal(t, "2026-03-10T06:00:00Z Approved by reviewer - Note: good angle", got.ReviewNotes)
}

func TestApprove_KeepsExistingSlot(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	p := draft(t, st, "content", 8)
	fixed := slot(20)
	p.ScheduledFor = &fixed
	require.NoError(t, st.UpdatePost(ctx, p))

	got, err := m.Approve(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, fixed, *got.ScheduledFor)
	assert.Equal(t, "2026-03-10T06:00:00Z Approved by reviewer", got.ReviewNotes)
}

func TestReject_IsTerminal(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	p := draft(t, st, "content", 8)

	got, err := m.Reject(ctx, p.ID, "off-topic")
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusRejected, got.Status)
	assert.Equal(t, "2026-03-10T06:00:00Z Rejected by reviewer - Reason: off-topic", got.ReviewNotes)

	_, err = m.Approve(ctx, p.ID, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	_, err = m.MarkForRegeneration(ctx, p.ID, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	stored, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusRejected, stored.Status)
	assert.Equal(t, got.Version, stored.Version)
}

func TestMarkForRegeneration(t *testing.T) {
	m, st := newTestManager(t)
	p := draft(t, st, "content", 8)

	got, err := m.MarkForRegeneration(context.Background(), p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusNeedsRegeneration, got.Status)
	assert.Contains(t, got.ReviewNotes, "Marked for regeneration by reviewer")

	_, err = m.Edit(context.Background(), p.ID, "new", false)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestEdit_RescoresAndApproves(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	p := draft(t, st, "too short", 5)

	content := strings.Repeat("Interpretability and alignment research matters. ", 5) + "Agree?"
	got, err := m.Edit(ctx, p.ID, content, true)
	require.NoError(t, err)
	// 5 + 1 length + 0.5 hashtags + 0.5 '?' + 1.0 keywords
	assert.InDelta(t, 8.0, got.QualityScore, 1e-9)
	assert.Equal(t, model.PostStatusApproved, got.Status)
	assert.NotNil(t, got.ScheduledFor)
	lines := strings.Split(got.ReviewNotes, "\n")
	assert.Equal(t, []string{
		"2026-03-10T06:00:00Z Edited by reviewer",
		"2026-03-10T06:00:00Z Approved by reviewer after edit",
	}, lines)
}

func TestEdit_StaysInReviewWhenStillWeak(t *testing.T) {
	m, st := newTestManager(t)
	p := draft(t, st, "short", 5)

	got, err := m.Edit(context.Background(), p.ID, "still short", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQualityTooLow))
	require.NotNil(t, got)
	assert.Equal(t, model.PostStatusNeedsReview, got.Status)
	assert.Equal(t, "still short", got.Content)

	stored, err := st.GetPost(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "still short", stored.Content)
}

func TestMarkPosted(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	p := draft(t, st, "content", 8)

	_, err := m.MarkPosted(ctx, p.ID, testNow)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = m.Approve(ctx, p.ID, "")
	require.NoError(t, err)

	postedAt := slot(9)
	got, err := m.MarkPosted(ctx, p.ID, postedAt)
	require.NoError(t, err)
	require.NotNil(t, got.PostedAt)
	assert.Equal(t, postedAt, *got.PostedAt)

	_, err = m.MarkPosted(ctx, p.ID, postedAt)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	scheduled, err := m.Scheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, scheduled)
}

func TestAutoApprove(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	high := draft(t, st, "Strong post.", 8.5)
	low := draft(t, st, "Weak post.", 6)
	spam := draft(t, st, "Buy now!", 9)
	reviewed := draft(t, st, "Already in review.", 9)
	_, err := m.Reject(ctx, reviewed.ID, "")
	require.NoError(t, err)

	n, err := m.AutoApprove(ctx, 8.0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetPost(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, got.Status)
	assert.Equal(t, slot(8), *got.ScheduledFor)
	assert.Contains(t, got.ReviewNotes, "Auto-approved (score: 8.5)")

	got, err = st.GetPost(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusDraft, got.Status)

	got, err = st.GetPost(ctx, spam.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusNeedsReview, got.Status)
}

func TestPending(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	a := draft(t, st, "a", 8)
	b := draft(t, st, "b", 5)
	c := draft(t, st, "c", 5)
	_, err := m.Gate(ctx, b)
	require.NoError(t, err)
	_, err = m.Reject(ctx, c.ID, "")
	require.NoError(t, err)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	var got []string
	for _, p := range pending {
		got = append(got, p.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, got)
}

func TestGateUrgent(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	at := testNow.Add(time.Hour)

	p := draft(t, st, "urgent", 9)
	status, err := m.GateUrgent(ctx, p, 7.0, at)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, status)
	require.NotNil(t, p.ScheduledFor)
	assert.Equal(t, at, *p.ScheduledFor)
	assert.Contains(t, p.ReviewNotes, "Auto-approved for urgent publication")

	low := draft(t, st, "urgent but weak", 6.5)
	status, err = m.GateUrgent(ctx, low, 7.0, at)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusNeedsReview, status)
	assert.Nil(t, low.ScheduledFor)

	_, err = m.GateUrgent(ctx, p, 7.0, at)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestApprove_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Approve(context.Background(), "missing", "")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestAutoApprove_LengthBoundary(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	atLimit := draft(t, st, strings.Repeat("a", 2900), 9)
	overLimit := draft(t, st, strings.Repeat("a", 2901), 9)

	n, err := m.AutoApprove(ctx, 8.0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetPost(ctx, atLimit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, got.Status)

	got, err = st.GetPost(ctx, overLimit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusNeedsReview, got.Status)
	assert.Nil(t, got.ScheduledFor)
	assert.Contains(t, got.ReviewNotes, "length 2901 exceeds 2900")
}

func TestOpenSlots(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	p := draft(t, st, "Scheduled first.", 8)
	_, err := m.Gate(ctx, p)
	require.NoError(t, err)

	slots, err := m.OpenSlots(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		slot(13), slot(18),
		time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
	}, slots)
}
