package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/postpilot/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func paper(sourceID string, published time.Time) model.Signal {
	return model.Signal{
		Type:              model.SignalPaper,
		SourceID:          sourceID,
		Title:             "Sparse autoencoders find features " + sourceID,
		Summary:           "We study interpretability.",
		PublishedAt:       published,
		UpstreamRelevance: 0.8,
		CategoryTags:      []string{"cs.LG"},
		Authors:           []string{"A. Author"},
	}
}

// --- Signals ---

func TestSQLite_UpsertSignals_InsertAndUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sigs := []model.Signal{paper("2401.00001", baseTime), paper("2401.00002", baseTime.Add(-time.Hour))}
	n, err := st.UpsertSignals(ctx, sigs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotEmpty(t, sigs[0].ID)

	updated := paper("2401.00001", baseTime)
	updated.Title = "Revised title"
	updated.IsViral = true
	_, err = st.UpsertSignals(ctx, []model.Signal{updated})
	require.NoError(t, err)

	got, err := st.RecentSignals(ctx, baseTime.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2401.00001", got[0].SourceID)
	assert.Equal(t, "Revised title", got[0].Title)
	assert.True(t, got[0].IsViral)
	assert.Equal(t, sigs[0].ID, got[0].ID, "id survives upsert")
	assert.Equal(t, []string{"cs.LG"}, got[0].CategoryTags)
	assert.Nil(t, got[0].ReferencedSourceIDs)
	assert.True(t, got[0].PublishedAt.Equal(baseTime))
}

func TestSQLite_UpsertSignals_RejectsInvalid(t *testing.T) {
	st := newTestSQLiteStore(t)

	bad := paper("", baseTime)
	_, err := st.UpsertSignals(context.Background(), []model.Signal{bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_id")
}

func TestSQLite_RecentSignals_WindowAndProcessed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertSignals(ctx, []model.Signal{
		paper("new", baseTime.AddDate(0, 0, -1)),
		paper("old", baseTime.AddDate(0, 0, -10)),
		paper("done", baseTime.AddDate(0, 0, -2)),
	})
	require.NoError(t, err)
	require.NoError(t, st.MarkSignalsProcessed(ctx, []string{"done"}))
	require.NoError(t, st.MarkSignalsProcessed(ctx, nil))

	got, err := st.RecentSignals(ctx, baseTime.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].SourceID)
}

// --- Posts ---

func newPost() *model.GeneratedPost {
	return &model.GeneratedPost{
		Content:              "Interpretability results worth reading.",
		Hashtags:             []string{"#AISafety", "#Interpretability"},
		Mentions:             []string{"@anthropic"},
		QualityScore:         7.5,
		ContentType:          model.ContentPaper,
		PaperSourceID:        "2401.00001",
		EngagementPrediction: 0.81,
		ModelName:            "ollama/qwen3:8b",
		CreatedAt:            baseTime,
	}
}

func TestSQLite_CreateAndGetPost(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := newPost()
	require.NoError(t, st.CreatePost(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, model.PostStatusDraft, p.Status)

	got, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Content, got.Content)
	assert.Equal(t, p.Hashtags, got.Hashtags)
	assert.Equal(t, p.Mentions, got.Mentions)
	assert.Equal(t, model.ContentPaper, got.ContentType)
	assert.Nil(t, got.ScheduledFor)
	assert.Nil(t, got.PostedAt)
	assert.Nil(t, got.DiscussionSourceIDs)
	assert.True(t, got.CreatedAt.Equal(baseTime))
}

func TestSQLite_GetPost_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetPost(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpdatePost_BumpsVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := newPost()
	require.NoError(t, st.CreatePost(ctx, p))

	slot := baseTime.Add(4 * time.Hour)
	p.Status = model.PostStatusApproved
	p.ScheduledFor = &slot
	p.AppendNote(baseTime, "Approved")
	require.NoError(t, st.UpdatePost(ctx, p))
	assert.Equal(t, 2, p.Version)

	got, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, got.Status)
	assert.Equal(t, 2, got.Version)
	require.NotNil(t, got.ScheduledFor)
	assert.True(t, got.ScheduledFor.Equal(slot))
	assert.Equal(t, "2026-03-10T12:00:00Z Approved", got.ReviewNotes)
}

func TestSQLite_UpdatePost_StaleWrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := newPost()
	require.NoError(t, st.CreatePost(ctx, p))

	a, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)
	b, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)

	a.Status = model.PostStatusApproved
	require.NoError(t, st.UpdatePost(ctx, a))

	b.Status = model.PostStatusRejected
	err = st.UpdatePost(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleWrite))
	assert.Equal(t, 1, b.Version, "failed update leaves version untouched")

	got, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusApproved, got.Status)
}

func TestSQLite_UpdatePost_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	p := newPost()
	p.ID = "ghost"
	p.Version = 1
	err := st.UpdatePost(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListPosts_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	mk := func(status model.PostStatus, created time.Time, slot *time.Time) *model.GeneratedPost {
		p := newPost()
		p.Status = status
		p.CreatedAt = created
		p.ScheduledFor = slot
		require.NoError(t, st.CreatePost(ctx, p))
		return p
	}
	late := baseTime.Add(48 * time.Hour)
	early := baseTime.Add(24 * time.Hour)

	draft := mk(model.PostStatusDraft, baseTime, nil)
	review := mk(model.PostStatusNeedsReview, baseTime.Add(time.Hour), nil)
	approvedLate := mk(model.PostStatusApproved, baseTime.Add(2*time.Hour), &late)
	approvedEarly := mk(model.PostStatusApproved, baseTime.Add(3*time.Hour), &early)
	mk(model.PostStatusRejected, baseTime.AddDate(0, 0, -30), nil)

	pending, err := st.ListPosts(ctx, PostFilter{
		Statuses: []model.PostStatus{model.PostStatusDraft, model.PostStatusNeedsReview},
	})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, review.ID, pending[0].ID, "newest first")
	assert.Equal(t, draft.ID, pending[1].ID)

	scheduled, err := st.ListPosts(ctx, PostFilter{Scheduled: true})
	require.NoError(t, err)
	require.Len(t, scheduled, 2)
	assert.Equal(t, approvedEarly.ID, scheduled[0].ID, "earliest slot first")
	assert.Equal(t, approvedLate.ID, scheduled[1].ID)

	recent, err := st.ListPosts(ctx, PostFilter{CreatedAfter: baseTime.AddDate(0, 0, -7)})
	require.NoError(t, err)
	assert.Len(t, recent, 4)

	page, err := st.ListPosts(ctx, PostFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, approvedLate.ID, page[0].ID)
}

// --- Usage ---

func TestSQLite_Usage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	recs := []model.UsageRecord{
		{ModelName: "gpt-4", Provider: "openai", InputTokens: 100, OutputTokens: 50, TotalCost: 0.006,
			Component: "linkedin_writer", LatencyMS: 1200, Success: true, CreatedAt: baseTime.Add(-time.Hour)},
		{ModelName: "claude-3-haiku", Provider: "anthropic", Success: false, ErrorMessage: "overloaded",
			ErrorType: "transient", TotalCost: 0, CreatedAt: baseTime.Add(-30 * time.Minute)},
		{ModelName: "gpt-4", Provider: "openai", TotalCost: 0.5, Success: true, CreatedAt: baseTime.AddDate(0, -1, 0)},
	}
	for i := range recs {
		require.NoError(t, st.InsertUsage(ctx, &recs[i]))
		assert.NotEmpty(t, recs[i].ID)
	}
	assert.Equal(t, 150, recs[0].TotalTokens)

	since := baseTime.AddDate(0, 0, -1)
	got, err := st.ListUsage(ctx, since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "gpt-4", got[0].ModelName)
	assert.Equal(t, int64(1200), got[0].LatencyMS)
	assert.False(t, got[1].Success)
	assert.Equal(t, "transient", got[1].ErrorType)

	sum, err := st.SumCost(ctx, since)
	require.NoError(t, err)
	assert.InDelta(t, 0.006, sum, 1e-9)

	empty, err := st.SumCost(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestSQLite_ImplementsStore(t *testing.T) {
	var _ Store = newTestSQLiteStore(t)
	var _ Store = (*PostgresStore)(nil)
}
