package calendar

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/store"
	"github.com/sells-group/postpilot/pkg/notion"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

type fakePosts struct {
	posts []model.GeneratedPost
	err   error
	got   store.PostFilter
}

func (f *fakePosts) ListPosts(_ context.Context, filter store.PostFilter) ([]model.GeneratedPost, error) {
	f.got = filter
	return f.posts, f.err
}

func (f *fakePosts) GetPost(_ context.Context, id string) (*model.GeneratedPost, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.posts {
		if f.posts[i].ID == id {
			p := f.posts[i]
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func scheduledPost(id string, hour int) model.GeneratedPost {
	at := time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
	return model.GeneratedPost{
		ID:           id,
		Content:      "Why do probes generalize?\nA short thread on interpretability.",
		Hashtags:     []string{"#AISafety"},
		QualityScore: 8.5,
		Status:       model.PostStatusApproved,
		ContentType:  model.ContentPaper,
		ScheduledFor: &at,
	}
}

func calendarPage(pageID, postID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			PropPostID: &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: postID}}},
		},
	}
}

func TestSync_CreatesAndUpdates(t *testing.T) {
	ctx := context.Background()
	posts := &fakePosts{posts: []model.GeneratedPost{scheduledPost("post-1", 16), scheduledPost("post-2", 21)}}
	nc := new(mockNotion)

	nc.On("QueryDatabase", ctx, "cal-db", mock.Anything).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{calendarPage("page-1", "post-1"), calendarPage("page-x", "")},
	}, nil).Once()
	nc.On("UpdatePage", ctx, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		_, ok := req.Properties[PropScheduled]
		return ok
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()
	nc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		return req.Parent.DatabaseID == notionapi.DatabaseID("cal-db") &&
			notion.PlainText(req.Properties[PropPostID].(notionapi.RichTextProperty).RichText) == "post-2"
	})).Return(&notionapi.Page{ID: "page-2"}, nil).Once()

	res, err := NewSyncer(nc, "cal-db", posts).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 1, Updated: 1}, res)
	assert.True(t, posts.got.Scheduled)
	assert.Equal(t, []model.PostStatus{model.PostStatusApproved}, posts.got.Statuses)
	nc.AssertExpectations(t)
}

func TestSync_PerPostFailureContinues(t *testing.T) {
	ctx := context.Background()
	posts := &fakePosts{posts: []model.GeneratedPost{scheduledPost("post-1", 16), scheduledPost("post-2", 21)}}
	nc := new(mockNotion)

	nc.On("QueryDatabase", ctx, "cal-db", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	nc.On("CreatePage", ctx, mock.Anything).Return(nil, errors.New("validation_error")).Once()
	nc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "page-2"}, nil).Once()

	res, err := NewSyncer(nc, "cal-db", posts).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "post post-1: validation_error")
	nc.AssertExpectations(t)
}

func TestSync_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewSyncer(new(mockNotion), "cal-db", &fakePosts{err: errors.New("db down")}).Sync(ctx)
	assert.ErrorContains(t, err, "calendar: list scheduled posts")

	nc := new(mockNotion)
	nc.On("QueryDatabase", ctx, "cal-db", mock.Anything).Return(nil, errors.New("unauthorized")).Once()
	_, err = NewSyncer(nc, "cal-db", &fakePosts{}).Sync(ctx)
	assert.ErrorContains(t, err, "calendar: load calendar")
}

func TestSyncPost_UpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	posts := &fakePosts{posts: []model.GeneratedPost{scheduledPost("post-7", 16)}}
	nc := new(mockNotion)

	nc.On("QueryDatabase", ctx, "cal-db", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == PropPostID && pf.RichText.Equals == "post-7"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{calendarPage("page-7", "post-7")},
	}, nil).Once()
	nc.On("UpdatePage", ctx, "page-7", mock.Anything).Return(&notionapi.Page{ID: "page-7"}, nil).Once()

	res, err := NewSyncer(nc, "cal-db", posts).SyncPost(ctx, "post-7")
	require.NoError(t, err)
	assert.Equal(t, &Result{Updated: 1}, res)
	nc.AssertExpectations(t)
}

func TestSyncPost_CreatesMissingRow(t *testing.T) {
	ctx := context.Background()
	posts := &fakePosts{posts: []model.GeneratedPost{scheduledPost("post-8", 21)}}
	nc := new(mockNotion)

	nc.On("QueryDatabase", ctx, "cal-db", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	nc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "page-8"}, nil).Once()

	res, err := NewSyncer(nc, "cal-db", posts).SyncPost(ctx, "post-8")
	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 1}, res)
	nc.AssertExpectations(t)
}

func TestSyncPost_RejectsUnscheduledPost(t *testing.T) {
	ctx := context.Background()
	draft := scheduledPost("post-9", 16)
	draft.Status = model.PostStatusNeedsReview
	draft.ScheduledFor = nil
	nc := new(mockNotion)

	_, err := NewSyncer(nc, "cal-db", &fakePosts{posts: []model.GeneratedPost{draft}}).SyncPost(ctx, "post-9")
	assert.ErrorContains(t, err, "calendar: post post-9 is needs_review")

	_, err = NewSyncer(nc, "cal-db", &fakePosts{}).SyncPost(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	nc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
}

func TestProperties(t *testing.T) {
	t.Parallel()
	p := scheduledPost("post-1", 16)
	posted := p.ScheduledFor.Add(time.Minute)
	p.PostedAt = &posted

	props := Properties(&p)
	assert.Equal(t, "Why do probes generalize?", notion.PlainText(props[PropName].(notionapi.TitleProperty).Title))
	assert.Equal(t, "approved", props[PropStatus].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "paper", props[PropContentType].(notionapi.SelectProperty).Select.Name)
	assert.InDelta(t, 8.5, props[PropQuality].(notionapi.NumberProperty).Number, 1e-9)
	assert.Len(t, props[PropHashtags].(notionapi.MultiSelectProperty).MultiSelect, 1)
	assert.Contains(t, props, PropScheduled)
	assert.Contains(t, props, PropPosted)

	p.ScheduledFor, p.PostedAt = nil, nil
	props = Properties(&p)
	assert.NotContains(t, props, PropScheduled)
	assert.NotContains(t, props, PropPosted)
}

func TestHeadline(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "First line", Headline("\n  First line  \nsecond"))
	assert.Equal(t, "(empty post)", Headline("  \n "))
	long := Headline(strings.Repeat("a", 200))
	assert.Len(t, []rune(long), titleLength)
	assert.True(t, strings.HasSuffix(long, "..."))
}
