// Package calendar mirrors scheduled posts into a Notion content calendar.
package calendar

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/store"
	"github.com/sells-group/postpilot/pkg/notion"
)

// Calendar database property names.
const (
	PropName        = "Name"
	PropPostID      = "Post ID"
	PropStatus      = "Status"
	PropScheduled   = "Scheduled"
	PropPosted      = "Posted"
	PropContentType = "Content Type"
	PropQuality     = "Quality"
	PropHashtags    = "Hashtags"
	PropContent     = "Content"
)

const titleLength = 80

// PostSource lists and loads posts to mirror.
type PostSource interface {
	ListPosts(ctx context.Context, filter store.PostFilter) ([]model.GeneratedPost, error)
	GetPost(ctx context.Context, id string) (*model.GeneratedPost, error)
}

// Result counts the outcome of one sync.
type Result struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Syncer upserts approved, scheduled posts into the calendar database keyed
// by post ID.
type Syncer struct {
	db    *notion.Database
	posts PostSource
}

// NewSyncer creates a Syncer for the calendar database dbID.
func NewSyncer(client notion.Client, dbID string, posts PostSource) *Syncer {
	return &Syncer{db: notion.NewDatabase(client, dbID, PropPostID), posts: posts}
}

// Sync mirrors every approved post with a slot. Per-post failures are
// counted and do not stop the sync.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	posts, err := s.posts.ListPosts(ctx, store.PostFilter{
		Statuses:  []model.PostStatus{model.PostStatusApproved},
		Scheduled: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "calendar: list scheduled posts")
	}

	existing, err := s.db.Index(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "calendar: load calendar")
	}

	res := &Result{}
	for i := range posts {
		p := &posts[i]
		s.record(ctx, res, p, existing[p.ID])
	}

	zap.L().Info("calendar: sync complete",
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// SyncPost mirrors a single post, looking up its calendar row by post ID.
// Only approved posts with a slot are mirrored.
func (s *Syncer) SyncPost(ctx context.Context, id string) (*Result, error) {
	p, err := s.posts.GetPost(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "calendar: load post %s", id)
	}
	if p.Status != model.PostStatusApproved || p.ScheduledFor == nil {
		return nil, eris.Errorf("calendar: post %s is %s and not scheduled for publication", id, p.Status)
	}

	pageID, err := s.db.Find(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "calendar: find post %s", id)
	}
	res := &Result{}
	s.record(ctx, res, p, pageID)
	return res, nil
}

// record upserts p into its calendar row and counts the outcome. An empty
// pageID creates a new row.
func (s *Syncer) record(ctx context.Context, res *Result, p *model.GeneratedPost, pageID string) {
	created, err := s.db.Upsert(ctx, pageID, Properties(p))
	switch {
	case err != nil:
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("post %s: %v", p.ID, err))
		zap.L().Warn("calendar: sync post failed", zap.String("post_id", p.ID), zap.Error(err))
	case created:
		res.Created++
	default:
		res.Updated++
	}
}

// Properties maps a post onto calendar page properties.
func Properties(p *model.GeneratedPost) notionapi.Properties {
	props := notionapi.Properties{
		PropName:        notion.Title(Headline(p.Content)),
		PropPostID:      notion.Text(p.ID),
		PropStatus:      notion.Select(string(p.Status)),
		PropContentType: notion.Select(string(p.ContentType)),
		PropQuality:     notion.Number(p.QualityScore),
		PropHashtags:    notion.MultiSelect(p.Hashtags...),
		PropContent:     notion.Text(p.Content),
	}
	if p.ScheduledFor != nil {
		props[PropScheduled] = notion.Date(*p.ScheduledFor)
	}
	if p.PostedAt != nil {
		props[PropPosted] = notion.Date(*p.PostedAt)
	}
	return props
}

// Headline is the first non-empty line of content, shortened for a title.
func Headline(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > titleLength {
			return string(r[:titleLength-3]) + "..."
		}
		return line
	}
	return "(empty post)"
}
