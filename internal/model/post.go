package model

import (
	"strings"
	"time"
)

// PostStatus is the lifecycle state of a generated post.
type PostStatus string

const (
	PostStatusDraft             PostStatus = "draft"
	PostStatusNeedsReview       PostStatus = "needs_review"
	PostStatusApproved          PostStatus = "approved"
	PostStatusRejected          PostStatus = "rejected"
	PostStatusNeedsRegeneration PostStatus = "needs_regeneration"
)

// Valid reports whether s is a known status.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusNeedsReview, PostStatusApproved,
		PostStatusRejected, PostStatusNeedsRegeneration:
		return true
	}
	return false
}

const (
	MaxHashtags = 5
	MaxMentions = 3
)

// GeneratedPost is a persisted draft and its review state.
type GeneratedPost struct {
	ID                   string      `json:"id"`
	Content              string      `json:"content"`
	Hashtags             []string    `json:"hashtags"`
	Mentions             []string    `json:"mentions"`
	QualityScore         float64     `json:"quality_score"`
	Status               PostStatus  `json:"status"`
	ScheduledFor         *time.Time  `json:"scheduled_for,omitempty"`
	PostedAt             *time.Time  `json:"posted_at,omitempty"`
	ReviewNotes          string      `json:"review_notes,omitempty"`
	PaperSourceID        string      `json:"paper_source_id,omitempty"`
	DiscussionSourceIDs  []string    `json:"discussion_source_ids,omitempty"`
	ContentType          ContentType `json:"content_type"`
	EngagementPrediction float64     `json:"engagement_prediction"`
	ModelName            string      `json:"model_name,omitempty"`
	Version              int         `json:"version"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// AppendNote adds one timestamped line to the review log.
func (p *GeneratedPost) AppendNote(at time.Time, note string) {
	line := at.UTC().Format(time.RFC3339) + " " + note
	if p.ReviewNotes == "" {
		p.ReviewNotes = line
		return
	}
	p.ReviewNotes += "\n" + line
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (p GeneratedPost) Clone() GeneratedPost {
	c := p
	c.Hashtags = append([]string(nil), p.Hashtags...)
	c.Mentions = append([]string(nil), p.Mentions...)
	c.DiscussionSourceIDs = append([]string(nil), p.DiscussionSourceIDs...)
	if p.ScheduledFor != nil {
		t := *p.ScheduledFor
		c.ScheduledFor = &t
	}
	if p.PostedAt != nil {
		t := *p.PostedAt
		c.PostedAt = &t
	}
	return c
}

// NormalizeHashtags trims, prefixes with '#', de-duplicates case-insensitively
// and caps the list at MaxHashtags, keeping first-seen order.
func NormalizeHashtags(tags []string) []string {
	return normalizeTags(tags, "#", MaxHashtags)
}

// NormalizeMentions is NormalizeHashtags for '@' handles, capped at MaxMentions.
func NormalizeMentions(mentions []string) []string {
	return normalizeTags(mentions, "@", MaxMentions)
}

func normalizeTags(tags []string, prefix string, limit int) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		t = strings.TrimLeft(t, prefix)
		if t == "" || strings.ContainsAny(t, " \t\n") {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, prefix+t)
		if len(out) == limit {
			break
		}
	}
	return out
}
