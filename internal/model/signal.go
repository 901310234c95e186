// Package model defines the records that flow through the post pipeline:
// collected signals, scored opportunities, generated posts and usage rows.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SignalType identifies the collector a signal came from.
type SignalType string

const (
	SignalPaper      SignalType = "paper"
	SignalDiscussion SignalType = "discussion"
)

// Signal is a normalized record delivered by an external collector.
type Signal struct {
	ID                  string     `json:"id" yaml:"id"`
	Type                SignalType `json:"type" yaml:"type"`
	SourceID            string     `json:"source_id" yaml:"source_id"`
	Title               string     `json:"title" yaml:"title"`
	Summary             string     `json:"summary" yaml:"summary"`
	URL                 string     `json:"url,omitempty" yaml:"url,omitempty"`
	PublishedAt         time.Time  `json:"published_at" yaml:"published_at"`
	UpstreamRelevance   float64    `json:"upstream_relevance" yaml:"upstream_relevance"`
	IsViral             bool       `json:"is_viral,omitempty" yaml:"is_viral,omitempty"`
	CategoryTags        []string   `json:"category_tags,omitempty" yaml:"category_tags,omitempty"`
	Authors             []string   `json:"authors,omitempty" yaml:"authors,omitempty"`
	AuthorHandle        string     `json:"author_handle,omitempty" yaml:"author_handle,omitempty"`
	ReferencedSourceIDs []string   `json:"referenced_source_ids,omitempty" yaml:"referenced_source_ids,omitempty"`
	Processed           bool       `json:"processed" yaml:"processed"`
	CollectedAt         time.Time  `json:"collected_at" yaml:"collected_at"`
}

// Text returns the title and summary joined for keyword matching.
func (s Signal) Text() string {
	return s.Title + " " + s.Summary
}

// AgeDays returns the whole number of days between publication and now.
// Signals published in the future count as zero days old.
func (s Signal) AgeDays(now time.Time) int {
	d := now.Sub(s.PublishedAt)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// HasCategory reports whether any of the given categories is tagged on the signal.
func (s Signal) HasCategory(categories ...string) bool {
	for _, tag := range s.CategoryTags {
		for _, c := range categories {
			if strings.EqualFold(tag, c) {
				return true
			}
		}
	}
	return false
}

// Validate checks the fields the scorer depends on.
func (s Signal) Validate() error {
	switch s.Type {
	case SignalPaper, SignalDiscussion:
	default:
		return eris.Errorf("model: signal %q: unknown type %q", s.SourceID, s.Type)
	}
	if strings.TrimSpace(s.SourceID) == "" {
		return eris.New("model: signal: source_id is required")
	}
	if s.UpstreamRelevance < 0 || s.UpstreamRelevance > 1 {
		return eris.Errorf("model: signal %q: upstream_relevance %.3f outside [0,1]", s.SourceID, s.UpstreamRelevance)
	}
	if s.PublishedAt.IsZero() {
		return eris.Errorf("model: signal %q: published_at is required", s.SourceID)
	}
	return nil
}
