package model

import "math"

// ContentType classifies an opportunity by the signals it was derived from.
type ContentType string

const (
	ContentPaper      ContentType = "paper"
	ContentDiscussion ContentType = "discussion"
	ContentTrendCombo ContentType = "trend_combo"
	ContentEmergency  ContentType = "emergency"
)

// MaxComponentScore is the upper bound of every component score.
const MaxComponentScore = 10.0

// ClampScore bounds v to [0, MaxComponentScore].
func ClampScore(v float64) float64 {
	return math.Max(0, math.Min(MaxComponentScore, v))
}

// Components holds the five per-factor scores of an opportunity.
type Components struct {
	Novelty    float64 `json:"novelty"`
	Relevance  float64 `json:"relevance"`
	Timeliness float64 `json:"timeliness"`
	Engagement float64 `json:"engagement_potential"`
	Visual     float64 `json:"visual_potential"`
}

// Clamped returns a copy with every component bounded to [0,10].
func (c Components) Clamped() Components {
	return Components{
		Novelty:    ClampScore(c.Novelty),
		Relevance:  ClampScore(c.Relevance),
		Timeliness: ClampScore(c.Timeliness),
		Engagement: ClampScore(c.Engagement),
		Visual:     ClampScore(c.Visual),
	}
}

// ScoreWeights are the multipliers applied to each component.
type ScoreWeights struct {
	Novelty    float64 `yaml:"novelty" mapstructure:"novelty" json:"novelty"`
	Relevance  float64 `yaml:"relevance" mapstructure:"relevance" json:"relevance"`
	Timeliness float64 `yaml:"timeliness" mapstructure:"timeliness" json:"timeliness"`
	Engagement float64 `yaml:"engagement" mapstructure:"engagement" json:"engagement"`
	Visual     float64 `yaml:"visual" mapstructure:"visual" json:"visual"`
}

// DefaultWeights returns the reference weighting: 0.25/0.30/0.20/0.15/0.10.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		Novelty:    0.25,
		Relevance:  0.30,
		Timeliness: 0.20,
		Engagement: 0.15,
		Visual:     0.10,
	}
}

// Sum returns the total of all weights.
func (w ScoreWeights) Sum() float64 {
	return w.Novelty + w.Relevance + w.Timeliness + w.Engagement + w.Visual
}

// Total computes the weighted sum of the components.
func (w ScoreWeights) Total(c Components) float64 {
	return w.Novelty*c.Novelty +
		w.Relevance*c.Relevance +
		w.Timeliness*c.Timeliness +
		w.Engagement*c.Engagement +
		w.Visual*c.Visual
}

// ContentOpportunity is a scored candidate for generation. It lives only for
// the run that produced it.
type ContentOpportunity struct {
	ContentType       ContentType    `json:"content_type"`
	SourceID          string         `json:"source_id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Components        Components     `json:"components"`
	TotalScore        float64        `json:"total_score"`
	RecommendedAngle  string         `json:"recommended_angle"`
	SuggestedMentions []string       `json:"suggested_mentions,omitempty"`
	SignalIDs         []string       `json:"signal_ids,omitempty"`
	SourceData        map[string]any `json:"source_data,omitempty"`
}

// NewOpportunity builds an opportunity with clamped components and a total
// derived from them. TotalScore is never set independently.
func NewOpportunity(w ScoreWeights, ct ContentType, sourceID, title string, c Components) ContentOpportunity {
	c = c.Clamped()
	return ContentOpportunity{
		ContentType: ct,
		SourceID:    sourceID,
		Title:       title,
		Components:  c,
		TotalScore:  w.Total(c),
	}
}

// EngagementPrediction maps the total score onto [0,1].
func (o ContentOpportunity) EngagementPrediction() float64 {
	return o.TotalScore / MaxComponentScore
}
