package model

import "time"

// RunStats summarizes one daily pipeline run.
type RunStats struct {
	RunID               string        `json:"run_id"`
	StartedAt           time.Time     `json:"started_at"`
	FinishedAt          time.Time     `json:"finished_at"`
	Duration            time.Duration `json:"duration"`
	SignalsCollected    int           `json:"signals_collected"`
	OpportunitiesScored int           `json:"opportunities_scored"`
	PostsGenerated      int           `json:"posts_generated"`
	PostsApproved       int           `json:"posts_approved"`
	PostsNeedingReview  int           `json:"posts_needing_review"`
	PostsScheduled      int           `json:"posts_scheduled"`
	Errors              []string      `json:"errors"`
	Success             bool          `json:"success"`
}

// AddError appends a formatted failure to the run's error list.
func (s *RunStats) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// PipelineStats aggregates post outcomes over a trailing window.
type PipelineStats struct {
	PeriodDays     int     `json:"period_days"`
	TotalPosts     int     `json:"total_posts"`
	Approved       int     `json:"approved"`
	Published      int     `json:"published"`
	NeedsReview    int     `json:"needs_review"`
	Rejected       int     `json:"rejected"`
	ApprovalRate   float64 `json:"approval_rate"`
	AverageQuality float64 `json:"average_quality"`
	PostsPerDay    float64 `json:"posts_per_day"`
}
