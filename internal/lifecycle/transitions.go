// Package lifecycle moves generated posts through review: automatic gating,
// manual reviewer actions, scheduling and publication marking.
package lifecycle

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/postpilot/internal/model"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the post's current status. The post is left untouched.
	ErrInvalidTransition = eris.New("invalid status transition")
	// ErrQualityTooLow is returned when a post scores below the approval minimum.
	ErrQualityTooLow = eris.New("quality score too low")
	// ErrContentPolicyViolation is returned when content fails the policy check
	// or exceeds the platform length limit.
	ErrContentPolicyViolation = eris.New("content policy violation")
)

// allowed lists the statuses reachable from each status. Rejected and
// needs_regeneration are terminal; approved only gains a publication time.
var allowed = map[model.PostStatus][]model.PostStatus{
	model.PostStatusDraft: {
		model.PostStatusApproved,
		model.PostStatusNeedsReview,
		model.PostStatusRejected,
		model.PostStatusNeedsRegeneration,
	},
	model.PostStatusNeedsReview: {
		model.PostStatusApproved,
		model.PostStatusRejected,
		model.PostStatusNeedsRegeneration,
	},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to model.PostStatus) bool {
	return slices.Contains(allowed[from], to)
}

func checkTransition(p *model.GeneratedPost, to model.PostStatus) error {
	if !CanTransition(p.Status, to) {
		return eris.Wrapf(ErrInvalidTransition, "lifecycle: post %s: %s -> %s", p.ID, p.Status, to)
	}
	return nil
}
