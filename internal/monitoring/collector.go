package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/postpilot/internal/cost"
	"github.com/sells-group/postpilot/internal/metrics"
	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/store"
)

// Snapshot holds a point-in-time view of review queue and spend.
type Snapshot struct {
	PendingReview   int       `json:"pending_review"`
	ScheduledPosts  int       `json:"scheduled_posts"`
	PostsLast24h    int       `json:"posts_last_24h"`
	MonthToDateCost float64   `json:"month_to_date_cost"`
	ProjectedCost   float64   `json:"projected_cost"`
	CollectedAt     time.Time `json:"collected_at"`
}

// PostLister is the slice of store.Store the collector reads.
type PostLister interface {
	ListPosts(ctx context.Context, filter store.PostFilter) ([]model.GeneratedPost, error)
}

// Collector gathers health data from the store and the cost ledger.
type Collector struct {
	posts   PostLister
	ledger  *cost.Ledger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCollector creates a new snapshot collector. m may be nil.
func NewCollector(posts PostLister, ledger *cost.Ledger, m *metrics.Metrics) *Collector {
	return &Collector{
		posts:   posts,
		ledger:  ledger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot of review backlog and month-to-date spend.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	now := c.now()
	snap := &Snapshot{CollectedAt: now}

	pending, err := c.posts.ListPosts(ctx, store.PostFilter{
		Statuses: []model.PostStatus{model.PostStatusDraft, model.PostStatusNeedsReview},
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list pending posts")
	}
	snap.PendingReview = len(pending)

	scheduled, err := c.posts.ListPosts(ctx, store.PostFilter{Scheduled: true})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list scheduled posts")
	}
	snap.ScheduledPosts = len(scheduled)

	recent, err := c.posts.ListPosts(ctx, store.PostFilter{CreatedAfter: now.Add(-24 * time.Hour)})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list recent posts")
	}
	snap.PostsLast24h = len(recent)

	if c.ledger != nil {
		monthly, err := c.ledger.MonthlyCosts(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: monthly costs")
		}
		snap.MonthToDateCost = monthly.CurrentMonthCost
		snap.ProjectedCost = monthly.ProjectedMonthlyCost
		c.metrics.MonthToDate(monthly.CurrentMonthCost)
	}

	return snap, nil
}
