// Package store persists signals, generated posts and usage rows.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/postpilot/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrStaleWrite is returned when an update carries an outdated post version.
	ErrStaleWrite = eris.New("store: stale write")
	// ErrPersistence marks failures reported by the database driver.
	ErrPersistence = eris.New("store: persistence failure")
)

// PostFilter specifies criteria for listing posts.
type PostFilter struct {
	Statuses     []model.PostStatus `json:"statuses,omitempty"`
	CreatedAfter time.Time          `json:"created_after,omitempty"`
	// Scheduled limits results to posts with a slot that have not been posted,
	// ordered by slot ascending.
	Scheduled bool `json:"scheduled,omitempty"`
	Limit     int  `json:"limit,omitempty"`
	Offset    int  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the post pipeline.
type Store interface {
	// Signals
	UpsertSignals(ctx context.Context, signals []model.Signal) (int, error)
	RecentSignals(ctx context.Context, since time.Time) ([]model.Signal, error)
	MarkSignalsProcessed(ctx context.Context, sourceIDs []string) error

	// Posts
	CreatePost(ctx context.Context, post *model.GeneratedPost) error
	GetPost(ctx context.Context, id string) (*model.GeneratedPost, error)
	UpdatePost(ctx context.Context, post *model.GeneratedPost) error
	ListPosts(ctx context.Context, filter PostFilter) ([]model.GeneratedPost, error)

	// Usage ledger
	InsertUsage(ctx context.Context, rec *model.UsageRecord) error
	ListUsage(ctx context.Context, since time.Time) ([]model.UsageRecord, error)
	SumCost(ctx context.Context, since time.Time) (float64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// dbErr tags a driver error with ErrPersistence.
func dbErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(fmt.Errorf("%w: %w", ErrPersistence, err), format, args...)
}

// prepareSignals assigns ids and collection time to incoming signals.
func prepareSignals(signals []model.Signal, now time.Time, newID func() string) error {
	for i := range signals {
		if err := signals[i].Validate(); err != nil {
			return eris.Wrap(err, "store: upsert signals")
		}
		if signals[i].ID == "" {
			signals[i].ID = newID()
		}
		if signals[i].CollectedAt.IsZero() {
			signals[i].CollectedAt = now
		}
	}
	return nil
}

// preparePost stamps a new post before its first insert.
func preparePost(p *model.GeneratedPost, now time.Time, newID func() string) {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = model.PostStatusDraft
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	p.Version = 1
}

// prepareUsage stamps a usage row before insert.
func prepareUsage(rec *model.UsageRecord, now time.Time, newID func() string) {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
}
