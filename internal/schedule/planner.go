// Package schedule assigns publication slots to approved posts.
package schedule

import (
	"time"

	"github.com/sells-group/postpilot/internal/config"
)

// maxSearch bounds the slot search in Next.
const maxSearch = 1000

// Planner lays posts out on a daily grid: the first slot of a day is at
// BaseHourUTC, each further slot is Spacing later, and after DailyCap slots
// the grid continues on the next eligible day.
type Planner struct {
	BaseHourUTC   int
	Spacing       time.Duration
	DailyCap      int
	AvoidWeekends bool
}

// FromConfig builds a Planner from pipeline config.
func FromConfig(cfg config.PipelineConfig) Planner {
	return Planner{
		BaseHourUTC:   cfg.BaseSlotHourUTC,
		Spacing:       time.Duration(cfg.PostingSpacingHours) * time.Hour,
		DailyCap:      cfg.DailyPostCap,
		AvoidWeekends: cfg.AvoidWeekends,
	}
}

// Slots returns the next n open slots at or after now, given the slots
// already taken.
func (p Planner) Slots(now time.Time, taken []time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	occupied := append([]time.Time(nil), taken...)
	for range max(n, 0) {
		s := p.Next(now, occupied)
		out = append(out, s)
		occupied = append(occupied, s)
	}
	return out
}

// Next returns the first slot at or after now that is not already taken and
// whose day has not reached the cap.
func (p Planner) Next(now time.Time, taken []time.Time) time.Time {
	used := make(map[int64]bool, len(taken))
	perDay := make(map[string]int, len(taken))
	for _, t := range taken {
		t = t.UTC()
		used[t.Unix()] = true
		perDay[dayKey(t)]++
	}

	for i := range maxSearch {
		s := p.slot(now, i)
		if used[s.Unix()] || perDay[dayKey(s)] >= p.dailyCap() {
			continue
		}
		return s
	}
	return p.slot(now, maxSearch)
}

// slot returns the i-th grid slot.
func (p Planner) slot(now time.Time, i int) time.Time {
	day := p.firstDay(now)
	for range i / p.dailyCap() {
		day = p.nextDay(day)
	}
	return day.Add(time.Duration(i%p.dailyCap()) * p.Spacing)
}

// firstDay is today's base slot, or the next eligible day's when it has passed.
func (p Planner) firstDay(now time.Time) time.Time {
	now = now.UTC()
	base := time.Date(now.Year(), now.Month(), now.Day(), p.BaseHourUTC, 0, 0, 0, time.UTC)
	if base.Before(now) || !p.eligible(base) {
		base = p.nextDay(base)
	}
	return base
}

func (p Planner) nextDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for !p.eligible(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (p Planner) eligible(t time.Time) bool {
	if !p.AvoidWeekends {
		return true
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (p Planner) dailyCap() int {
	if p.DailyCap <= 0 {
		return 1
	}
	return p.DailyCap
}

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
