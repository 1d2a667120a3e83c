// Package calendar builds the upcoming-deadlines read model shown on each
// user's dashboard.
package calendar

import (
	"context"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"customerportal/api/internal/querycache"
	"customerportal/api/internal/store"
)

type Store interface {
	ListAssignedTaskDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error)
	ListAssignedProjectDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error)
	ListAssignedCampaignDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error)
	ListAssignedMilestoneDeadlines(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error)
}

type source struct {
	domain querycache.Domain
	list   func(ctx context.Context, userID string, from, to time.Time) ([]store.Deadline, error)
}

type Calendar struct {
	loader  *querycache.Loader
	sources []source
	window  time.Duration
	now     func() time.Time
}

func New(s Store, loader *querycache.Loader, window time.Duration) *Calendar {
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}
	return &Calendar{
		loader: loader,
		sources: []source{
			{querycache.DomainCalendarTasks, s.ListAssignedTaskDeadlines},
			{querycache.DomainCalendarProjects, s.ListAssignedProjectDeadlines},
			{querycache.DomainCalendarCampaigns, s.ListAssignedCampaignDeadlines},
			{querycache.DomainCalendarMilestones, s.ListAssignedMilestoneDeadlines},
		},
		window: window,
		now:    time.Now,
	}
}

// Window returns the [from, to) range shown for the day containing now.
func (c *Calendar) Window(now time.Time) (time.Time, time.Time) {
	y, m, d := now.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return from, from.Add(c.window)
}

// Upcoming returns the user's deadlines in the current window, soonest
// first. Each kind is cached under (calendar-<kind>, user, day, days) so
// assignee changes can drop one user's entries by prefix.
func (c *Calendar) Upcoming(ctx context.Context, userID string) ([]store.Deadline, error) {
	from, to := c.Window(c.now())
	day := from.Format("2006-01-02")
	days := strconv.Itoa(int(c.window / (24 * time.Hour)))

	results := make([][]store.Deadline, len(c.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		g.Go(func() error {
			key := querycache.NewKey(src.domain, userID, day, days)
			items, err := querycache.Fetch(gctx, c.loader, key, func(ctx context.Context) ([]store.Deadline, error) {
				return src.list(ctx, userID, from, to)
			})
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]store.Deadline, 0)
	for _, items := range results {
		merged = append(merged, items...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].DueAt.Equal(merged[j].DueAt) {
			return merged[i].DueAt.Before(merged[j].DueAt)
		}
		if merged[i].Kind != merged[j].Kind {
			return merged[i].Kind < merged[j].Kind
		}
		return merged[i].ID < merged[j].ID
	})
	return merged, nil
}
