// Package scheduler owns the crawl lifecycle of each fixture and decides when it may be crawled next.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"oddsharvest/models"
	"oddsharvest/storage"
)

const DefaultErrorBackoff = time.Hour

// Tier maps "hours to kickoff at most MaxHours" to a recrawl interval
type Tier struct {
	MaxHours float64
	Interval time.Duration
}

// DefaultTiers are evaluated in order; the first tier whose MaxHours covers hoursToStart wins
var DefaultTiers = []Tier{
	{MaxHours: 1, Interval: 30 * time.Minute},
	{MaxHours: 6, Interval: time.Hour},
	{MaxHours: 12, Interval: 2 * time.Hour},
	{MaxHours: 24, Interval: 3 * time.Hour},
}

const (
	// startedInterval applies once kickoff has passed and the result is not final yet
	startedInterval = 4 * time.Hour
	// farInterval applies beyond the last tier and when the start time is unknown
	farInterval = 4 * time.Hour
)

// Outcome is what a crawl attempt reports back
type Outcome struct {
	Err       error
	Final     bool
	StartTime *time.Time
}

type Scheduler struct {
	tiers        []Tier
	errorBackoff time.Duration
	fixtures     storage.Collection
}

func New(fixtures storage.Collection, tiers []Tier, errorBackoff time.Duration) *Scheduler {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if errorBackoff <= 0 {
		errorBackoff = DefaultErrorBackoff
	}
	return &Scheduler{
		tiers:        tiers,
		errorBackoff: errorBackoff,
		fixtures:     fixtures,
	}
}

// Interval is the wait before the next crawl of a fixture that is hoursToStart from kickoff
func (s *Scheduler) Interval(hoursToStart *float64) time.Duration {
	if hoursToStart == nil {
		return farInterval
	}
	h := *hoursToStart
	if h < 0 {
		return startedInterval
	}
	for _, t := range s.tiers {
		if h <= t.MaxHours {
			return t.Interval
		}
	}
	return farInterval
}

// Discover builds the handle of a newly listed fixture. It is due immediately.
func (s *Scheduler) Discover(id string, src models.SourceLocator, now time.Time) models.FixtureHandle {
	return models.FixtureHandle{
		ID:           id,
		Status:       models.FixtureStatusNew,
		DiscoveredAt: now,
		Source:       src,
		DateBucket:   models.DateBucketOf(now),
	}
}

// Record applies the outcome of one crawl attempt. It is the only place handle state changes.
func (s *Scheduler) Record(h *models.FixtureHandle, out Outcome, now time.Time) {
	last := now
	h.LastCrawlTime = &last

	if out.Err != nil {
		h.Status = models.FixtureStatusError
		h.ErrorCount++
		h.LastError = out.Err.Error()
		h.IsCompleted = false
		next := now.Add(s.errorBackoff)
		h.NextCrawlTime = &next
		return
	}

	h.LastError = ""
	if out.StartTime != nil {
		st := *out.StartTime
		h.StartTime = &st
		h.DateBucket = models.DateBucketOf(st)
	}

	if out.Final {
		h.Status = models.FixtureStatusCompleted
		h.IsCompleted = true
		h.NextCrawlTime = nil
		return
	}

	h.Status = models.FixtureStatusTracking
	next := now.Add(s.Interval(h.HoursToStart(now)))
	h.NextCrawlTime = &next
}

// DueFixtures returns up to limit active fixtures whose next crawl time has passed.
// Fixtures that were never crawled come first.
func (s *Scheduler) DueFixtures(ctx context.Context, now time.Time, limit int) ([]models.Fixture, error) {
	docs, err := storage.FindDocsBefore[models.Fixture](ctx, s.fixtures, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due fixtures: %w", err)
	}
	due := docs[:0]
	for _, f := range docs {
		if f.IsCompleted {
			continue
		}
		if f.NextCrawlTime != nil && f.NextCrawlTime.After(now) {
			continue
		}
		due = append(due, f)
	}
	return due, nil
}

// Track stores a newly discovered fixture unless it is already known. It reports whether it was added.
func (s *Scheduler) Track(ctx context.Context, h models.FixtureHandle) (bool, error) {
	err := s.fixtures.InsertOne(ctx, &models.Fixture{FixtureHandle: h})
	if errors.Is(err, storage.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("track %s: %w", h.ID, err)
	}
	return true, nil
}
