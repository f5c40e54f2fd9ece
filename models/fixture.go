package models

import "time"

type FixtureStatus string

const (
	FixtureStatusNew       FixtureStatus = "new"
	FixtureStatusTracking  FixtureStatus = "tracking"
	FixtureStatusCompleted FixtureStatus = "completed"
	FixtureStatusError     FixtureStatus = "error"
)

// SourceLocator holds what is needed to refetch a fixture page
type SourceLocator struct {
	Sport    string `json:"sport"`
	Country  string `json:"country"`
	League   string `json:"league"`
	Slug     string `json:"slug"`
	PagePath string `json:"page_path"`
}

// FixtureHandle is the identity and crawl lifecycle of one fixture
type FixtureHandle struct {
	ID            string        `json:"id"`
	Status        FixtureStatus `json:"status"`
	IsCompleted   bool          `json:"is_completed"`
	ErrorCount    int           `json:"error_count"`
	LastError     string        `json:"last_error,omitempty"`
	StartTime     *time.Time    `json:"start_time"`
	NextCrawlTime *time.Time    `json:"next_crawl_time"`
	LastCrawlTime *time.Time    `json:"last_crawl_time"`
	DiscoveredAt  time.Time     `json:"discovered_at"`
	Source        SourceLocator `json:"source"`
	DateBucket    string        `json:"date_bucket"` // YYYYMMDD
}

// HoursToStart returns nil when the start time is unknown
func (h *FixtureHandle) HoursToStart(now time.Time) *float64 {
	if h.StartTime == nil {
		return nil
	}
	hours := h.StartTime.Sub(now).Hours()
	return &hours
}

// Fixture is the persisted aggregate: handle, latest score and every market seen
type Fixture struct {
	FixtureHandle
	Score   *Score         `json:"score,omitempty"`
	Markets []MarketRecord `json:"markets,omitempty"`
}

func (f *Fixture) DocID() string {
	return f.ID
}

// IndexTime is the due time for active fixtures and the last crawl for completed ones
func (f *Fixture) IndexTime() *time.Time {
	if f.IsCompleted {
		return f.LastCrawlTime
	}
	return f.NextCrawlTime
}

// MarketIndex maps structured market identity to the record stored in Markets.
// The pointers stay valid until Markets is appended to.
func (f *Fixture) MarketIndex() map[MarketKey]*MarketRecord {
	idx := make(map[MarketKey]*MarketRecord, len(f.Markets))
	for i := range f.Markets {
		idx[f.Markets[i].Key] = &f.Markets[i]
	}
	return idx
}

// DateBucketOf formats the coarse partition key used for fixtures
func DateBucketOf(t time.Time) string {
	return t.UTC().Format("20060102")
}
