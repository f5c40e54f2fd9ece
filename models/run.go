package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SweepRun summarises one pass over the due fixtures
type SweepRun struct {
	ID               string     `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	Status           RunStatus  `json:"status"`
	FixturesNew      int        `json:"fixtures_new"`
	FixturesDue      int        `json:"fixtures_due"`
	FixturesCrawled  int        `json:"fixtures_crawled"`
	FixturesComplete int        `json:"fixtures_complete"`
	MarketsSettled   int        `json:"markets_settled"`
	TicksInserted    int        `json:"ticks_inserted"`
	ErrorsCount      int        `json:"errors_count"`
}
