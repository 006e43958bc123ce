package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type IngestRun struct {
	ID                   string     `json:"id" db:"id"`
	StartedAt            time.Time  `json:"started_at" db:"started_at"`
	FinishedAt           *time.Time `json:"finished_at" db:"finished_at"`
	Status               RunStatus  `json:"status" db:"status"`
	SitesFound           int        `json:"sites_found" db:"sites_found"`
	SitesSkipped         int        `json:"sites_skipped" db:"sites_skipped"`
	ObservationsInserted int        `json:"observations_inserted" db:"observations_inserted"`
	Error                string     `json:"error" db:"error"`
}
