package models

import "time"

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusPartial  RunStatus = "partial"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the runner over a configuration file.
type Run struct {
	ID          int64
	CreatedAt   time.Time
	CompletedAt *time.Time
	ConfigPath  string
	Requested   []string
	Status      RunStatus
	Error       string
}
