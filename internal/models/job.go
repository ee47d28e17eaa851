package models

import (
	"time"
)

// Job statuses persisted in the queue's job records.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobRetry      = "retry"
)

// JobTypeAnthemGeneration is the only job type the worker currently serves.
const JobTypeAnthemGeneration = "anthem_generation"

// Job is a unit of deferred work tracked through its lifecycle in Redis.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Priority    int            `json:"priority"`
	ReadyAt     time.Time      `json:"ready_at"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// Terminal reports whether the job can never run again.
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// TerminalAt returns the timestamp of the terminal transition, if any.
func (j *Job) TerminalAt() (time.Time, bool) {
	switch {
	case j.CompletedAt != nil:
		return *j.CompletedAt, true
	case j.Status == JobFailed && j.FailedAt != nil:
		return *j.FailedAt, true
	}
	return time.Time{}, false
}
