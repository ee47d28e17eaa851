package models

import (
	"fmt"
	"time"
)

// DateFormat is the calendar-date layout used throughout the pipeline.
const DateFormat = "2006-01-02"

// Anthem statuses. Transitions are guarded by CanTransition.
const (
	AnthemCollecting = "collecting"
	AnthemProcessing = "processing"
	AnthemCompleted  = "completed"
	AnthemFailed     = "failed"
)

// Anthem is the daily compiled audio artifact. One record per calendar date,
// keyed by the deterministic AnthemID. Records are never deleted.
type Anthem struct {
	AnthemID              string     `json:"anthem_id"`
	Date                  string     `json:"anthem_date"`
	Status                string     `json:"status"`
	TotalVoices           int        `json:"total_voices"`
	TotalCountries        int        `json:"total_countries"`
	TotalDurationMs       int64      `json:"total_duration_ms"`
	AudioURL              string     `json:"audio_url,omitempty"`
	DurationSeconds       int        `json:"duration_seconds,omitempty"`
	FileSizeBytes         int64      `json:"file_size_bytes,omitempty"`
	AIModel               string     `json:"ai_model,omitempty"`
	GenerationStartedAt   *time.Time `json:"generation_started_at,omitempty"`
	GenerationCompletedAt *time.Time `json:"generation_completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// AnthemID derives the record key for a date. One anthem per date, by construction.
func AnthemID(date string) string {
	return "anthem-" + date
}

// AnthemCompletion carries the artifact fields stamped on the completed transition.
type AnthemCompletion struct {
	AudioURL        string
	DurationSeconds int
	FileSizeBytes   int64
	AIModel         string
	CompletedAt     time.Time
}

// InvalidTransitionError reports a rejected anthem status change.
type InvalidTransitionError struct {
	AnthemID string
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("anthem %s: invalid transition %s -> %s", e.AnthemID, e.From, e.To)
}

// CanTransition reports whether an anthem may move between the two statuses.
// The lifecycle is monotonic except failed -> processing, which lets an
// operator retry generation for a previously failed date.
func CanTransition(from, to string) bool {
	switch from {
	case AnthemCollecting:
		return to == AnthemProcessing
	case AnthemProcessing:
		return to == AnthemCompleted || to == AnthemFailed
	case AnthemFailed:
		return to == AnthemProcessing
	default:
		return false
	}
}

// AnthemSegment is one country's contiguous slice of the final audio.
type AnthemSegment struct {
	AnthemID      string `json:"anthem_id"`
	CountryCode   string `json:"country_code"`
	CountryName   string `json:"country_name"`
	StartTimeMs   int64  `json:"start_time_ms"`
	EndTimeMs     int64  `json:"end_time_ms"`
	DurationMs    int64  `json:"duration_ms"`
	SequenceOrder int    `json:"sequence_order"`
	VoiceCount    int    `json:"voice_count"`
}

// Contribution statuses. Only processed clips are eligible for generation.
const (
	ContributionUploaded   = "uploaded"
	ContributionProcessing = "processing"
	ContributionProcessed  = "processed"
	ContributionFailed     = "failed"
)

// Contribution is one user-submitted voice clip. Read-only to this pipeline.
type Contribution struct {
	ContributionID string    `json:"contribution_id"`
	UserID         string    `json:"user_id"`
	AudioURL       string    `json:"audio_url"`
	CountryCode    string    `json:"country_code"`
	DurationMs     int64     `json:"duration_ms"`
	Status         string    `json:"status"`
	RecordedAt     time.Time `json:"recorded_at"`
}
