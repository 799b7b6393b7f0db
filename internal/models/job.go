package models

import "time"

// JobState is the queue lifecycle of an async summarization job.
// Transitions are monotone: queued → active → completed | failed | cancelled.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobModel is the durable record of an async job. The redis broker only
// orders job ids; this row is the source of truth for state.
type JobModel struct {
	Base
	RequestID       string           `json:"request_id" gorm:"uniqueIndex;not null"`
	UserID          string           `json:"user_id"    gorm:"index;not null"`
	Request         SummarizeRequest `json:"request"    gorm:"type:longtext;serializer:json"`
	State           JobState         `json:"state"      gorm:"index;not null;default:'queued'"`
	Priority        int              `json:"priority"   gorm:"not null;default:5"`
	ReservationID   string           `json:"reservation_id"`
	ReservedCredits int64            `json:"reserved_credits"`
	Attempts        int              `json:"attempts"`
	MaxAttempts     int              `json:"max_attempts"`
	LastError       string           `json:"last_error,omitempty" gorm:"type:text"`
	ScheduledAt     time.Time        `json:"scheduled_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	WorkerID        string           `json:"worker_id,omitempty"`
	Result          *SummaryResult   `json:"result,omitempty" gorm:"type:longtext;serializer:json"`
}

func (JobModel) TableName() string { return "summarize_jobs" }

// ProviderUsageModel records token usage per successful provider call.
type ProviderUsageModel struct {
	Base
	Provider     string `json:"provider"      gorm:"index;not null"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	RequestID    string `json:"request_id"    gorm:"index"`
}

func (ProviderUsageModel) TableName() string { return "provider_usages" }
