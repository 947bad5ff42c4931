package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

type JobPriority int

const (
	JobPriorityLow    JobPriority = 0
	JobPriorityNormal JobPriority = 5
	JobPriorityHigh   JobPriority = 10
)

// QueueJob is one unit of webhook-notification work. Created by the webhook
// receiver, mutated only by the queue worker.
type QueueJob struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AccountID     uuid.UUID       `db:"account_id" json:"account_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        JobStatus       `db:"status" json:"status"`
	Priority      JobPriority     `db:"priority" json:"priority"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	MaxRetries    int             `db:"max_retries" json:"max_retries"`
	ScheduledFor  time.Time       `db:"scheduled_for" json:"scheduled_for"`
	LastAttemptAt *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// RetriesExhausted reports whether the job has used all of its retries.
func (j *QueueJob) RetriesExhausted() bool {
	return j.RetryCount >= j.MaxRetries
}
