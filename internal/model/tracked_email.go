package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type TrackingStatus string

const (
	TrackingStatusPending   TrackingStatus = "PENDING"
	TrackingStatusSent      TrackingStatus = "SENT"
	TrackingStatusDelivered TrackingStatus = "DELIVERED"
	TrackingStatusOpened    TrackingStatus = "OPENED"
	TrackingStatusReplied   TrackingStatus = "REPLIED"
	TrackingStatusBounced   TrackingStatus = "BOUNCED"
	TrackingStatusClosed    TrackingStatus = "CLOSED"
)

// TrackedEmail is one outbound message under observation for replies.
type TrackedEmail struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	AccountID         uuid.UUID      `db:"account_id" json:"account_id"`
	ProviderMessageID string         `db:"provider_message_id" json:"provider_message_id"`
	ConversationID    *string        `db:"conversation_id" json:"conversation_id,omitempty"`
	Subject           string         `db:"subject" json:"subject"`
	SenderAddress     string         `db:"sender_address" json:"sender_address"`
	Recipients        pq.StringArray `db:"recipients" json:"recipients"`
	SentAt            time.Time      `db:"sent_at" json:"sent_at"`
	Status            TrackingStatus `db:"status" json:"status"`
	ResponseCount     int            `db:"response_count" json:"response_count"`
	LastResponseAt    *time.Time     `db:"last_response_at" json:"last_response_at,omitempty"`
	FollowUpRuleID    *uuid.UUID     `db:"follow_up_rule_id" json:"follow_up_rule_id,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// HasResponse reports whether at least one reply has been accepted for this email.
func (e *TrackedEmail) HasResponse() bool {
	return e.ResponseCount > 0
}

// IsOpen reports whether the email can still receive state transitions.
func (e *TrackedEmail) IsOpen() bool {
	return e.Status != TrackingStatusClosed
}

// EmailResponse is one inbound message matched to a TrackedEmail. Rows are
// immutable once written; only matches at or above the acceptance threshold
// are ever persisted.
type EmailResponse struct {
	ID                uuid.UUID `db:"id" json:"id"`
	TrackedEmailID    uuid.UUID `db:"tracked_email_id" json:"tracked_email_id"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id"`
	SenderAddress     string    `db:"sender_address" json:"sender_address"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
	IsAutoReply       bool      `db:"is_auto_reply" json:"is_auto_reply"`
	Confidence        float64   `db:"confidence" json:"confidence"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
