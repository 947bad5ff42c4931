package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType classifies provider calls for rate limiting purposes. Each
// type carries its own ceiling and window size in configuration.
type OperationType string

const (
	OperationMessageRead        OperationType = "message_read"
	OperationSubscriptionCreate OperationType = "subscription_create"
	OperationSubscriptionRenew  OperationType = "subscription_renew"
	OperationSubscriptionDelete OperationType = "subscription_delete"
	OperationBulk               OperationType = "bulk"
)

// RateLimitWindow counts requests of one operation type for one account
// inside one time bucket. Windows are superseded on rollover, never mutated
// in place.
type RateLimitWindow struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	AccountID    uuid.UUID     `db:"account_id" json:"account_id"`
	Operation    OperationType `db:"operation" json:"operation"`
	RequestCount int           `db:"request_count" json:"request_count"`
	WindowStart  time.Time     `db:"window_start" json:"window_start"`
	WindowEnd    time.Time     `db:"window_end" json:"window_end"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}
