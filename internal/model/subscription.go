package model

import (
	"time"

	"github.com/google/uuid"
)

// WebhookSubscription is a live push registration with the mail provider for
// one account and one resource type. Never reused across accounts.
type WebhookSubscription struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	AccountID              uuid.UUID  `db:"account_id" json:"account_id"`
	ProviderSubscriptionID string     `db:"provider_subscription_id" json:"provider_subscription_id"`
	Resource               string     `db:"resource" json:"resource"`
	ExpiresAt              time.Time  `db:"expires_at" json:"expires_at"`
	LastRenewedAt          *time.Time `db:"last_renewed_at" json:"last_renewed_at,omitempty"`
	ErrorCount             int        `db:"error_count" json:"error_count"`
	LastError              *string    `db:"last_error" json:"last_error,omitempty"`
	Active                 bool       `db:"active" json:"active"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// ExpiresWithin reports whether the subscription expires inside the given
// window from now.
func (s *WebhookSubscription) ExpiresWithin(window time.Duration) bool {
	return time.Until(s.ExpiresAt) <= window
}
