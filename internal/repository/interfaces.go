package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/replypilot/tracker-api/internal/model"
)

// TrackedEmailRepository persists outbound messages under observation.
type TrackedEmailRepository interface {
	Create(ctx context.Context, email *model.TrackedEmail) error
	Get(ctx context.Context, id uuid.UUID) (*model.TrackedEmail, error)
	GetByProviderMessageID(ctx context.Context, accountID uuid.UUID, providerMessageID string) (*model.TrackedEmail, error)
	ListOpenForAccount(ctx context.Context, accountID uuid.UUID) ([]*model.TrackedEmail, error)
	List(ctx context.Context, accountID uuid.UUID, status *model.TrackingStatus, limit int) ([]*model.TrackedEmail, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status model.TrackingStatus) error
	RecordResponseTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, receivedAt time.Time) error
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// ResponseRepository persists accepted matches. Rows are write-once.
type ResponseRepository interface {
	// CreateTx inserts the response and reports whether a new row was
	// written. Redelivered provider messages dedupe to false so callers
	// can skip the per-insert side effects.
	CreateTx(ctx context.Context, tx *sqlx.Tx, resp *model.EmailResponse) (bool, error)
	ListForEmail(ctx context.Context, trackedEmailID uuid.UUID) ([]*model.EmailResponse, error)
}

// SubscriptionRepository persists provider push registrations.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.WebhookSubscription) error
	Get(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error)
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.WebhookSubscription, error)
	ListActive(ctx context.Context) ([]*model.WebhookSubscription, error)
	ListExpiringWithin(ctx context.Context, window time.Duration) ([]*model.WebhookSubscription, error)
	Update(ctx context.Context, sub *model.WebhookSubscription) error
	CountExpiringWithin(ctx context.Context, window time.Duration) (int, error)
}

// QueueRepository is the durable notification queue.
type QueueRepository interface {
	Enqueue(ctx context.Context, job *model.QueueJob) error
	// ClaimPending atomically selects up to limit due pending/failed jobs,
	// ordered by priority desc then created_at asc, and marks them
	// processing so concurrent worker instances never double-dispatch.
	ClaimPending(ctx context.Context, limit int) ([]*model.QueueJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkForRetry(ctx context.Context, id uuid.UUID, scheduledFor time.Time, errMsg string) error
	MoveToDeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error
	// ReclaimStale returns jobs stuck in processing longer than staleAfter
	// back to pending so another worker pass can pick them up.
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	ListDeadLetter(ctx context.Context, limit int) ([]*model.QueueJob, error)
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// RateLimitRepository stores sliding-window request counters.
type RateLimitRepository interface {
	// IncrementWindow atomically bumps the counter for the window containing
	// now and returns the count after the increment. The window row is
	// created lazily on first use.
	IncrementWindow(ctx context.Context, accountID uuid.UUID, op model.OperationType, windowStart, windowEnd time.Time) (int, error)
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}
