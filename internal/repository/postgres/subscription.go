package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
)

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

const subscriptionColumns = `
	id, account_id, provider_subscription_id, resource, expires_at,
	last_renewed_at, error_count, last_error, active, created_at, updated_at
`

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.WebhookSubscription) error {
	if sub == nil {
		return fmt.Errorf("subscription cannot be nil")
	}

	query := `
		INSERT INTO webhook_subscriptions (
			id, account_id, provider_subscription_id, resource, expires_at,
			error_count, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, true, $6, $7)
	`
	sub.ID = uuid.New()
	sub.Active = true
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.AccountID,
		sub.ProviderSubscriptionID,
		sub.Resource,
		sub.ExpiresAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = $1`

	var sub model.WebhookSubscription
	err := r.db.GetContext(ctx, &sub, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE provider_subscription_id = $1`

	var sub model.WebhookSubscription
	err := r.db.GetContext(ctx, &sub, query, providerSubscriptionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription by provider id: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListActive(ctx context.Context) ([]*model.WebhookSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
		WHERE active = true
		ORDER BY expires_at ASC
	`
	var subs []*model.WebhookSubscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListExpiringWithin(ctx context.Context, window time.Duration) ([]*model.WebhookSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
		WHERE active = true
		AND expires_at <= NOW() + ($1 * INTERVAL '1 second')
		ORDER BY expires_at ASC
	`
	var subs []*model.WebhookSubscription
	if err := r.db.SelectContext(ctx, &subs, query, int(window.Seconds())); err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.WebhookSubscription) error {
	query := `
		UPDATE webhook_subscriptions
		SET expires_at = $2,
			last_renewed_at = $3,
			error_count = $4,
			last_error = $5,
			active = $6,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.ExpiresAt,
		sub.LastRenewedAt,
		sub.ErrorCount,
		sub.LastError,
		sub.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) CountExpiringWithin(ctx context.Context, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM webhook_subscriptions
		WHERE active = true
		AND expires_at <= NOW() + ($1 * INTERVAL '1 second')
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, int(window.Seconds())); err != nil {
		return 0, fmt.Errorf("failed to count expiring subscriptions: %w", err)
	}
	return count, nil
}
