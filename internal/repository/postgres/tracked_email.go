package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
)

type trackedEmailRepository struct {
	BaseRepository
}

func NewTrackedEmailRepository(base BaseRepository) repository.TrackedEmailRepository {
	return &trackedEmailRepository{base}
}

const trackedEmailColumns = `
	id, account_id, provider_message_id, conversation_id, subject, sender_address,
	recipients, sent_at, status, response_count, last_response_at, follow_up_rule_id,
	created_at, updated_at
`

func (r *trackedEmailRepository) Create(ctx context.Context, email *model.TrackedEmail) error {
	if email == nil {
		return fmt.Errorf("email cannot be nil")
	}

	query := `
		INSERT INTO tracked_emails (
			id, account_id, provider_message_id, conversation_id, subject,
			sender_address, recipients, sent_at, status, response_count,
			follow_up_rule_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $12)
	`
	email.ID = uuid.New()
	email.CreatedAt = time.Now()
	email.UpdatedAt = email.CreatedAt
	if email.Status == "" {
		email.Status = model.TrackingStatusPending
	}

	_, err := r.db.ExecContext(ctx, query,
		email.ID,
		email.AccountID,
		email.ProviderMessageID,
		email.ConversationID,
		email.Subject,
		email.SenderAddress,
		email.Recipients,
		email.SentAt,
		email.Status,
		email.FollowUpRuleID,
		email.CreatedAt,
		email.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tracked email: %w", err)
	}
	return nil
}

func (r *trackedEmailRepository) Get(ctx context.Context, id uuid.UUID) (*model.TrackedEmail, error) {
	query := `SELECT ` + trackedEmailColumns + ` FROM tracked_emails WHERE id = $1`

	var email model.TrackedEmail
	err := r.db.GetContext(ctx, &email, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tracked email %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked email: %w", err)
	}
	return &email, nil
}

func (r *trackedEmailRepository) GetByProviderMessageID(ctx context.Context, accountID uuid.UUID, providerMessageID string) (*model.TrackedEmail, error) {
	query := `
		SELECT ` + trackedEmailColumns + `
		FROM tracked_emails
		WHERE account_id = $1 AND provider_message_id = $2
	`
	var email model.TrackedEmail
	err := r.db.GetContext(ctx, &email, query, accountID, providerMessageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked email by provider id: %w", err)
	}
	return &email, nil
}

func (r *trackedEmailRepository) ListOpenForAccount(ctx context.Context, accountID uuid.UUID) ([]*model.TrackedEmail, error) {
	query := `
		SELECT ` + trackedEmailColumns + `
		FROM tracked_emails
		WHERE account_id = $1 AND status NOT IN ('REPLIED', 'CLOSED')
		ORDER BY sent_at DESC
	`
	var emails []*model.TrackedEmail
	if err := r.db.SelectContext(ctx, &emails, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list open tracked emails: %w", err)
	}
	return emails, nil
}

func (r *trackedEmailRepository) List(ctx context.Context, accountID uuid.UUID, status *model.TrackingStatus, limit int) ([]*model.TrackedEmail, error) {
	query := `
		SELECT ` + trackedEmailColumns + `
		FROM tracked_emails
		WHERE account_id = $1
		AND ($2::text IS NULL OR status = $2)
		ORDER BY sent_at DESC
		LIMIT $3
	`
	var emails []*model.TrackedEmail
	if err := r.db.SelectContext(ctx, &emails, query, accountID, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list tracked emails: %w", err)
	}
	return emails, nil
}

func (r *trackedEmailRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status model.TrackingStatus) error {
	query := `
		UPDATE tracked_emails
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, id, status)
	} else {
		_, err = r.db.ExecContext(ctx, query, id, status)
	}
	if err != nil {
		return fmt.Errorf("failed to update tracked email status: %w", err)
	}
	return nil
}

// RecordResponseTx bumps the response counter and last-response timestamp in
// the same transaction as the REPLIED status change.
func (r *trackedEmailRepository) RecordResponseTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, receivedAt time.Time) error {
	query := `
		UPDATE tracked_emails
		SET response_count = response_count + 1,
			last_response_at = GREATEST(COALESCE(last_response_at, $2), $2),
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query, id, receivedAt)
	if err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	return nil
}
