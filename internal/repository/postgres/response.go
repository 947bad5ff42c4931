package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
)

type responseRepository struct {
	BaseRepository
}

func NewResponseRepository(base BaseRepository) repository.ResponseRepository {
	return &responseRepository{base}
}

func (r *responseRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, resp *model.EmailResponse) (bool, error) {
	if resp == nil {
		return false, fmt.Errorf("response cannot be nil")
	}

	query := `
		INSERT INTO email_responses (
			id, tracked_email_id, provider_message_id, sender_address,
			received_at, is_auto_reply, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tracked_email_id, provider_message_id) DO NOTHING
	`
	resp.ID = uuid.New()
	resp.CreatedAt = time.Now()

	res, err := tx.ExecContext(ctx, query,
		resp.ID,
		resp.TrackedEmailID,
		resp.ProviderMessageID,
		resp.SenderAddress,
		resp.ReceivedAt,
		resp.IsAutoReply,
		resp.Confidence,
		resp.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create email response: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to inspect insert result: %w", err)
	}
	return inserted > 0, nil
}

func (r *responseRepository) ListForEmail(ctx context.Context, trackedEmailID uuid.UUID) ([]*model.EmailResponse, error) {
	query := `
		SELECT id, tracked_email_id, provider_message_id, sender_address,
			received_at, is_auto_reply, confidence, created_at
		FROM email_responses
		WHERE tracked_email_id = $1
		ORDER BY received_at ASC
	`
	var responses []*model.EmailResponse
	if err := r.db.SelectContext(ctx, &responses, query, trackedEmailID); err != nil {
		return nil, fmt.Errorf("failed to list email responses: %w", err)
	}
	return responses, nil
}
