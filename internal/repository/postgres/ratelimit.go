package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
)

type rateLimitRepository struct {
	BaseRepository
}

func NewRateLimitRepository(base BaseRepository) repository.RateLimitRepository {
	return &rateLimitRepository{base}
}

// IncrementWindow is a single-statement check-and-increment. The upsert is
// serialized by the unique index on (account_id, operation, window_start),
// so two concurrent callers can never both observe the same pre-increment
// count.
func (r *rateLimitRepository) IncrementWindow(ctx context.Context, accountID uuid.UUID, op model.OperationType, windowStart, windowEnd time.Time) (int, error) {
	query := `
		INSERT INTO rate_limit_windows (
			id, account_id, operation, request_count, window_start, window_end, created_at
		) VALUES ($1, $2, $3, 1, $4, $5, NOW())
		ON CONFLICT (account_id, operation, window_start)
		DO UPDATE SET request_count = rate_limit_windows.request_count + 1
		RETURNING request_count
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, uuid.New(), accountID, op, windowStart, windowEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit window: %w", err)
	}
	return count, nil
}

func (r *rateLimitRepository) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM rate_limit_windows WHERE window_end < $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate limit windows: %w", err)
	}
	return result.RowsAffected()
}
