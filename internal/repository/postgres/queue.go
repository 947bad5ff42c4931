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

type queueRepository struct {
	BaseRepository
}

func NewQueueRepository(base BaseRepository) repository.QueueRepository {
	return &queueRepository{base}
}

func (r *queueRepository) Enqueue(ctx context.Context, job *model.QueueJob) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.Payload == nil {
		return fmt.Errorf("job payload cannot be nil")
	}

	query := `
		INSERT INTO queue_jobs (
			id, account_id, payload, status, priority, retry_count, max_retries,
			scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	job.ID = uuid.New()
	job.Status = model.JobStatusPending
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = job.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.AccountID,
		job.Payload,
		job.Status,
		job.Priority,
		job.RetryCount,
		job.MaxRetries,
		job.ScheduledFor,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimPending marks a batch of due jobs processing in one statement. The
// FOR UPDATE SKIP LOCKED subquery keeps concurrent worker instances from
// claiming the same rows.
func (r *queueRepository) ClaimPending(ctx context.Context, limit int) ([]*model.QueueJob, error) {
	query := `
		UPDATE queue_jobs
		SET status = 'processing',
			last_attempt_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM queue_jobs
			WHERE status IN ('pending', 'failed')
			AND scheduled_for <= NOW()
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING id, account_id, payload, status, priority, retry_count, max_retries,
			scheduled_for, last_attempt_at, error_message, created_at, updated_at
	`
	var jobs []*model.QueueJob
	err := r.db.SelectContext(ctx, &jobs, query, limit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	return jobs, nil
}

func (r *queueRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE queue_jobs
		SET status = 'completed', error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

func (r *queueRepository) MarkForRetry(ctx context.Context, id uuid.UUID, scheduledFor time.Time, errMsg string) error {
	// scheduled_for only ever moves forward across retries of a job.
	query := `
		UPDATE queue_jobs
		SET status = 'failed',
			retry_count = retry_count + 1,
			scheduled_for = GREATEST(scheduled_for, $2),
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, scheduledFor, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark job for retry: %w", err)
	}
	return nil
}

func (r *queueRepository) MoveToDeadLetter(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE queue_jobs
		SET status = 'dead_letter', error_message = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to move job to dead letter: %w", err)
	}
	return nil
}

func (r *queueRepository) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	query := `
		UPDATE queue_jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing'
		AND last_attempt_at < NOW() - ($1 * INTERVAL '1 second')
	`
	result, err := r.db.ExecContext(ctx, query, int(staleAfter.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return result.RowsAffected()
}

func (r *queueRepository) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM queue_jobs GROUP BY status`

	rows := []struct {
		Status model.JobStatus `db:"status"`
		Count  int             `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	counts := make(map[model.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *queueRepository) ListDeadLetter(ctx context.Context, limit int) ([]*model.QueueJob, error) {
	query := `
		SELECT id, account_id, payload, status, priority, retry_count, max_retries,
			scheduled_for, last_attempt_at, error_message, created_at, updated_at
		FROM queue_jobs
		WHERE status = 'dead_letter'
		ORDER BY updated_at DESC
		LIMIT $1
	`
	var jobs []*model.QueueJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}
	return jobs, nil
}

func (r *queueRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM queue_jobs
		WHERE status = 'completed'
		AND updated_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed jobs: %w", err)
	}
	return result.RowsAffected()
}
