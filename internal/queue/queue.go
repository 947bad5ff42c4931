package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
)

// Queue accepts validated webhook notifications into durable storage. A
// process restart never loses accepted notifications.
type Queue struct {
	repo       repository.QueueRepository
	maxRetries int
}

func NewQueue(repo repository.QueueRepository, cfg config.QueueConfig) *Queue {
	return &Queue{
		repo:       repo,
		maxRetries: cfg.MaxRetries,
	}
}

// Enqueue stores one notification as a pending job scheduled immediately.
func (q *Queue) Enqueue(ctx context.Context, notification *model.ChangeNotification, accountID uuid.UUID) (*model.QueueJob, error) {
	payload, err := json.Marshal(notification)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	job := &model.QueueJob{
		AccountID:  accountID,
		Payload:    payload,
		Priority:   priorityFor(notification.ChangeType),
		MaxRetries: q.maxRetries,
	}
	if err := q.repo.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return job, nil
}

// priorityFor derives queue priority from the change type. New messages are
// what replies arrive as, so they jump the line.
func priorityFor(changeType string) model.JobPriority {
	switch changeType {
	case "created":
		return model.JobPriorityHigh
	case "deleted":
		return model.JobPriorityLow
	default:
		return model.JobPriorityNormal
	}
}
