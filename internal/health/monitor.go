package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
)

type Status string

const (
	StatusUp       Status = "UP"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

// Report is the aggregated health signal consumed by the operator-facing
// endpoint.
type Report struct {
	Status                Status    `json:"status"`
	QueueDepth            int       `json:"queue_depth"`
	DeadLetterCount       int       `json:"dead_letter_count"`
	ProcessingCount       int       `json:"processing_count"`
	SubscriptionsExpiring int       `json:"subscriptions_expiring"`
	ErrorRate             float64   `json:"error_rate"`
	CheckedAt             time.Time `json:"checked_at"`
}

// Thresholds decide when the aggregate signal degrades.
type Thresholds struct {
	MaxQueueDepth      int
	MaxDeadLetterCount int
	MaxErrorRate       float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxQueueDepth:      1000,
		MaxDeadLetterCount: 50,
		MaxErrorRate:       0.25,
	}
}

// Monitor aggregates queue depth, subscription expiry counts and the recent
// worker error rate into one health signal.
type Monitor struct {
	queue         repository.QueueRepository
	subs          repository.SubscriptionRepository
	thresholds    Thresholds
	renewalWindow time.Duration

	mu       sync.Mutex
	outcomes []bool
}

func NewMonitor(queue repository.QueueRepository, subs repository.SubscriptionRepository, thresholds Thresholds, renewalWindow time.Duration) *Monitor {
	return &Monitor{
		queue:         queue,
		subs:          subs,
		thresholds:    thresholds,
		renewalWindow: renewalWindow,
	}
}

// RecordOutcome feeds one job result into the sliding error-rate window.
func (m *Monitor) RecordOutcome(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes = append(m.outcomes, success)
	if len(m.outcomes) > 100 {
		m.outcomes = m.outcomes[len(m.outcomes)-100:]
	}
}

func (m *Monitor) errorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range m.outcomes {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(m.outcomes))
}

// Check produces the current aggregated report.
func (m *Monitor) Check(ctx context.Context) (*Report, error) {
	counts, err := m.queue.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}

	expiring, err := m.subs.CountExpiringWithin(ctx, m.renewalWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to count expiring subscriptions: %w", err)
	}

	report := &Report{
		QueueDepth:            counts[model.JobStatusPending] + counts[model.JobStatusFailed],
		DeadLetterCount:       counts[model.JobStatusDeadLetter],
		ProcessingCount:       counts[model.JobStatusProcessing],
		SubscriptionsExpiring: expiring,
		ErrorRate:             m.errorRate(),
		CheckedAt:             time.Now(),
	}
	report.Status = m.classify(report)
	return report, nil
}

func (m *Monitor) classify(r *Report) Status {
	if r.ErrorRate > m.thresholds.MaxErrorRate && r.QueueDepth > m.thresholds.MaxQueueDepth {
		return StatusDown
	}
	if r.ErrorRate > m.thresholds.MaxErrorRate ||
		r.QueueDepth > m.thresholds.MaxQueueDepth ||
		r.DeadLetterCount > m.thresholds.MaxDeadLetterCount {
		return StatusDegraded
	}
	return StatusUp
}
