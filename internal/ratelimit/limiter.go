package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
	"github.com/replypilot/tracker-api/pkg/metrics"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter gates outbound provider calls per account and operation type
// against sliding window ceilings. The check and the increment are one
// atomic store operation, so concurrent callers cannot both consume the
// last slot in a window.
type Limiter struct {
	repo    repository.RateLimitRepository
	cfg     config.RateLimitConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewLimiter(repo repository.RateLimitRepository, cfg config.RateLimitConfig, m *metrics.Metrics) *Limiter {
	return &Limiter{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// CheckAndRecord consumes one slot for the account/operation pair. When the
// ceiling is already reached the call is refused and nothing is recorded
// beyond the refused increment.
func (l *Limiter) CheckAndRecord(ctx context.Context, accountID uuid.UUID, op model.OperationType) (Decision, error) {
	limit, ok := l.cfg.Limit(string(op))
	if !ok {
		return Decision{}, fmt.Errorf("no rate limit configured for operation %q", op)
	}

	now := l.now()
	windowStart := now.Truncate(limit.Window)
	windowEnd := windowStart.Add(limit.Window)

	count, err := l.repo.IncrementWindow(ctx, accountID, op, windowStart, windowEnd)
	if err != nil {
		// Store unreachable: availability policy decides the outcome.
		if l.failOpen(op) {
			log.Warn().Err(err).
				Str("account_id", accountID.String()).
				Str("operation", string(op)).
				Msg("rate limit store unreachable, failing open")
			return Decision{Allowed: true, Remaining: 0, ResetAt: windowEnd}, nil
		}
		return Decision{Allowed: false, ResetAt: windowEnd}, fmt.Errorf("rate limit store unavailable: %w", err)
	}

	if count > limit.Ceiling {
		if l.metrics != nil {
			l.metrics.RateLimitRefusals.WithLabelValues(string(op)).Inc()
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: windowEnd}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: limit.Ceiling - count,
		ResetAt:   windowEnd,
	}, nil
}

// failOpen returns the availability policy for one operation type. Reads may
// be allowed through on store failure; operations that mutate provider state
// are refused unless explicitly configured otherwise.
func (l *Limiter) failOpen(op model.OperationType) bool {
	switch op {
	case model.OperationMessageRead:
		return l.cfg.FailOpenReads
	default:
		return l.cfg.FailOpenMutations
	}
}
