package followup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/replypilot/tracker-api/pkg/messaging"
)

// CancelChannel is the broker channel the follow-up scheduler subscribes to.
const CancelChannel = "followup.cancel"

type cancelMessage struct {
	TrackedEmailID string    `json:"tracked_email_id"`
	CancelledAt    time.Time `json:"cancelled_at"`
}

// Notifier publishes follow-up cancellation signals. Publishing is
// fire-and-forget with a bounded async retry; the scheduler side is
// idempotent, so duplicate signals are harmless.
type Notifier struct {
	broker     messaging.Broker
	maxRetries int
	retryDelay time.Duration
}

func NewNotifier(broker messaging.Broker) *Notifier {
	return &Notifier{
		broker:     broker,
		maxRetries: 3,
		retryDelay: 2 * time.Second,
	}
}

// CancelPendingFollowUps publishes the cancellation signal without blocking
// the caller. Failures are retried in the background and logged, never
// surfaced: the reply transition has already committed.
func (n *Notifier) CancelPendingFollowUps(ctx context.Context, trackedEmailID uuid.UUID) {
	msg := messaging.Message{
		Type: "followup.cancel",
		Payload: cancelMessage{
			TrackedEmailID: trackedEmailID.String(),
			CancelledAt:    time.Now().UTC(),
		},
	}

	go func() {
		// Detached from the request context: the signal should still go
		// out after the originating job finishes.
		pubCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var err error
		for attempt := 0; attempt <= n.maxRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(n.retryDelay)
			}
			if err = n.broker.Publish(pubCtx, CancelChannel, msg); err == nil {
				return
			}
		}
		log.Error().Err(err).
			Str("tracked_email_id", trackedEmailID.String()).
			Msg("failed to publish follow-up cancellation")
	}()
}
