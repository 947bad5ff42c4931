package tracking

import (
	"errors"
	"fmt"

	"github.com/replypilot/tracker-api/internal/model"
)

// ErrInvalidTransition is returned for any transition the lifecycle table
// does not allow. Callers log and drop the event instead of failing the job.
type ErrInvalidTransition struct {
	From model.TrackingStatus
	To   model.TrackingStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid tracking transition %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err wraps an ErrInvalidTransition.
func IsInvalidTransition(err error) bool {
	var e *ErrInvalidTransition
	return errors.As(err, &e)
}

// transitions is the legal lifecycle table. CLOSED is terminal.
var transitions = map[model.TrackingStatus][]model.TrackingStatus{
	model.TrackingStatusPending: {
		model.TrackingStatusSent,
		model.TrackingStatusClosed,
	},
	model.TrackingStatusSent: {
		model.TrackingStatusDelivered,
		model.TrackingStatusReplied,
		model.TrackingStatusBounced,
		model.TrackingStatusClosed,
	},
	model.TrackingStatusDelivered: {
		model.TrackingStatusOpened,
		model.TrackingStatusReplied,
		model.TrackingStatusClosed,
	},
	model.TrackingStatusOpened: {
		model.TrackingStatusReplied,
		model.TrackingStatusClosed,
	},
	model.TrackingStatusReplied: {
		model.TrackingStatusClosed,
	},
	model.TrackingStatusBounced: {
		model.TrackingStatusClosed,
	},
	model.TrackingStatusClosed: nil,
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to model.TrackingStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when the move is illegal.
func ValidateTransition(from, to model.TrackingStatus) error {
	if !CanTransition(from, to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}
