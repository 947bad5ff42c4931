package tracking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
)

// ErrAlreadyTracked is returned when a provider message is registered twice
// for the same account.
var ErrAlreadyTracked = errors.New("message is already tracked")

// CancelNotifier signals the follow-up scheduler that pending follow-ups for
// a tracked email must not fire. The signal is fire-and-forget: a scheduler
// outage never blocks or rolls back the state transition.
type CancelNotifier interface {
	CancelPendingFollowUps(ctx context.Context, trackedEmailID uuid.UUID)
}

// lockStripes bounds the lock set: one email always maps to the same
// stripe, so mutations for it stay serialized without the worker
// accumulating a mutex per email over its lifetime.
const lockStripes = 64

// Service owns the tracked email lifecycle. All mutations for one email are
// serialized through a striped lock set, so two notifications resolving to
// the same email can never commit conflicting transitions.
type Service struct {
	emails    repository.TrackedEmailRepository
	responses repository.ResponseRepository
	notifier  CancelNotifier

	locks [lockStripes]sync.Mutex
}

func NewService(emails repository.TrackedEmailRepository, responses repository.ResponseRepository, notifier CancelNotifier) *Service {
	return &Service{
		emails:    emails,
		responses: responses,
		notifier:  notifier,
	}
}

// StartTracking registers an outbound message for observation.
func (s *Service) StartTracking(ctx context.Context, email *model.TrackedEmail) error {
	if email.ProviderMessageID == "" {
		return fmt.Errorf("provider message id is required")
	}
	if email.SenderAddress == "" {
		return fmt.Errorf("sender address is required")
	}
	if len(email.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	existing, err := s.emails.GetByProviderMessageID(ctx, email.AccountID, email.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("failed to check existing tracking: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("message %s: %w", email.ProviderMessageID, ErrAlreadyTracked)
	}

	if email.Status == "" {
		email.Status = model.TrackingStatusSent
	}
	if err := s.emails.Create(ctx, email); err != nil {
		return fmt.Errorf("failed to start tracking: %w", err)
	}
	return nil
}

// Transition moves a tracked email to the target status. Illegal moves
// return ErrInvalidTransition without mutating anything.
func (s *Service) Transition(ctx context.Context, emailID uuid.UUID, target model.TrackingStatus) error {
	lock := s.lockFor(emailID)
	lock.Lock()
	defer lock.Unlock()

	email, err := s.emails.Get(ctx, emailID)
	if err != nil {
		return fmt.Errorf("failed to load tracked email: %w", err)
	}

	if err := ValidateTransition(email.Status, target); err != nil {
		return err
	}

	if err := s.emails.UpdateStatus(ctx, nil, emailID, target); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// RecordReply applies an accepted match: transition to REPLIED, bump the
// response counter and persist the response row in one transaction, then
// signal follow-up cancellation after commit. The transition and the
// counter update commit or roll back together; the cancellation signal is
// only sent once the commit is durable. The queue delivers at least once,
// so a redelivered provider message dedupes on the response row and leaves
// the counter untouched.
func (s *Service) RecordReply(ctx context.Context, emailID uuid.UUID, resp *model.EmailResponse, triggerTransition bool) error {
	lock := s.lockFor(emailID)
	lock.Lock()
	defer lock.Unlock()

	email, err := s.emails.Get(ctx, emailID)
	if err != nil {
		return fmt.Errorf("failed to load tracked email: %w", err)
	}

	if resp.ReceivedAt.Before(email.SentAt) {
		return fmt.Errorf("response received before email was sent")
	}

	transitioned := false
	if triggerTransition && email.Status != model.TrackingStatusReplied {
		if err := ValidateTransition(email.Status, model.TrackingStatusReplied); err != nil {
			return err
		}
		transitioned = true
	}

	resp.TrackedEmailID = emailID
	inserted := false
	err = s.emails.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		inserted, err = s.responses.CreateTx(ctx, tx, resp)
		if err != nil {
			return err
		}
		if !inserted {
			// Redelivery of an already-applied reply.
			return nil
		}
		if transitioned {
			if err := s.emails.UpdateStatus(ctx, tx, emailID, model.TrackingStatusReplied); err != nil {
				return err
			}
		}
		if triggerTransition {
			return s.emails.RecordResponseTx(ctx, tx, emailID, resp.ReceivedAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record reply: %w", err)
	}

	if inserted && transitioned && s.notifier != nil {
		s.notifier.CancelPendingFollowUps(ctx, emailID)
		log.Info().
			Str("tracked_email_id", emailID.String()).
			Float64("confidence", resp.Confidence).
			Msg("reply recorded, follow-ups cancelled")
	}
	return nil
}

// Close marks an email terminal.
func (s *Service) Close(ctx context.Context, emailID uuid.UUID) error {
	return s.Transition(ctx, emailID, model.TrackingStatusClosed)
}

// OpenEmailsForAccount returns the candidate set for response matching.
func (s *Service) OpenEmailsForAccount(ctx context.Context, accountID uuid.UUID) ([]*model.TrackedEmail, error) {
	return s.emails.ListOpenForAccount(ctx, accountID)
}

// Get returns a tracked email by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.TrackedEmail, error) {
	return s.emails.Get(ctx, id)
}

// List returns tracked emails for one account.
func (s *Service) List(ctx context.Context, accountID uuid.UUID, status *model.TrackingStatus, limit int) ([]*model.TrackedEmail, error) {
	return s.emails.List(ctx, accountID, status, limit)
}

// Responses returns the accepted responses for one tracked email.
func (s *Service) Responses(ctx context.Context, trackedEmailID uuid.UUID) ([]*model.EmailResponse, error) {
	return s.responses.ListForEmail(ctx, trackedEmailID)
}

func (s *Service) lockFor(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &s.locks[h.Sum32()%lockStripes]
}
