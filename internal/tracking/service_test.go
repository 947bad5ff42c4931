package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replypilot/tracker-api/internal/model"
)

type fakeEmailRepo struct {
	mu     sync.Mutex
	emails map[uuid.UUID]*model.TrackedEmail
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{emails: make(map[uuid.UUID]*model.TrackedEmail)}
}

func (r *fakeEmailRepo) Create(ctx context.Context, email *model.TrackedEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if email.ID == uuid.Nil {
		email.ID = uuid.New()
	}
	r.emails[email.ID] = email
	return nil
}

func (r *fakeEmailRepo) Get(ctx context.Context, id uuid.UUID) (*model.TrackedEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[id]
	if !ok {
		return nil, assert.AnError
	}
	copied := *email
	return &copied, nil
}

func (r *fakeEmailRepo) GetByProviderMessageID(ctx context.Context, accountID uuid.UUID, providerMessageID string) (*model.TrackedEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, email := range r.emails {
		if email.AccountID == accountID && email.ProviderMessageID == providerMessageID {
			copied := *email
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeEmailRepo) ListOpenForAccount(ctx context.Context, accountID uuid.UUID) ([]*model.TrackedEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TrackedEmail
	for _, email := range r.emails {
		if email.AccountID == accountID &&
			email.Status != model.TrackingStatusReplied &&
			email.Status != model.TrackingStatusClosed {
			copied := *email
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeEmailRepo) List(ctx context.Context, accountID uuid.UUID, status *model.TrackingStatus, limit int) ([]*model.TrackedEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TrackedEmail
	for _, email := range r.emails {
		if email.AccountID != accountID {
			continue
		}
		if status != nil && email.Status != *status {
			continue
		}
		copied := *email
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeEmailRepo) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status model.TrackingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails[id].Status = status
	return nil
}

func (r *fakeEmailRepo) RecordResponseTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, receivedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := r.emails[id]
	email.ResponseCount++
	if email.LastResponseAt == nil || receivedAt.After(*email.LastResponseAt) {
		email.LastResponseAt = &receivedAt
	}
	return nil
}

func (r *fakeEmailRepo) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return fn(nil)
}

type fakeResponseRepo struct {
	mu        sync.Mutex
	responses []*model.EmailResponse
}

func (r *fakeResponseRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, resp *model.EmailResponse) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.responses {
		if existing.TrackedEmailID == resp.TrackedEmailID &&
			existing.ProviderMessageID == resp.ProviderMessageID {
			return false, nil
		}
	}
	r.responses = append(r.responses, resp)
	return true, nil
}

func (r *fakeResponseRepo) ListForEmail(ctx context.Context, trackedEmailID uuid.UUID) ([]*model.EmailResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.EmailResponse
	for _, resp := range r.responses {
		if resp.TrackedEmailID == trackedEmailID {
			out = append(out, resp)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (n *fakeNotifier) CancelPendingFollowUps(ctx context.Context, trackedEmailID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, trackedEmailID)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func seedEmail(t *testing.T, repo *fakeEmailRepo, status model.TrackingStatus) *model.TrackedEmail {
	t.Helper()
	email := &model.TrackedEmail{
		ID:                uuid.New(),
		AccountID:         uuid.New(),
		ProviderMessageID: "msg-" + uuid.New().String(),
		Subject:           "quarterly report",
		SenderAddress:     "sales@example.com",
		Recipients:        []string{"buyer@example.com"},
		SentAt:            time.Now().Add(-time.Hour),
		Status:            status,
	}
	require.NoError(t, repo.Create(context.Background(), email))
	return email
}

func TestStartTrackingRejectsDuplicates(t *testing.T) {
	emails := newFakeEmailRepo()
	svc := NewService(emails, &fakeResponseRepo{}, nil)

	email := &model.TrackedEmail{
		AccountID:         uuid.New(),
		ProviderMessageID: "msg-1",
		SenderAddress:     "sales@example.com",
		Recipients:        []string{"buyer@example.com"},
		SentAt:            time.Now(),
	}
	require.NoError(t, svc.StartTracking(context.Background(), email))
	assert.Equal(t, model.TrackingStatusSent, email.Status)

	dup := &model.TrackedEmail{
		AccountID:         email.AccountID,
		ProviderMessageID: "msg-1",
		SenderAddress:     "sales@example.com",
		Recipients:        []string{"buyer@example.com"},
		SentAt:            time.Now(),
	}
	err := svc.StartTracking(context.Background(), dup)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already tracked")
}

func TestStartTrackingValidatesInput(t *testing.T) {
	svc := NewService(newFakeEmailRepo(), &fakeResponseRepo{}, nil)

	err := svc.StartTracking(context.Background(), &model.TrackedEmail{
		SenderAddress: "sales@example.com",
		Recipients:    []string{"buyer@example.com"},
	})
	assert.Error(t, err)

	err = svc.StartTracking(context.Background(), &model.TrackedEmail{
		ProviderMessageID: "msg-1",
		SenderAddress:     "sales@example.com",
	})
	assert.Error(t, err)
}

func TestRecordReplyTransitionsAndCancelsOnce(t *testing.T) {
	emails := newFakeEmailRepo()
	responses := &fakeResponseRepo{}
	notifier := &fakeNotifier{}
	svc := NewService(emails, responses, notifier)

	email := seedEmail(t, emails, model.TrackingStatusSent)

	resp := &model.EmailResponse{
		ProviderMessageID: "reply-1",
		SenderAddress:     "buyer@example.com",
		ReceivedAt:        time.Now(),
		Confidence:        0.92,
	}
	require.NoError(t, svc.RecordReply(context.Background(), email.ID, resp, true))

	stored, err := svc.Get(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TrackingStatusReplied, stored.Status)
	assert.Equal(t, 1, stored.ResponseCount)
	assert.Equal(t, 1, notifier.count())

	// A second reply to an already-replied email bumps the counter but
	// must not re-signal cancellation.
	second := &model.EmailResponse{
		ProviderMessageID: "reply-2",
		SenderAddress:     "buyer@example.com",
		ReceivedAt:        time.Now(),
		Confidence:        0.88,
	}
	require.NoError(t, svc.RecordReply(context.Background(), email.ID, second, true))

	stored, err = svc.Get(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TrackingStatusReplied, stored.Status)
	assert.Equal(t, 2, stored.ResponseCount)
	assert.Equal(t, 1, notifier.count())
}

func TestRecordReplyRedeliveryDoesNotDoubleCount(t *testing.T) {
	emails := newFakeEmailRepo()
	responses := &fakeResponseRepo{}
	notifier := &fakeNotifier{}
	svc := NewService(emails, responses, notifier)

	email := seedEmail(t, emails, model.TrackingStatusSent)

	// The queue delivers at least once: a worker crash after commit leaves
	// the job claimable and the same provider message comes around again.
	for i := 0; i < 3; i++ {
		resp := &model.EmailResponse{
			ProviderMessageID: "reply-1",
			SenderAddress:     "buyer@example.com",
			ReceivedAt:        time.Now(),
			Confidence:        0.92,
		}
		require.NoError(t, svc.RecordReply(context.Background(), email.ID, resp, true))
	}

	stored, err := svc.Get(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TrackingStatusReplied, stored.Status)
	assert.Equal(t, 1, stored.ResponseCount, "count must equal the number of distinct responses")
	assert.Equal(t, 1, notifier.count())

	listed, err := svc.Responses(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestRecordReplyAutoReplyDoesNotTransition(t *testing.T) {
	emails := newFakeEmailRepo()
	responses := &fakeResponseRepo{}
	notifier := &fakeNotifier{}
	svc := NewService(emails, responses, notifier)

	email := seedEmail(t, emails, model.TrackingStatusSent)

	resp := &model.EmailResponse{
		ProviderMessageID: "ooo-1",
		SenderAddress:     "buyer@example.com",
		ReceivedAt:        time.Now(),
		IsAutoReply:       true,
		Confidence:        0.9,
	}
	require.NoError(t, svc.RecordReply(context.Background(), email.ID, resp, false))

	stored, err := svc.Get(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TrackingStatusSent, stored.Status)
	assert.Equal(t, 0, stored.ResponseCount)
	assert.Equal(t, 0, notifier.count())

	// The response row is still persisted for inspection.
	listed, err := svc.Responses(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.True(t, listed[0].IsAutoReply)
}

func TestRecordReplyRejectsResponseBeforeSend(t *testing.T) {
	emails := newFakeEmailRepo()
	svc := NewService(emails, &fakeResponseRepo{}, nil)

	email := seedEmail(t, emails, model.TrackingStatusSent)

	resp := &model.EmailResponse{
		ProviderMessageID: "reply-1",
		SenderAddress:     "buyer@example.com",
		ReceivedAt:        email.SentAt.Add(-time.Minute),
	}
	err := svc.RecordReply(context.Background(), email.ID, resp, true)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "before email was sent")
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	emails := newFakeEmailRepo()
	svc := NewService(emails, &fakeResponseRepo{}, nil)

	email := seedEmail(t, emails, model.TrackingStatusClosed)

	err := svc.Transition(context.Background(), email.ID, model.TrackingStatusReplied)
	assert.True(t, IsInvalidTransition(err))

	stored, getErr := svc.Get(context.Background(), email.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.TrackingStatusClosed, stored.Status)
}

func TestLockForIsStable(t *testing.T) {
	svc := NewService(newFakeEmailRepo(), &fakeResponseRepo{}, nil)

	id := uuid.New()
	assert.Same(t, svc.lockFor(id), svc.lockFor(id))

	// Distinct emails may share a stripe; the same email never changes one.
	other := uuid.New()
	assert.Same(t, svc.lockFor(other), svc.lockFor(other))
}

func TestConcurrentRepliesKeepCountMonotonic(t *testing.T) {
	emails := newFakeEmailRepo()
	responses := &fakeResponseRepo{}
	notifier := &fakeNotifier{}
	svc := NewService(emails, responses, notifier)

	email := seedEmail(t, emails, model.TrackingStatusSent)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := &model.EmailResponse{
				ProviderMessageID: "reply-" + uuid.New().String(),
				SenderAddress:     "buyer@example.com",
				ReceivedAt:        time.Now(),
			}
			_ = svc.RecordReply(context.Background(), email.ID, resp, true)
		}(i)
	}
	wg.Wait()

	stored, err := svc.Get(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TrackingStatusReplied, stored.Status)
	assert.Equal(t, 8, stored.ResponseCount)
	assert.Equal(t, 1, notifier.count(), "cancellation must fire exactly once")
}
