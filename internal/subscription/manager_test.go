package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/provider"
	"github.com/replypilot/tracker-api/internal/ratelimit"
	"github.com/replypilot/tracker-api/pkg/logger"
)

type fakeSubRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*model.WebhookSubscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[uuid.UUID]*model.WebhookSubscription)}
}

func (r *fakeSubRepo) Create(ctx context.Context, sub *model.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Active = true
	r.subs[sub.ID] = sub
	return nil
}

func (r *fakeSubRepo) Get(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	copied := *sub
	return &copied, nil
}

func (r *fakeSubRepo) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ProviderSubscriptionID == providerSubscriptionID {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSubRepo) ListActive(ctx context.Context) ([]*model.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.WebhookSubscription
	for _, sub := range r.subs {
		if sub.Active {
			copied := *sub
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) ListExpiringWithin(ctx context.Context, window time.Duration) ([]*model.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.WebhookSubscription
	for _, sub := range r.subs {
		if sub.Active && time.Until(sub.ExpiresAt) <= window {
			copied := *sub
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) Update(ctx context.Context, sub *model.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *sub
	r.subs[sub.ID] = &copied
	return nil
}

func (r *fakeSubRepo) CountExpiringWithin(ctx context.Context, window time.Duration) (int, error) {
	subs, _ := r.ListExpiringWithin(ctx, window)
	return len(subs), nil
}

type fakeRateRepo struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *fakeRateRepo) IncrementWindow(ctx context.Context, accountID uuid.UUID, op model.OperationType, windowStart, windowEnd time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	key := fmt.Sprintf("%s|%s", accountID, op)
	r.counts[key]++
	return r.counts[key], nil
}

func (r *fakeRateRepo) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls int
}

func (a *fakeAlerter) SubscriptionDeactivated(sub *model.WebhookSubscription, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testSubConfig() config.SubscriptionConfig {
	return config.SubscriptionConfig{
		ExpirationHours:  72,
		RenewalThreshold: 48 * time.Hour,
		SweepInterval:    time.Hour,
		MaxFailures:      3,
	}
}

func testRateLimits() config.RateLimitConfig {
	generous := config.OperationLimit{Ceiling: 1000, Window: time.Hour}
	return config.RateLimitConfig{
		MessageRead:        generous,
		SubscriptionCreate: generous,
		SubscriptionRenew:  generous,
		SubscriptionDelete: generous,
		Bulk:               generous,
	}
}

// newTestManager spins up a provider stub and wires a manager against it.
func newTestManager(t *testing.T, handler http.HandlerFunc) (*Manager, *fakeSubRepo, *fakeAlerter, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := ratelimit.NewLimiter(&fakeRateRepo{}, testRateLimits(), nil)
	client := provider.NewClient(config.ProviderConfig{
		BaseURL:        server.URL,
		Token:          "test-token",
		RequestTimeout: 5 * time.Second,
	}, limiter, nil)

	repo := newFakeSubRepo()
	alerter := &fakeAlerter{}
	manager := NewManager(repo, client, alerter, testSubConfig(), logger.NewLogger(nil), nil)
	return manager, repo, alerter, server
}

func providerStub(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status >= 400 {
			w.WriteHeader(status)
			return
		}

		switch r.Method {
		case http.MethodPost:
			var sub provider.Subscription
			_ = json.NewDecoder(r.Body).Decode(&sub)
			sub.ID = "prov-sub-1"
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(sub)
		case http.MethodPatch:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			expiry, _ := time.Parse(time.RFC3339, body["expirationDateTime"])
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(provider.Subscription{
				ID:        "prov-sub-1",
				ExpiresAt: expiry,
			})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func TestCreateSubscription(t *testing.T) {
	manager, repo, _, _ := newTestManager(t, providerStub(0))
	accountID := uuid.New()

	sub, err := manager.CreateSubscription(context.Background(), accountID, "/accounts/me/messages", "https://tracker.example.com/webhooks/notifications", "state-1")
	require.NoError(t, err)
	assert.Equal(t, "prov-sub-1", sub.ProviderSubscriptionID)
	assert.Equal(t, accountID, sub.AccountID)
	assert.True(t, sub.ExpiresAt.After(time.Now().Add(71*time.Hour)))

	stored, err := repo.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestRenewSubscriptionExtendsExpiryAndResetsErrors(t *testing.T) {
	manager, repo, _, _ := newTestManager(t, providerStub(0))

	sub := &model.WebhookSubscription{
		AccountID:              uuid.New(),
		ProviderSubscriptionID: "prov-sub-1",
		Resource:               "/accounts/me/messages",
		ExpiresAt:              time.Now().Add(2 * time.Hour),
		ErrorCount:             2,
	}
	require.NoError(t, repo.Create(context.Background(), sub))

	renewed, err := manager.RenewSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(time.Now().Add(71*time.Hour)))
	assert.Zero(t, renewed.ErrorCount)
	assert.Nil(t, renewed.LastError)
	assert.NotNil(t, renewed.LastRenewedAt)
}

func TestRenewalFailuresDeactivateAndAlert(t *testing.T) {
	manager, repo, alerter, _ := newTestManager(t, providerStub(http.StatusInternalServerError))

	sub := &model.WebhookSubscription{
		AccountID:              uuid.New(),
		ProviderSubscriptionID: "prov-sub-1",
		Resource:               "/accounts/me/messages",
		ExpiresAt:              time.Now().Add(2 * time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), sub))

	for i := 0; i < 3; i++ {
		_, err := manager.RenewSubscription(context.Background(), sub.ID)
		assert.Error(t, err)
	}

	stored, err := repo.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, 3, stored.ErrorCount)
	assert.NotNil(t, stored.LastError)
	assert.Equal(t, 1, alerter.count())

	// Once deactivated the subscription is no longer renewable.
	_, err = manager.RenewSubscription(context.Background(), sub.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestDeleteSubscriptionIsIdempotent(t *testing.T) {
	manager, repo, _, _ := newTestManager(t, providerStub(http.StatusNotFound))

	sub := &model.WebhookSubscription{
		AccountID:              uuid.New(),
		ProviderSubscriptionID: "prov-sub-gone",
		Resource:               "/accounts/me/messages",
		ExpiresAt:              time.Now().Add(2 * time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), sub))

	// Provider answers 404: already deleted upstream, still a success here.
	require.NoError(t, manager.DeleteSubscription(context.Background(), sub.ID))

	stored, err := repo.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestRunSweepRenewsExpiring(t *testing.T) {
	manager, repo, _, _ := newTestManager(t, providerStub(0))

	expiring := &model.WebhookSubscription{
		AccountID:              uuid.New(),
		ProviderSubscriptionID: "prov-sub-1",
		Resource:               "/accounts/me/messages",
		ExpiresAt:              time.Now().Add(2 * time.Hour),
	}
	healthy := &model.WebhookSubscription{
		AccountID:              uuid.New(),
		ProviderSubscriptionID: "prov-sub-2",
		Resource:               "/accounts/me/messages",
		ExpiresAt:              time.Now().Add(71 * time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), expiring))
	require.NoError(t, repo.Create(context.Background(), healthy))

	require.NoError(t, manager.RunSweep(context.Background()))

	renewed, err := repo.Get(context.Background(), expiring.ID)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(time.Now().Add(71*time.Hour)))

	untouched, err := repo.Get(context.Background(), healthy.ID)
	require.NoError(t, err)
	assert.Nil(t, untouched.LastRenewedAt)
}
