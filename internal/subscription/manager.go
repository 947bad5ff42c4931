package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/replypilot/tracker-api/internal/alert"
	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/provider"
	"github.com/replypilot/tracker-api/internal/repository"
	"github.com/replypilot/tracker-api/pkg/logger"
	"github.com/replypilot/tracker-api/pkg/metrics"
)

// Manager owns the provider push subscription lifecycle: creation, periodic
// renewal ahead of expiry, and deactivation after repeated failures.
type Manager struct {
	repo    repository.SubscriptionRepository
	client  *provider.Client
	alerter alert.Alerter
	cfg     config.SubscriptionConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewManager(
	repo repository.SubscriptionRepository,
	client *provider.Client,
	alerter alert.Alerter,
	cfg config.SubscriptionConfig,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Manager {
	return &Manager{
		repo:    repo,
		client:  client,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// CreateSubscription registers a push subscription at the provider and
// persists the record.
func (m *Manager) CreateSubscription(ctx context.Context, accountID uuid.UUID, resource, notifyURL, clientState string) (*model.WebhookSubscription, error) {
	expiry := m.now().Add(time.Duration(m.cfg.ExpirationHours) * time.Hour)

	created, err := m.client.CreateSubscription(ctx, accountID, &provider.Subscription{
		Resource:    resource,
		ChangeType:  "created,updated",
		NotifyURL:   notifyURL,
		ClientState: clientState,
		ExpiresAt:   expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider subscription: %w", err)
	}

	sub := &model.WebhookSubscription{
		AccountID:              accountID,
		ProviderSubscriptionID: created.ID,
		Resource:               resource,
		ExpiresAt:              created.ExpiresAt,
	}
	if err := m.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}

	m.logger.Info("subscription created",
		"subscription_id", sub.ID.String(),
		"account_id", accountID.String(),
		"expires_at", sub.ExpiresAt)
	return sub, nil
}

// RenewSubscription extends the expiry at the provider. On success the
// error count resets; on failure it climbs until the ceiling deactivates
// the subscription and raises an operator alert.
func (m *Manager) RenewSubscription(ctx context.Context, subscriptionID uuid.UUID) (*model.WebhookSubscription, error) {
	sub, err := m.repo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if !sub.Active {
		return nil, fmt.Errorf("subscription %s is not active", subscriptionID)
	}

	newExpiry := m.now().Add(time.Duration(m.cfg.ExpirationHours) * time.Hour)
	renewed, err := m.client.RenewSubscription(ctx, sub.AccountID, sub.ProviderSubscriptionID, newExpiry)
	if err != nil {
		return nil, m.recordRenewalFailure(ctx, sub, err)
	}

	now := m.now()
	sub.ExpiresAt = renewed.ExpiresAt
	sub.LastRenewedAt = &now
	sub.ErrorCount = 0
	sub.LastError = nil
	if err := m.repo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist renewal: %w", err)
	}

	if m.metrics != nil {
		m.metrics.SubscriptionsRenewed.Inc()
	}
	return sub, nil
}

func (m *Manager) recordRenewalFailure(ctx context.Context, sub *model.WebhookSubscription, cause error) error {
	sub.ErrorCount++
	errMsg := cause.Error()
	sub.LastError = &errMsg

	if sub.ErrorCount >= m.cfg.MaxFailures {
		sub.Active = false
		m.logger.Error(cause, "subscription deactivated after consecutive renewal failures",
			"subscription_id", sub.ID.String(),
			"error_count", sub.ErrorCount)
		if m.alerter != nil {
			m.alerter.SubscriptionDeactivated(sub, cause)
		}
	}

	if err := m.repo.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to persist renewal failure: %w", err)
	}
	if m.metrics != nil {
		m.metrics.SubscriptionsFailed.Inc()
	}
	return fmt.Errorf("failed to renew subscription %s: %w", sub.ID, cause)
}

// DeleteSubscription removes the registration at the provider and
// deactivates the record. Provider-side deletion is idempotent: an unknown
// id is treated as already deleted.
func (m *Manager) DeleteSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, err := m.repo.Get(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if err := m.client.DeleteSubscription(ctx, sub.AccountID, sub.ProviderSubscriptionID); err != nil {
		return fmt.Errorf("failed to delete provider subscription: %w", err)
	}

	if sub.Active {
		sub.Active = false
		if err := m.repo.Update(ctx, sub); err != nil {
			return fmt.Errorf("failed to deactivate subscription: %w", err)
		}
	}
	return nil
}

// ListActive returns all active subscriptions.
func (m *Manager) ListActive(ctx context.Context) ([]*model.WebhookSubscription, error) {
	return m.repo.ListActive(ctx)
}

// RunSweep renews every active subscription expiring within the renewal
// threshold. Failures are isolated per subscription.
func (m *Manager) RunSweep(ctx context.Context) error {
	subs, err := m.repo.ListExpiringWithin(ctx, m.cfg.RenewalThreshold)
	if err != nil {
		return fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	if m.metrics != nil {
		m.metrics.SubscriptionsExpired.Set(float64(len(subs)))
	}

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := m.RenewSubscription(ctx, sub.ID); err != nil {
			m.logger.Error(err, "sweep renewal failed",
				"subscription_id", sub.ID.String())
		}
	}
	return nil
}

// Start runs the renewal sweep on a fixed interval until the context is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("starting subscription renewal sweep",
		"interval", m.cfg.SweepInterval.String(),
		"renewal_threshold", m.cfg.RenewalThreshold.String())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("stopping subscription renewal sweep")
			return
		case <-ticker.C:
			if err := m.RunSweep(ctx); err != nil {
				m.logger.Error(err, "subscription sweep failed")
			}
		}
	}
}
