package alert

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
)

// Alerter raises operator-facing alert conditions.
type Alerter interface {
	SubscriptionDeactivated(sub *model.WebhookSubscription, cause error)
}

// Mailer sends operator alerts over SMTP.
type Mailer struct {
	cfg    config.AlertConfig
	dialer *gomail.Dialer
}

func NewMailer(cfg config.AlertConfig) *Mailer {
	return &Mailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
	}
}

// SubscriptionDeactivated emails the operator when a subscription is taken
// out of service after repeated renewal failures. Send failures are logged,
// not propagated: alerting must never break the sweep.
func (m *Mailer) SubscriptionDeactivated(sub *model.WebhookSubscription, cause error) {
	if !m.cfg.Enabled {
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", m.cfg.OperatorAddr)
	msg.SetHeader("Subject", fmt.Sprintf("[tracker] subscription %s deactivated", sub.ID))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Subscription %s (account %s, resource %s) was deactivated after %d consecutive renewal failures.\n\nLast error: %v\n",
		sub.ID, sub.AccountID, sub.Resource, sub.ErrorCount, cause,
	))

	if err := m.dialer.DialAndSend(msg); err != nil {
		log.Error().Err(err).
			Str("subscription_id", sub.ID.String()).
			Msg("failed to send operator alert")
	}
}
