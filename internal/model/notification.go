package model

import (
	"time"
)

// ChangeNotificationBatch is the body of a provider webhook POST. The
// provider delivers one or more notifications per request.
type ChangeNotificationBatch struct {
	Value []ChangeNotification `json:"value"`
}

// ChangeNotification is a single push notification about a changed resource.
// Decoding is strict at the boundary: entries missing required fields are
// rejected before anything reaches the queue.
type ChangeNotification struct {
	SubscriptionID     string        `json:"subscriptionId" validate:"required"`
	SubscriptionExpiry time.Time     `json:"subscriptionExpirationDateTime" validate:"required"`
	ChangeType         string        `json:"changeType" validate:"required,oneof=created updated deleted"`
	Resource           string        `json:"resource" validate:"required"`
	ResourceData       *ResourceData `json:"resourceData,omitempty"`
	ClientState        string        `json:"clientState,omitempty"`
	TenantID           string        `json:"tenantId,omitempty"`
}

// ResourceData carries the provider's identifiers for the changed resource.
type ResourceData struct {
	ID       string `json:"id" validate:"required"`
	DataType string `json:"@odata.type,omitempty"`
}

// MessageID returns the provider message id the notification refers to, or
// empty when the notification carries no resource data.
func (n *ChangeNotification) MessageID() string {
	if n.ResourceData == nil {
		return ""
	}
	return n.ResourceData.ID
}

// ProviderMessage is the subset of a provider message the pipeline needs for
// response matching.
type ProviderMessage struct {
	ID              string            `json:"id"`
	ConversationID  string            `json:"conversationId"`
	Subject         string            `json:"subject"`
	From            string            `json:"from"`
	ToRecipients    []string          `json:"toRecipients"`
	ReceivedAt      time.Time         `json:"receivedDateTime"`
	InternetHeaders map[string]string `json:"internetMessageHeaders,omitempty"`
	IsDraft         bool              `json:"isDraft"`
	BodyPreview     string            `json:"bodyPreview,omitempty"`
}
