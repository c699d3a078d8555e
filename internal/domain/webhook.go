package domain

import "time"

// Webhook represents a subscription to a checkout lifecycle event.
type Webhook struct {
	WebhookID string
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
