package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/efreitasn/minicheckout/internal/domain"
	"github.com/efreitasn/minicheckout/internal/store"
	"github.com/google/uuid"
)

// Valid webhook event types.
var validWebhookEvents = map[string]bool{
	"checkout.completed": true,
	"checkout.failed":    true,
	"checkout.expired":   true,
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	URL    string
	Events []string
}

// WebhookService handles webhook CRUD and checkout lifecycle event
// dispatch.
type WebhookService struct {
	store  *store.WebhookStore
	client *http.Client
}

// NewWebhookService creates a new WebhookService with the given
// delivery timeout.
func NewWebhookService(webhookStore *store.WebhookStore, webhookTimeout time.Duration) *WebhookService {
	return &WebhookService{
		store: webhookStore,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

// Upsert validates the request and creates or refreshes a subscription
// per (url, event) pair. Returns the resulting webhooks and whether any
// new subscriptions were created.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	dedupedEvents := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: checkout.completed, checkout.failed, checkout.expired",
			}
		}
		if !seen[event] {
			seen[event] = true
			dedupedEvents = append(dedupedEvents, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(dedupedEvents))

	for _, event := range dedupedEvents {
		w := &domain.Webhook{
			WebhookID: uuid.New().String(),
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if s.store.Upsert(w) {
			anyCreated = true
			webhooks = append(webhooks, w)
		} else if existing := s.store.GetByEventURL(event, req.URL); existing != nil {
			webhooks = append(webhooks, existing)
		}
	}

	return webhooks, anyCreated, nil
}

// List returns all webhook subscriptions.
func (s *WebhookService) List() []*domain.Webhook {
	return s.store.List()
}

// Delete removes a webhook subscription by ID.
func (s *WebhookService) Delete(webhookID string) error {
	return s.store.Delete(webhookID)
}

// checkoutEventPayload is the JSON payload for checkout lifecycle
// webhooks.
type checkoutEventPayload struct {
	Event     string            `json:"event"`
	Timestamp string            `json:"timestamp"`
	Data      checkoutEventData `json:"data"`
}

type checkoutEventData struct {
	LockID        string  `json:"lock_id"`
	CartID        string  `json:"cart_id"`
	Holder        string  `json:"holder"`
	State         string  `json:"state"`
	FailureReason string  `json:"failure_reason,omitempty"`
	OrderID       *string `json:"order_id,omitempty"`
}

// DispatchCheckoutCompleted notifies subscribers that a checkout
// completed and produced an order. Fire-and-forget.
func (s *WebhookService) DispatchCheckoutCompleted(lock *domain.CheckoutLock, order *domain.Order) {
	payload := s.buildPayload("checkout.completed", lock)
	payload.Data.OrderID = &order.OrderID
	s.dispatch("checkout.completed", payload)
}

// DispatchCheckoutFailed notifies subscribers that a checkout failed
// (insufficient stock, price drift, or manual release).
// Fire-and-forget.
func (s *WebhookService) DispatchCheckoutFailed(lock *domain.CheckoutLock) {
	s.dispatch("checkout.failed", s.buildPayload("checkout.failed", lock))
}

// DispatchCheckoutExpired notifies subscribers that the sweeper (or a
// lazy read) reclaimed a stale lock. Fire-and-forget.
func (s *WebhookService) DispatchCheckoutExpired(lock *domain.CheckoutLock) {
	s.dispatch("checkout.expired", s.buildPayload("checkout.expired", lock))
}

func (s *WebhookService) buildPayload(event string, lock *domain.CheckoutLock) checkoutEventPayload {
	view := lock.View()
	return checkoutEventPayload{
		Event:     event,
		Timestamp: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: checkoutEventData{
			LockID:        lock.LockID,
			CartID:        lock.CartID,
			Holder:        lock.Holder,
			State:         string(view.State),
			FailureReason: view.FailureReason,
		},
	}
}

// dispatch delivers the payload to every subscriber of the event, each
// in its own goroutine. Delivery errors are silently ignored.
func (s *WebhookService) dispatch(event string, payload checkoutEventPayload) {
	for _, wh := range s.store.ListByEvent(event) {
		go s.deliver(wh, payload)
	}
}

// deliver POSTs the payload as JSON to the webhook URL. Best-effort: a
// failed or slow delivery is dropped, never retried.
func (s *WebhookService) deliver(wh *domain.Webhook, payload checkoutEventPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	resp, err := s.client.Post(wh.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return
	}
	defer resp.Body.Close()
}
