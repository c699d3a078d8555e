package store

import (
	"sync"

	"github.com/efreitasn/minicheckout/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhook
// subscriptions.
// Primary index: webhook_id → webhook.
// Secondary index: event → url → webhook.
type WebhookStore struct {
	mu       sync.RWMutex
	webhooks map[string]*domain.Webhook
	byEvent  map[string]map[string]*domain.Webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks: make(map[string]*domain.Webhook),
		byEvent:  make(map[string]map[string]*domain.Webhook),
	}
}

// Upsert inserts a webhook subscription keyed by (event, url). If a
// subscription already exists for that pair, only UpdatedAt is bumped
// (the webhook_id remains stable). Returns true if a new subscription
// was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if urls, ok := s.byEvent[w.Event]; ok {
		if existing, ok := urls[w.URL]; ok {
			existing.UpdatedAt = w.UpdatedAt
			return false
		}
	}

	s.webhooks[w.WebhookID] = w
	if s.byEvent[w.Event] == nil {
		s.byEvent[w.Event] = make(map[string]*domain.Webhook)
	}
	s.byEvent[w.Event][w.URL] = w
	return true
}

// Get retrieves a webhook by ID. It returns domain.ErrWebhookNotFound
// if the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return w, nil
}

// GetByEventURL returns the webhook for a specific (event, url) pair,
// or nil if no subscription exists.
func (s *WebhookStore) GetByEventURL(event, url string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := s.byEvent[event]
	if urls == nil {
		return nil
	}
	return urls[url]
}

// ListByEvent returns all webhooks subscribed to an event.
// Returns an empty slice if the event has no subscribers.
func (s *WebhookStore) ListByEvent(event string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := s.byEvent[event]
	if len(urls) == 0 {
		return []*domain.Webhook{}
	}
	result := make([]*domain.Webhook, 0, len(urls))
	for _, w := range urls {
		result = append(result, w)
	}
	return result
}

// List returns every webhook subscription.
func (s *WebhookStore) List() []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Webhook, 0, len(s.webhooks))
	for _, w := range s.webhooks {
		result = append(result, w)
	}
	return result
}

// Delete removes a webhook by ID. It returns domain.ErrWebhookNotFound
// if the webhook does not exist. Both indexes are cleaned up.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}

	delete(s.webhooks, id)
	if urls, ok := s.byEvent[w.Event]; ok {
		delete(urls, w.URL)
		if len(urls) == 0 {
			delete(s.byEvent, w.Event)
		}
	}
	return nil
}
