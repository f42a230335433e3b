package webhooks

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("webhook subscription not found")

// maxDeliveries bounds the delivery log kept per subscription.
const maxDeliveries = 100

// MemoryStore keeps subscriptions and recent deliveries in memory.
type MemoryStore struct {
	mu         sync.RWMutex
	subs       []*Subscription
	deliveries map[uuid.UUID][]Delivery
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deliveries: make(map[uuid.UUID][]Delivery)}
}

// Add stores sub.
func (m *MemoryStore) Add(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs = append(m.subs, &cp)
}

// Get returns the subscription with id.
func (m *MemoryStore) Get(id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List returns every subscription in creation order.
func (m *MemoryStore) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, len(m.subs))
	for i, s := range m.subs {
		cp := *s
		out[i] = &cp
	}
	return out
}

// ListByEvent returns the subscriptions that want eventType.
func (m *MemoryStore) ListByEvent(eventType string) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subs {
		if s.wants(eventType) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out
}

// Delete removes the subscription with id and its delivery log.
func (m *MemoryStore) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			delete(m.deliveries, id)
			return nil
		}
	}
	return ErrNotFound
}

// RecordDelivery appends d to its subscription's delivery log.
func (m *MemoryStore) RecordDelivery(d Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := append(m.deliveries[d.SubscriptionID], d)
	if len(log) > maxDeliveries {
		log = log[len(log)-maxDeliveries:]
	}
	m.deliveries[d.SubscriptionID] = log
}

// Deliveries returns the recent deliveries for subscription id, oldest first.
func (m *MemoryStore) Deliveries(id uuid.UUID) []Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Delivery(nil), m.deliveries[id]...)
}
