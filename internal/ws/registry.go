package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription identifies a topic a session can listen on, e.g.
// {"invoice", "<uid>"}.
type Subscription struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// SubscriptionRegistry maps subscriptions to the sessions listening on them.
// Reads vastly outnumber writes; fan-out copies the subscriber set out so no
// lock is held while sending.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[Subscription]map[uuid.UUID]struct{}
}

// NewSubscriptionRegistry constructs an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{subs: make(map[Subscription]map[uuid.UUID]struct{})}
}

// Subscribe registers the session for the subscription.
func (r *SubscriptionRegistry) Subscribe(sessionID uuid.UUID, sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[sub]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.subs[sub] = set
	}
	set[sessionID] = struct{}{}
}

// Unsubscribe removes the session from the subscription. The entry is dropped
// with its last subscriber.
func (r *SubscriptionRegistry) Unsubscribe(sessionID uuid.UUID, sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[sub]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.subs, sub)
	}
}

// SubscribersOf returns a cloned snapshot of the subscriber set.
func (r *SubscriptionRegistry) SubscribersOf(sub Subscription) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.subs[sub]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// PurgeSession removes the session from every subscription it holds.
func (r *SubscriptionRegistry) PurgeSession(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sub, set := range r.subs {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.subs, sub)
		}
	}
}

// Len reports the number of live subscriptions.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
