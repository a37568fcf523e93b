package event

import (
	"sync"

	"github.com/dshills/negstation/internal/event/topic"
)

// Registry holds subscriptions in registration order.
// It is safe for concurrent access.
type Registry struct {
	mu   sync.RWMutex
	subs []*subscription
	byID map[string]*subscription
}

// NewRegistry creates a new subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*subscription),
	}
}

// Add appends a subscription.
func (r *Registry) Add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = append(r.subs, sub)
	r.byID[sub.ID()] = sub
}

// Remove removes a subscription by ID.
func (r *Registry) Remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[subID]; !exists {
		return false
	}
	delete(r.byID, subID)
	r.subs = r.filterLocked(func(s *subscription) bool { return s.ID() != subID })
	return true
}

// RemoveOwner removes every subscription tagged with owner and returns them.
// Unowned subscriptions are never removed in bulk.
func (r *Registry) RemoveOwner(owner Owner) []*subscription {
	if owner == NoOwner {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*subscription
	r.subs = r.filterLocked(func(s *subscription) bool {
		if s.Owner() == owner {
			removed = append(removed, s)
			delete(r.byID, s.ID())
			return false
		}
		return true
	})
	return removed
}

// RemoveCancelled removes all cancelled subscriptions from the registry.
// Returns the number of subscriptions removed.
func (r *Registry) RemoveCancelled() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	r.subs = r.filterLocked(func(s *subscription) bool {
		if !s.IsActive() {
			delete(r.byID, s.ID())
			removed++
			return false
		}
		return true
	})
	return removed
}

// filterLocked returns a new slice with the subscriptions keep accepts.
// A fresh slice keeps snapshots returned by Match stable.
func (r *Registry) filterLocked(keep func(*subscription) bool) []*subscription {
	out := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// Get returns a subscription by ID.
func (r *Registry) Get(subID string) (*subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, exists := r.byID[subID]
	return sub, exists
}

// Match returns the active subscriptions whose topic or pattern matches
// eventTopic, in registration order.
func (r *Registry) Match(eventTopic topic.Topic) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*subscription
	for _, s := range r.subs {
		if s.IsActive() && topic.Matches(s.Topic(), eventTopic) {
			result = append(result, s)
		}
	}
	return result
}

// Count returns the total number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// CountActive returns the number of active subscriptions.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sub := range r.subs {
		if sub.IsActive() {
			count++
		}
	}
	return count
}

// CountByOwner returns the number of subscriptions tagged with owner.
func (r *Registry) CountByOwner(owner Owner) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sub := range r.subs {
		if sub.Owner() == owner {
			count++
		}
	}
	return count
}

// Clear removes all subscriptions.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = nil
	r.byID = make(map[string]*subscription)
}
