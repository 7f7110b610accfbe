package roomly

import (
	"log/slog"
	"slices"
	"sync"
)

// ============================================================================
// Subscription Registry
// ============================================================================

// Ticket identifies one queued subscription request.
type Ticket uint64

type pendingRequest struct {
	ticket   Ticket
	topic    string
	callback func()
}

// SubscriptionRegistry queues subscription requests made while the channel is
// not connected. Requests are kept in enqueue order and flushed exactly once.
type SubscriptionRegistry struct {
	mu      sync.Mutex
	log     *slog.Logger
	next    Ticket
	pending []pendingRequest
}

func NewSubscriptionRegistry(log *slog.Logger) *SubscriptionRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &SubscriptionRegistry{log: log}
}

// Enqueue appends a request for topic and returns its ticket.
func (r *SubscriptionRegistry) Enqueue(topic string, callback func()) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.pending = append(r.pending, pendingRequest{ticket: r.next, topic: topic, callback: callback})
	return r.next
}

// Remove drops a queued request. It reports false when the ticket was already
// flushed or removed.
func (r *SubscriptionRegistry) Remove(ticket Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.pending, func(p pendingRequest) bool { return p.ticket == ticket })
	if idx < 0 {
		return false
	}
	r.pending = slices.Delete(r.pending, idx, idx+1)
	return true
}

// FlushAll runs every queued callback once, then empties the queue. A second
// call without new requests does nothing.
func (r *SubscriptionRegistry) FlushAll() int {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, p := range batch {
		r.run(p)
	}
	if len(batch) > 0 {
		r.log.Debug("Pending subscriptions flushed", "count", len(batch))
	}
	return len(batch)
}

func (r *SubscriptionRegistry) run(p pendingRequest) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Pending subscription callback panicked", "topic", p.topic, "panic", rec)
		}
	}()
	p.callback()
}

// Len returns the number of queued requests.
func (r *SubscriptionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Topics returns the distinct queued topics in first-enqueue order.
func (r *SubscriptionRegistry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var topics []string
	for _, p := range r.pending {
		if !slices.Contains(topics, p.topic) {
			topics = append(topics, p.topic)
		}
	}
	return topics
}

// Clear drops every queued request without running it.
func (r *SubscriptionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}
