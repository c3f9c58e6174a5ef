package live

import (
	"log/slog"
	"sync"

	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/metrics"
)

// Registry maps active session IDs to their single live subscriber. All
// mutation is serialized with a mutex; a session with no open stream simply
// has no entry.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *logger.Logger
}

// NewRegistry creates an empty subscription registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		subscribers: make(map[string]*Subscriber),
		logger:      log.WithComponent("live-registry"),
	}
}

// Subscribe registers sub as the session's subscriber. An existing
// subscriber for the same session is torn down; the client is prepared for
// reconnects.
func (r *Registry) Subscribe(sessionID string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.subscribers[sessionID]; ok {
		r.logger.Warn("replacing existing subscriber",
			slog.String("session_id", sessionID),
			slog.String("old_subscriber_id", existing.ID))
		existing.Cancel()
	} else {
		metrics.LiveSubscribers.Inc()
	}

	r.subscribers[sessionID] = sub
	r.logger.Debug("subscriber registered",
		slog.String("session_id", sessionID),
		slog.String("subscriber_id", sub.ID),
		slog.Int("total_subscribers", len(r.subscribers)))
}

// Unsubscribe removes the session's subscriber if it is still sub; a
// replacement that already took the slot is left alone.
func (r *Registry) Unsubscribe(sessionID string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.subscribers[sessionID]
	if !ok || current.ID != sub.ID {
		return
	}
	delete(r.subscribers, sessionID)
	current.Cancel()
	metrics.LiveSubscribers.Dec()

	r.logger.Debug("subscriber removed",
		slog.String("session_id", sessionID),
		slog.String("subscriber_id", sub.ID),
		slog.Int("total_subscribers", len(r.subscribers)))
}

// Publish delivers an event to the session's subscriber, if any. A slow
// subscriber drops the event rather than blocking the chunk path.
func (r *Registry) Publish(sessionID string, event Event) {
	r.mu.RLock()
	sub, ok := r.subscribers[sessionID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	if !sub.Send(event) {
		r.logger.Warn("dropped event for slow subscriber",
			slog.String("session_id", sessionID),
			slog.String("subscriber_id", sub.ID))
	}
}

// Close sends a final event and removes the session's subscriber. Called on
// session stop.
func (r *Registry) Close(sessionID string, final Event) {
	r.mu.Lock()
	sub, ok := r.subscribers[sessionID]
	if ok {
		delete(r.subscribers, sessionID)
		metrics.LiveSubscribers.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	sub.Send(final)
	sub.Cancel()
	r.logger.Debug("subscriber closed on stop", slog.String("session_id", sessionID))
}
