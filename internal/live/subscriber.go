package live

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer sizes each subscriber's event channel. Segment pushes are
// low-rate (one per chunk), so a modest buffer absorbs network jitter.
const subscriberBuffer = 64

// sendTimeout bounds how long a segment push waits on a slow subscriber
// before dropping the event for that connection.
const sendTimeout = 100 * time.Millisecond

// Subscriber is one open live push connection. Each session holds at most
// one; a newer subscription tears down the older.
type Subscriber struct {
	ID       string
	Ch       chan Event
	JoinedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber creates a subscriber bound to the request context.
func NewSubscriber(ctx context.Context) *Subscriber {
	subCtx, cancel := context.WithCancel(ctx)
	return &Subscriber{
		ID:       uuid.NewString(),
		Ch:       make(chan Event, subscriberBuffer),
		JoinedAt: time.Now(),
		ctx:      subCtx,
		cancel:   cancel,
	}
}

// Context returns the subscriber's context, done when the client is gone.
func (s *Subscriber) Context() context.Context {
	return s.ctx
}

// Cancel tears the subscriber down. Safe to call multiple times.
func (s *Subscriber) Cancel() {
	s.cancel()
}

// Send delivers an event, dropping it if the subscriber is slow or gone.
// The next event restores continuity; ordering is preserved for whatever
// does get through because all sends happen post-commit in index order.
func (s *Subscriber) Send(event Event) bool {
	select {
	case s.Ch <- event:
		return true
	case <-time.After(sendTimeout):
		return false
	case <-s.ctx.Done():
		return false
	}
}
