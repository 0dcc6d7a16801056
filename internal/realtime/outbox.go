package realtime

import (
	"context"
	"sync"

	"github.com/ashureev/clario/internal/domain"
)

// Outbox is the per-connection send queue. Events leave in the order they
// were pushed, except that a document_update pushed while another
// document_update is still waiting at the tail is merged into it using each
// section's merge policy.
type Outbox struct {
	mu     sync.Mutex
	queue  []domain.Event
	limit  int
	closed bool
	notify chan struct{}
}

// NewOutbox returns an Outbox holding at most limit undelivered events.
func NewOutbox(limit int) *Outbox {
	if limit <= 0 {
		limit = 128
	}
	return &Outbox{limit: limit, notify: make(chan struct{}, 1)}
}

// Push queues ev. It reports false when the outbox is closed or full; a
// full outbox means the peer stopped reading.
func (o *Outbox) Push(ev domain.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}

	if n := len(o.queue); n > 0 && ev.Type == domain.EventDocumentUpdate && o.queue[n-1].Type == domain.EventDocumentUpdate {
		tail := &o.queue[n-1]
		tail.Updates = domain.MergePatches(tail.Updates, ev.Updates)
		tail.Seq = ev.Seq
		tail.Turn = ev.Turn
		return true
	}

	if len(o.queue) >= o.limit {
		return false
	}
	o.queue = append(o.queue, ev)
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until an event is available, the outbox is closed or ctx is
// done.
func (o *Outbox) Next(ctx context.Context) (domain.Event, bool) {
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			ev := o.queue[0]
			o.queue[0] = domain.Event{}
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return ev, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return domain.Event{}, false
		}

		select {
		case <-o.notify:
		case <-ctx.Done():
			return domain.Event{}, false
		}
	}
}

// Len returns the number of undelivered events.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close wakes any waiting reader. Undelivered events are dropped.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.queue = nil
	close(o.notify)
}
