package live

import (
	"context"
	"sync"
)

// DefaultQueueSize is the per-connection outbound queue bound.
const DefaultQueueSize = 32

// Outbox is a bounded outbound queue for one connection. Push never blocks:
// a newer slide, roster or per-slide aggregate message replaces any queued
// message of the same kind, and when the queue is full the oldest entry is
// dropped to make room.
type Outbox struct {
	mu     sync.Mutex
	queue  []any
	size   int
	closed bool

	ready chan struct{}
	done  chan struct{}
}

func NewOutbox(size int) *Outbox {
	if size < 1 {
		size = DefaultQueueSize
	}

	return &Outbox{
		queue: make([]any, 0, size),
		size:  size,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// coalesceKey identifies messages where only the latest one matters.
func coalesceKey(msg any) string {
	switch m := msg.(type) {
	case SlideChangedMessage:
		return TypeSlideChanged
	case RosterChangedMessage:
		return TypeRosterChanged
	case AggregateUpdatedMessage:
		return TypeAggregateUpdated + ":" + m.SlideID
	}
	return ""
}

// Push queues msg and reports how many queued messages were discarded to
// make room for it. It returns false if the outbox is closed.
func (o *Outbox) Push(msg any) (int, bool) {
	o.mu.Lock()

	if o.closed {
		o.mu.Unlock()
		return 0, false
	}

	dropped := 0

	if key := coalesceKey(msg); key != "" {
		kept := o.queue[:0]
		for _, queued := range o.queue {
			if coalesceKey(queued) == key {
				dropped++
				continue
			}
			kept = append(kept, queued)
		}
		clear(o.queue[len(kept):])
		o.queue = kept
	}

	if len(o.queue) >= o.size {
		o.queue[0] = nil
		o.queue = o.queue[1:]
		dropped++
	}

	o.queue = append(o.queue, msg)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}

	return dropped, true
}

// Next blocks until a message is available, the outbox is closed and
// drained, or ctx is done.
func (o *Outbox) Next(ctx context.Context) (any, error) {
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			msg := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return msg, nil
		}
		closed := o.closed
		o.mu.Unlock()

		if closed {
			return nil, ErrOutboxClosed
		}

		select {
		case <-o.ready:
		case <-o.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops further pushes. Messages already queued are still returned
// by Next.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

// Done is closed once Close has been called.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.queue)
}
