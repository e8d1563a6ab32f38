package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/pandalabs/go-panda/pkg/protocol"
)

// ErrObserverClosed is returned by Next once an observer is unsubscribed.
var ErrObserverClosed = errors.New("bus: observer closed")

// Observer is one subscriber's view of a session's chunk stream.
// Chunks arrive in publish order, which the pipeline guarantees is
// sequence order per generation.
type Observer struct {
	id        string
	sessionID string
	cap       int

	mu      sync.Mutex
	queue   []protocol.StreamChunk
	closed  bool
	dropped uint64

	// wake has capacity 1 so enqueue never blocks on a reader that is
	// already signalled.
	wake chan struct{}
}

func newObserver(sessionID string, queueCap int) *Observer {
	return &Observer{
		id:        uuid.NewString(),
		sessionID: sessionID,
		cap:       queueCap,
		queue:     make([]protocol.StreamChunk, 0, queueCap),
		wake:      make(chan struct{}, 1),
	}
}

// ID returns the observer's unique handle id.
func (o *Observer) ID() string { return o.id }

// SessionID returns the session this observer is subscribed to.
func (o *Observer) SessionID() string { return o.sessionID }

// Dropped returns how many chunks this observer has shed under backpressure.
func (o *Observer) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Next blocks until a chunk is available, the context ends, or the
// observer is closed.
func (o *Observer) Next(ctx context.Context) (protocol.StreamChunk, error) {
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			chunk := o.queue[0]
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return chunk, nil
		}
		if o.closed {
			o.mu.Unlock()
			return protocol.StreamChunk{}, ErrObserverClosed
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return protocol.StreamChunk{}, ctx.Err()
		case <-o.wake:
		}
	}
}

// enqueue adds a chunk, applying the backpressure policy when full:
// the oldest non-terminal chunk is shed first. Terminal chunks are never
// shed — observers must always learn that a generation ended — so a queue
// holding only terminals grows past capacity rather than lose one.
// Reports whether a chunk was dropped.
func (o *Observer) enqueue(chunk protocol.StreamChunk) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}

	var droppedOne bool
	if len(o.queue) >= o.cap {
		if i := o.oldestNonTerminal(); i >= 0 {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			o.dropped++
			droppedOne = true
		} else if !chunk.Terminal {
			// Nothing evictable and the newcomer is expendable.
			o.dropped++
			o.mu.Unlock()
			return true
		}
	}
	o.queue = append(o.queue, chunk)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return droppedOne
}

// oldestNonTerminal returns the index of the oldest non-terminal queued
// chunk, or -1. Caller must hold o.mu.
func (o *Observer) oldestNonTerminal() int {
	for i, c := range o.queue {
		if !c.Terminal {
			return i
		}
	}
	return -1
}

// close marks the observer closed and wakes any blocked reader.
// Queued chunks remain readable until drained.
func (o *Observer) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}
