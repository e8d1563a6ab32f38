// Package bus provides the broadcast fan-out from pipeline executions to
// connected observers (UI tabs, voice speakers). One session may have any
// number of observers; each observer has its own bounded queue so a slow
// websocket never blocks the pipeline or other observers.
package bus

import (
	"log/slog"
	"sync"

	"github.com/pandalabs/go-panda/internal/log"
	"github.com/pandalabs/go-panda/pkg/protocol"
)

// DefaultQueueCap is the per-observer queue capacity when none is configured.
const DefaultQueueCap = 64

// Bus fans chunks out to all observers subscribed to a session.
type Bus struct {
	logger   *slog.Logger
	queueCap int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState tracks the observers and the newest generation seen for
// one session. Chunks from older generations are dropped, not queued.
type sessionState struct {
	latestGen uint64
	sawGen    bool
	observers map[*Observer]struct{}
}

// New creates a Bus with the given per-observer queue capacity.
// A capacity <= 0 uses DefaultQueueCap.
func New(queueCap int) *Bus {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &Bus{
		logger:   log.Component("bus"),
		queueCap: queueCap,
		sessions: make(map[string]*sessionState),
	}
}

// Subscribe registers a new observer for a session.
func (b *Bus) Subscribe(sessionID string) *Observer {
	obs := newObserver(sessionID, b.queueCap)

	b.mu.Lock()
	ss := b.session(sessionID)
	ss.observers[obs] = struct{}{}
	count := len(ss.observers)
	b.mu.Unlock()

	b.logger.Debug("observer subscribed", "session", sessionID, "observers", count)
	return obs
}

// Unsubscribe removes an observer and closes it.
func (b *Bus) Unsubscribe(obs *Observer) {
	b.mu.Lock()
	if ss, ok := b.sessions[obs.sessionID]; ok {
		delete(ss.observers, obs)
	}
	b.mu.Unlock()

	obs.close()
	b.logger.Debug("observer unsubscribed", "session", obs.sessionID)
}

// Publish delivers a chunk to every observer of its session.
// It never blocks: full observer queues shed their oldest non-terminal
// chunk. Chunks belonging to a superseded generation are dropped so no
// observer sees stale output after a newer generation has started.
func (b *Bus) Publish(chunk protocol.StreamChunk) {
	b.mu.Lock()
	ss := b.session(chunk.SessionID)

	if ss.sawGen && chunk.Generation < ss.latestGen {
		b.mu.Unlock()
		b.logger.Debug("dropped stale chunk",
			"session", chunk.SessionID,
			"generation", chunk.Generation,
			"latest", ss.latestGen,
		)
		return
	}
	ss.latestGen = chunk.Generation
	ss.sawGen = true

	// Enqueue while still holding b.mu. Two publishes racing here could
	// otherwise interleave so that a chunk which passed the staleness
	// check above lands in an observer's queue after a newer generation's
	// first chunk. enqueue never blocks, so holding the lock is safe.
	var full []*Observer
	for obs := range ss.observers {
		if dropped := obs.enqueue(chunk); dropped {
			full = append(full, obs)
		}
	}
	b.mu.Unlock()

	for _, obs := range full {
		b.logger.Warn("observer queue full, dropped oldest chunk",
			"session", chunk.SessionID,
			"observer", obs.id,
		)
	}
}

// Forget releases all bookkeeping for a session. Remaining observers are
// closed. Called by the orchestrator when a session expires.
func (b *Bus) Forget(sessionID string) {
	b.mu.Lock()
	ss := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	if ss == nil {
		return
	}
	for obs := range ss.observers {
		obs.close()
	}
}

// ObserverCount returns the number of observers subscribed to a session.
func (b *Bus) ObserverCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ss, ok := b.sessions[sessionID]; ok {
		return len(ss.observers)
	}
	return 0
}

// session returns the state for sessionID, creating it if needed.
// Caller must hold b.mu.
func (b *Bus) session(sessionID string) *sessionState {
	ss, ok := b.sessions[sessionID]
	if !ok {
		ss = &sessionState{observers: make(map[*Observer]struct{})}
		b.sessions[sessionID] = ss
	}
	return ss
}
