// Package orchestrator owns session lifecycle: at most one active
// generation per session, preemption of in-flight generations when a new
// utterance arrives, and a bounded worker pool so pipeline executions
// never run unbounded.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pandalabs/go-panda/internal/log"
	"github.com/pandalabs/go-panda/pkg/bus"
	"github.com/pandalabs/go-panda/pkg/pipeline"
)

// SessionState is the lifecycle state of one session.
type SessionState string

const (
	StateIdle       SessionState = "IDLE"
	StateActive     SessionState = "ACTIVE"
	StateCancelling SessionState = "CANCELLING"
)

// ErrEmptyUtterance rejects submissions with nothing to process.
var ErrEmptyUtterance = errors.New("orchestrator: empty utterance")

// ErrStopped rejects submissions after shutdown began.
var ErrStopped = errors.New("orchestrator: stopped")

// session is one conversation's state. Owned exclusively by the
// orchestrator; all fields are guarded by the orchestrator mutex.
type session struct {
	id           string
	state        SessionState
	generation   uint64
	cancel       context.CancelFunc
	lastActivity time.Time
}

// Runner executes one generation end to end. Satisfied by
// *pipeline.Executor.
type Runner interface {
	Run(ctx context.Context, sessionID string, generation uint64, utt pipeline.Utterance)
}

// Orchestrator is the session/request lifecycle manager.
type Orchestrator struct {
	logger *slog.Logger
	runner Runner
	bus    *bus.Bus
	ttl    time.Duration

	// pool bounds concurrent pipeline executions.
	pool chan struct{}

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
}

// New creates an Orchestrator. poolSize bounds concurrent generations
// across all sessions; ttl is how long an idle session survives before
// the reaper forgets it.
func New(runner Runner, b *bus.Bus, poolSize int, ttl time.Duration) *Orchestrator {
	if poolSize <= 0 {
		poolSize = 8
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		logger:   log.Component("orchestrator"),
		runner:   runner,
		bus:      b,
		ttl:      ttl,
		pool:     make(chan struct{}, poolSize),
		baseCtx:  baseCtx,
		stop:     stop,
		sessions: make(map[string]*session),
	}
}

// Start launches the idle-session reaper.
func (o *Orchestrator) Start() {
	if o.ttl > 0 {
		go o.reap()
	}
}

// Stop cancels every in-flight generation and rejects further
// submissions.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	for _, s := range o.sessions {
		if s.cancel != nil {
			s.cancel()
		}
	}
	o.mu.Unlock()
	o.stop()
}

// Submit hands an utterance to a session, preempting any generation
// already in flight: the previous generation's cancel token is
// invalidated before the new run starts, so at most one execution holds
// the current token. Returns the new generation number immediately;
// progress is observed through the bus.
func (o *Orchestrator) Submit(sessionID string, utt pipeline.Utterance) (uint64, error) {
	if utt.Text == "" && len(utt.Audio) == 0 {
		return 0, ErrEmptyUtterance
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return 0, ErrStopped
	}

	s, ok := o.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID, state: StateIdle}
		o.sessions[sessionID] = s
	}

	// Invalidate the previous generation's token before starting the
	// new run.
	if s.cancel != nil {
		s.cancel()
	}

	s.generation++
	generation := s.generation
	ctx, cancel := context.WithCancel(o.baseCtx)
	s.cancel = cancel
	s.state = StateActive
	s.lastActivity = time.Now()
	o.mu.Unlock()

	o.logger.Info("generation submitted", "session", sessionID, "generation", generation)
	go o.run(ctx, cancel, s, generation, utt)
	return generation, nil
}

// run executes one generation on the worker pool and returns the
// session to IDLE when its own generation finishes.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, s *session, generation uint64, utt pipeline.Utterance) {
	// Release this generation's context once the run ends, whether it
	// completed or was preempted; otherwise every finished generation
	// stays registered on baseCtx for the process lifetime.
	defer cancel()

	// A run preempted while queued still executes: the pipeline sees
	// the dead token immediately and emits the terminal cancelled chunk
	// observers are owed.
	select {
	case o.pool <- struct{}{}:
		defer func() { <-o.pool }()
	case <-ctx.Done():
	}

	o.runner.Run(ctx, s.id, generation, utt)

	o.mu.Lock()
	if s.generation == generation {
		s.state = StateIdle
		s.lastActivity = time.Now()
	}
	o.mu.Unlock()
}

// Cancel invalidates the current generation's token without starting a
// new one. Reports whether an active generation was cancelled.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok || s.state != StateActive || s.cancel == nil {
		return false
	}
	s.cancel()
	s.state = StateCancelling
	s.lastActivity = time.Now()
	o.logger.Info("generation cancelled", "session", sessionID, "generation", s.generation)
	return true
}

// SessionStatus describes one session for the diagnostic surface.
type SessionStatus struct {
	ID           string       `json:"id"`
	State        SessionState `json:"state"`
	Generation   uint64       `json:"generation"`
	LastActivity time.Time    `json:"last_activity"`
}

// Session returns a session's status.
func (o *Orchestrator) Session(sessionID string) (SessionStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return SessionStatus{}, false
	}
	return statusOf(s), true
}

// Snapshot returns the status of every live session.
func (o *Orchestrator) Snapshot() []SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SessionStatus, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, statusOf(s))
	}
	return out
}

func statusOf(s *session) SessionStatus {
	return SessionStatus{
		ID:           s.id,
		State:        s.state,
		Generation:   s.generation,
		LastActivity: s.lastActivity,
	}
}

// reap periodically forgets sessions idle past the TTL, releasing their
// bus bookkeeping too.
func (o *Orchestrator) reap() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-o.baseCtx.Done():
			return
		case now := <-ticker.C:
			o.reapOnce(now)
		}
	}
}

// reapOnce deletes sessions idle past the TTL, cancelling any context
// they still hold and releasing their bus bookkeeping.
func (o *Orchestrator) reapOnce(now time.Time) {
	var expired []string
	o.mu.Lock()
	for id, s := range o.sessions {
		if s.state == StateIdle && now.Sub(s.lastActivity) > o.ttl {
			if s.cancel != nil {
				s.cancel()
			}
			delete(o.sessions, id)
			expired = append(expired, id)
		}
	}
	o.mu.Unlock()

	for _, id := range expired {
		o.bus.Forget(id)
		o.logger.Info("session expired", "session", id)
	}
}
