// Package registry manages heavyweight local model instances (STT and TTS
// engines). Instances are lazily created once, shared process-wide, and
// guarded by an exclusive execution slot because the underlying engines are
// not reentrant and are too expensive to instantiate per request.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pandalabs/go-panda/internal/log"
)

// Kind identifies a heavyweight collaborator.
type Kind string

const (
	KindSTT Kind = "stt"
	KindTTS Kind = "tts"
)

// State is the lifecycle state of a model handle.
type State string

const (
	StateUnloaded State = "UNLOADED"
	StateLoading  State = "LOADING"
	StateReady    State = "READY"
	StateFailed   State = "FAILED"
)

// ErrModelUnavailable is returned once a model's load has failed.
// The failure is permanent for the process lifetime: every subsequent
// Acquire fails fast instead of retrying the load.
var ErrModelUnavailable = errors.New("registry: model unavailable")

// Loader creates the underlying engine instance for a kind. It runs at
// most once per kind unless the load ends in cancellation, which leaves
// the handle retryable instead of FAILED.
type Loader func(ctx context.Context, kind Kind) (any, error)

// Handle is a cached model instance with its exclusive execution slot.
type Handle struct {
	kind   Kind
	device string

	mu       sync.Mutex
	state    State
	instance any
	loadErr  error
	loadedAt time.Time

	// slot is a capacity-1 semaphore: at most one in-flight inference.
	slot chan struct{}
}

// Kind returns the collaborator kind this handle caches.
func (h *Handle) Kind() Kind { return h.kind }

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Registry owns all model handles for the process.
type Registry struct {
	logger *slog.Logger
	loader Loader
	device string

	group singleflight.Group

	mu      sync.Mutex
	handles map[Kind]*Handle
}

// New creates a Registry. device is recorded on every handle for the
// diagnostic surface (e.g. "cpu", "cuda").
func New(loader Loader, device string) *Registry {
	return &Registry{
		logger:  log.Component("registry"),
		loader:  loader,
		device:  device,
		handles: make(map[Kind]*Handle),
	}
}

// Acquire returns the handle for kind, loading the instance on first use.
// Concurrent callers during LOADING share a single load. A failed load is
// permanent: the handle stays FAILED and Acquire fails fast.
func (r *Registry) Acquire(ctx context.Context, kind Kind) (*Handle, error) {
	h := r.handle(kind)

	h.mu.Lock()
	switch h.state {
	case StateReady:
		h.mu.Unlock()
		return h, nil
	case StateFailed:
		err := h.loadErr
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, kind, err)
	}
	h.mu.Unlock()

	// singleflight guarantees one in-flight load per kind; latecomers
	// block here and share the outcome.
	_, err, _ := r.group.Do(string(kind), func() (any, error) {
		return r.load(ctx, h)
	})
	if err != nil {
		// A cancelled load is the caller's cancellation, not a model
		// failure.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, kind, err)
	}
	return h, nil
}

// load runs the loader exactly once for a handle.
func (r *Registry) load(ctx context.Context, h *Handle) (any, error) {
	h.mu.Lock()
	// A loser of a singleflight race can arrive after the winner finished.
	switch h.state {
	case StateReady:
		h.mu.Unlock()
		return h.instance, nil
	case StateFailed:
		err := h.loadErr
		h.mu.Unlock()
		return nil, err
	}
	h.state = StateLoading
	h.mu.Unlock()

	r.logger.Info("loading model", "kind", h.kind, "device", h.device)
	start := time.Now()
	// The instance is a process-wide singleton shared by every waiter,
	// so the first acquirer's cancellation must not abort the load they
	// all depend on.
	instance, err := r.loader(context.WithoutCancel(ctx), h.kind)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Leave the handle retryable; cancellation is not a model
			// failure.
			h.state = StateUnloaded
			return nil, err
		}
		h.state = StateFailed
		h.loadErr = err
		r.logger.Error("model load failed", "kind", h.kind, "error", err)
		return nil, err
	}
	h.state = StateReady
	h.instance = instance
	h.loadedAt = time.Now()
	r.logger.Info("model ready", "kind", h.kind, "load_ms", time.Since(start).Milliseconds())
	return instance, nil
}

// WithExclusive runs fn with the handle's instance while holding its
// exclusive slot. A second caller waits until the first inference
// completes or its context ends.
func (r *Registry) WithExclusive(ctx context.Context, h *Handle, fn func(instance any) error) error {
	h.mu.Lock()
	if h.state != StateReady {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s not ready", ErrModelUnavailable, h.kind)
	}
	instance := h.instance
	h.mu.Unlock()

	select {
	case h.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.slot }()

	return fn(instance)
}

// HandleStatus describes one handle for the diagnostic surface.
type HandleStatus struct {
	Kind     Kind      `json:"kind"`
	Device   string    `json:"device"`
	State    State     `json:"state"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
}

// Snapshot returns the state of every handle created so far.
func (r *Registry) Snapshot() []HandleStatus {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	statuses := make([]HandleStatus, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		statuses = append(statuses, HandleStatus{
			Kind:     h.kind,
			Device:   h.device,
			State:    h.state,
			LoadedAt: h.loadedAt,
		})
		h.mu.Unlock()
	}
	return statuses
}

// handle returns the Handle for kind, creating it UNLOADED if unseen.
func (r *Registry) handle(kind Kind) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[kind]
	if !ok {
		h = &Handle{
			kind:   kind,
			device: r.device,
			state:  StateUnloaded,
			slot:   make(chan struct{}, 1),
		}
		r.handles[kind] = h
	}
	return h
}
