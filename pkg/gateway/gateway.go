// Package gateway mediates all calls to remote agent services (scott,
// penny, sensei, echo). Every call carries its own timeout, and each
// agent sits behind a circuit breaker so one flaky remote cannot starve
// the orchestration loop or incur repeated multi-second waits.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/pandalabs/go-panda/internal/log"
)

// Request is one call to a remote agent.
type Request struct {
	// Method defaults to GET.
	Method string

	// Path is appended to the agent's base URL, e.g. "/articles/top".
	Path string

	// Query parameters, optional.
	Query url.Values

	// Body is JSON-marshaled for POST requests, optional.
	Body any
}

// Response is a successful (2xx) agent reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// AgentClient is the transport for one remote agent.
type AgentClient interface {
	Request(ctx context.Context, req *Request) (*Response, error)
}

// agent pairs a transport with its breaker and default timeout.
type agent struct {
	client  AgentClient
	breaker *breaker
	timeout time.Duration
}

// Options tune breaker behavior for all registered agents.
type Options struct {
	// Threshold is the consecutive-failure count that opens a circuit.
	Threshold int
	// Base is the initial open-circuit backoff.
	Base time.Duration
	// Max caps the exponential backoff.
	Max time.Duration
}

// DefaultOptions match the original deployment: three strikes, then
// back off from 5s up to 5m.
func DefaultOptions() Options {
	return Options{
		Threshold: 3,
		Base:      5 * time.Second,
		Max:       5 * time.Minute,
	}
}

// Gateway owns the health record of every remote agent.
type Gateway struct {
	logger *slog.Logger
	opts   Options

	mu     sync.RWMutex
	agents map[string]*agent
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	if opts.Threshold <= 0 {
		opts = DefaultOptions()
	}
	return &Gateway{
		logger: log.Component("gateway"),
		opts:   opts,
		agents: make(map[string]*agent),
	}
}

// Register adds a remote agent with its transport and per-call timeout.
func (g *Gateway) Register(name string, client AgentClient, timeout time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents[name] = &agent{
		client:  client,
		breaker: newBreaker(name, g.opts.Threshold, g.opts.Base, g.opts.Max),
		timeout: timeout,
	}
}

// Call performs one request against a registered agent. The breaker is
// consulted first: an open circuit rejects immediately with
// ErrCircuitOpen and no network I/O. Timeouts, connection errors, and
// non-2xx responses all count as breaker failures.
func (g *Gateway) Call(ctx context.Context, name string, req *Request) (*Response, error) {
	g.mu.RLock()
	a, ok := g.agents[name]
	g.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAgent
	}

	if err := a.breaker.allow(); err != nil {
		g.logger.Debug("call rejected, circuit open", "agent", name)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.Request(callCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		a.breaker.failure()
		g.logger.Warn("agent call failed",
			"agent", name,
			"path", req.Path,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.breaker.failure()
		statusErr := &StatusError{Agent: name, StatusCode: resp.StatusCode}
		g.logger.Warn("agent returned error status",
			"agent", name,
			"path", req.Path,
			"status", resp.StatusCode,
		)
		return nil, statusErr
	}

	a.breaker.success()
	g.logger.Debug("agent call ok",
		"agent", name,
		"path", req.Path,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// Agents returns the names of all registered agents.
func (g *Gateway) Agents() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.agents))
	for name := range g.agents {
		names = append(names, name)
	}
	return names
}

// Snapshot returns the circuit state of every agent for the diagnostic
// surface.
func (g *Gateway) Snapshot() []AgentStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	statuses := make([]AgentStatus, 0, len(g.agents))
	for _, a := range g.agents {
		statuses = append(statuses, a.breaker.status())
	}
	return statuses
}
