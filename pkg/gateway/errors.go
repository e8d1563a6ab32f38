package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrCircuitOpen is returned when an agent's breaker rejects a call
	// without attempting network I/O.
	ErrCircuitOpen = errors.New("gateway: circuit open")

	// ErrUnknownAgent is returned for a call to an unregistered agent.
	ErrUnknownAgent = errors.New("gateway: unknown agent")
)

// StatusError represents a non-2xx response from an agent.
type StatusError struct {
	Agent      string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway [%s]: status %d: %s", e.Agent, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway [%s]: status %d", e.Agent, e.StatusCode)
}

// IsServerError returns true for 5xx responses.
func (e *StatusError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}
