package pipeline

import (
	"context"
	"errors"
	"net"

	"github.com/pandalabs/go-panda/pkg/gateway"
	"github.com/pandalabs/go-panda/pkg/protocol"
	"github.com/pandalabs/go-panda/pkg/registry"
)

// classify maps a stage error to a stable kind for ERROR payloads and
// the retry policy: transient errors are retried once per stage, the
// rest terminate the generation immediately.
func classify(err error) string {
	switch {
	case errors.Is(err, gateway.ErrCircuitOpen):
		return protocol.ErrKindCircuitOpen
	case errors.Is(err, registry.ErrModelUnavailable):
		return protocol.ErrKindModelUnavailable
	case isTransient(err):
		return protocol.ErrKindTransient
	default:
		return protocol.ErrKindInternal
	}
}

// isTransient reports whether an error is worth one fresh attempt:
// timeouts, connection failures, and 5xx agent replies.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.IsServerError()
	}
	return false
}
