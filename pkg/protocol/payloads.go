package protocol

// TranscriptPayload carries the speech-to-text result.
type TranscriptPayload struct {
	Text string `json:"text"`
}

// RoutingPayload carries the routing decision for a generation.
type RoutingPayload struct {
	Target     string  `json:"target"` // "local", "agent", "model"
	Agent      string  `json:"agent,omitempty"`
	Confidence float64 `json:"confidence"`
}

// TextPayload carries one generated token batch.
type TextPayload struct {
	Text string `json:"text"`
}

// AudioPayload carries one synthesized audio segment.
type AudioPayload struct {
	Format     string `json:"format"`      // e.g. "pcm16"
	SampleRate int    `json:"sample_rate"` // e.g. 24000
	Data       string `json:"data"`        // base64 encoded
}

// StatusPayload carries generation lifecycle events.
type StatusPayload struct {
	Status string `json:"status"` // "done", "cancelled"
}

// Generation lifecycle statuses.
const (
	StatusDone      = "done"
	StatusCancelled = "cancelled"
)

// ErrorPayload carries a stable error kind plus a human-readable message.
// On a non-terminal ERROR chunk the stage is being retried and restarts
// its output: observers should discard TEXT received since the stage
// began.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Stable error kinds surfaced to observers.
const (
	ErrKindTransient        = "transient"
	ErrKindCircuitOpen      = "circuit_open"
	ErrKindModelUnavailable = "model_unavailable"
	ErrKindInternal         = "internal"
)
