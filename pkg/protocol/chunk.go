// Package protocol defines the stream envelope pushed to observers.
// This package is shared between the orchestration core and UI/voice clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Stage identifies which pipeline stage produced a chunk.
type Stage string

const (
	StageTranscript Stage = "TRANSCRIPT" // speech-to-text result
	StageRouting    Stage = "ROUTING"    // routing decision
	StageText       Stage = "TEXT"       // generated text (token batch)
	StageAudio      Stage = "AUDIO"      // synthesized audio segment
	StageStatus     Stage = "STATUS"     // lifecycle status (done, cancelled)
	StageError      Stage = "ERROR"      // stage or generation failure
)

// MessageType is the outer discriminator of a push message.
type MessageType string

const (
	TypeStream MessageType = "stream"
	TypeStatus MessageType = "status"
	TypeError  MessageType = "error"
)

// StreamChunk is one unit of observable pipeline output.
// Sequence is strictly increasing per (SessionID, Generation), starting at 0.
// Exactly one chunk per generation carries Terminal=true and it is always
// the last chunk of that generation.
type StreamChunk struct {
	Type       MessageType     `json:"type"`
	SessionID  string          `json:"sessionId"`
	Generation uint64          `json:"generation"`
	Sequence   uint64          `json:"sequence"`
	Stage      Stage           `json:"stage"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Terminal   bool            `json:"terminal"`
}

// NewChunk creates a chunk with a marshaled payload.
func NewChunk(sessionID string, generation, sequence uint64, stage Stage, payload any, terminal bool) (StreamChunk, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return StreamChunk{}, fmt.Errorf("protocol: marshal payload: %w", err)
		}
	}

	return StreamChunk{
		Type:       typeFor(stage),
		SessionID:  sessionID,
		Generation: generation,
		Sequence:   sequence,
		Stage:      stage,
		Payload:    raw,
		Terminal:   terminal,
	}, nil
}

// typeFor maps a stage to the outer message type.
func typeFor(stage Stage) MessageType {
	switch stage {
	case StageStatus:
		return TypeStatus
	case StageError:
		return TypeError
	default:
		return TypeStream
	}
}

// Bytes returns the JSON-encoded chunk.
func (c StreamChunk) Bytes() ([]byte, error) {
	return json.Marshal(c)
}

// ParseChunk parses a JSON chunk from bytes.
func ParseChunk(data []byte) (StreamChunk, error) {
	var c StreamChunk
	if err := json.Unmarshal(data, &c); err != nil {
		return StreamChunk{}, fmt.Errorf("protocol: parse chunk: %w", err)
	}
	return c, nil
}

// ParsePayload unmarshals the chunk payload into the provided struct.
func (c StreamChunk) ParsePayload(v any) error {
	if c.Payload == nil {
		return nil
	}
	return json.Unmarshal(c.Payload, v)
}
