// Package pipeline executes the ordered stages of one generation:
// transcribe, retrieve context, route, generate, synthesize. Stages call
// external collaborators through narrow interfaces and emit one
// StreamChunk per meaningful unit of output onto the broadcast bus.
package pipeline

import (
	"context"
)

// Transcriber converts captured audio to text (speech-to-text engine).
// Instances are heavyweight and come out of the model registry.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Snippet is one retrieved memory fragment.
type Snippet struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// Retriever searches the memory store for context relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// TokenBatch is a piece of a streaming model response.
type TokenBatch struct {
	// Text is the incremental content.
	Text string

	// Done is true when the stream is complete.
	Done bool
}

// TokenStream is a streaming generation response.
type TokenStream interface {
	// Recv returns the next batch. A batch with Done=true ends the stream.
	Recv() (*TokenBatch, error)

	// Close stops the stream and releases resources.
	Close() error
}

// Generator produces a streamed model response for a prompt with
// retrieved context.
type Generator interface {
	Generate(ctx context.Context, prompt string, snippets []Snippet) (TokenStream, error)
}

// AudioSegment is one chunk of synthesized speech.
type AudioSegment struct {
	// Data is raw audio in the stated format.
	Data []byte

	// Format names the encoding, e.g. "pcm16".
	Format string

	// SampleRate in Hz.
	SampleRate int
}

// AudioStream is a streaming synthesis response.
// Read returns nil data when the stream is complete (not an error).
type AudioStream interface {
	Read() (*AudioSegment, error)
	Close() error
}

// Synthesizer converts text to streamed speech audio (text-to-speech
// engine). Instances are heavyweight and come out of the model registry.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}
