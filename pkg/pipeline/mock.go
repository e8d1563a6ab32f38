package pipeline

import (
	"context"
	"strings"
)

// MockTranscriber implements Transcriber for testing.
type MockTranscriber struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns a fixed transcript.
	TranscribeFunc func(ctx context.Context, audio []byte) (string, error)
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio)
	}
	return "mock transcript", nil
}

// MockRetriever implements Retriever for testing.
type MockRetriever struct {
	// SearchFunc is called when Search is invoked.
	// If nil, returns no snippets.
	SearchFunc func(ctx context.Context, query string, limit int) ([]Snippet, error)
}

func (m *MockRetriever) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, limit)
	}
	return nil, nil
}

// MockGenerator implements Generator for testing. By default it streams
// the response word by word, one batch per word.
type MockGenerator struct {
	// Response is the full text to stream when GenerateFunc is nil.
	Response string

	// GenerateFunc overrides the default behavior entirely.
	GenerateFunc func(ctx context.Context, prompt string, snippets []Snippet) (TokenStream, error)
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, snippets []Snippet) (TokenStream, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, snippets)
	}
	response := m.Response
	if response == "" {
		response = "mock response"
	}
	return &sliceTokenStream{words: strings.Fields(response)}, nil
}

// sliceTokenStream replays a fixed word list as token batches.
type sliceTokenStream struct {
	words []string
	pos   int
}

func (s *sliceTokenStream) Recv() (*TokenBatch, error) {
	if s.pos >= len(s.words) {
		return &TokenBatch{Done: true}, nil
	}
	text := s.words[s.pos]
	if s.pos > 0 {
		text = " " + text
	}
	s.pos++
	return &TokenBatch{Text: text}, nil
}

func (s *sliceTokenStream) Close() error { return nil }

// MockSynthesizer implements Synthesizer for testing. By default it
// streams one small PCM16 segment per sentence-ish piece of text.
type MockSynthesizer struct {
	// SynthesizeFunc overrides the default behavior entirely.
	SynthesizeFunc func(ctx context.Context, text string) (AudioStream, error)

	// Segments controls how many segments the default stream yields.
	Segments int
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (AudioStream, error) {
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	n := m.Segments
	if n <= 0 {
		n = 2
	}
	return &sliceAudioStream{remaining: n}, nil
}

// sliceAudioStream yields a fixed number of silent segments.
type sliceAudioStream struct {
	remaining int
}

func (s *sliceAudioStream) Read() (*AudioSegment, error) {
	if s.remaining <= 0 {
		return nil, nil
	}
	s.remaining--
	return &AudioSegment{
		Data:       make([]byte, 320), // 10ms of silence at 16kHz PCM16
		Format:     "pcm16",
		SampleRate: 16000,
	}, nil
}

func (s *sliceAudioStream) Close() error { return nil }
