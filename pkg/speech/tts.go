package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pandalabs/go-panda/internal/httpc"
	"github.com/pandalabs/go-panda/pkg/pipeline"
)

// Audio format produced by the TTS sidecar.
const (
	Format     = "pcm16"
	SampleRate = 24000

	// segmentBytes is 100ms of mono 16-bit audio at SampleRate.
	segmentBytes = SampleRate / 10 * 2
)

// Synthesizer converts text to speech by calling the TTS sidecar and
// streaming the raw audio response back in fixed-size segments.
type Synthesizer struct {
	baseURL string
	voice   string
	client  *http.Client
}

// NewSynthesizer creates a Synthesizer for the given TTS service.
func NewSynthesizer(baseURL, voice string) *Synthesizer {
	return &Synthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		voice:   voice,
		client:  httpc.NewClient(0),
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize starts a synthesis request and returns a stream over the
// response audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (pipeline.AudioStream, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: s.voice})
	if err != nil {
		return nil, fmt.Errorf("speech: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("speech: synthesize: status %d", resp.StatusCode)
	}

	return &audioStream{body: resp.Body}, nil
}

// audioStream reads the TTS response body in segmentBytes chunks.
type audioStream struct {
	body io.ReadCloser
	done bool
}

func (a *audioStream) Read() (*pipeline.AudioSegment, error) {
	if a.done {
		return nil, nil
	}

	buf := make([]byte, segmentBytes)
	n, err := io.ReadFull(a.body, buf)
	if err == io.EOF {
		a.done = true
		return nil, nil
	}
	if err == io.ErrUnexpectedEOF {
		a.done = true
	} else if err != nil {
		return nil, fmt.Errorf("speech: read audio: %w", err)
	}

	return &pipeline.AudioSegment{
		Data:       buf[:n],
		Format:     Format,
		SampleRate: SampleRate,
	}, nil
}

func (a *audioStream) Close() error {
	return a.body.Close()
}
