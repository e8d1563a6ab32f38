// Package speech provides HTTP clients for the local speech sidecar
// services: a transcription (STT) server and a synthesis (TTS) server.
// Both clients are heavyweight collaborators handed out by the model
// registry, which serializes access to them.
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
)

// Transcriber converts captured audio to text by calling the STT
// sidecar. The service accepts raw audio and returns the transcript.
type Transcriber struct {
	baseURL string
	client  *http.Client
}

// NewTranscriber creates a Transcriber for the given STT service.
func NewTranscriber(baseURL string) *Transcriber {
	// No client-level timeout; the pipeline bounds each call through ctx.
	return &Transcriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpc.NewClient(0),
	}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe sends audio to the STT service and returns the transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcribe", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech: transcribe: status %d", resp.StatusCode)
	}

	var out transcribeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("speech: decode transcript: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
