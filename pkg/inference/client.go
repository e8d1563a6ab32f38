// Package inference streams responses from an OpenAI-compatible chat
// completions endpoint. It is the default Generator for the local-model
// routing target; locally hosted runtimes (Ollama, vLLM, llama.cpp) and
// the hosted OpenAI API all speak this protocol.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pandalabs/go-panda/pkg/gateway"
	"github.com/pandalabs/go-panda/pkg/pipeline"
)

const systemPrompt = "You are PANDA, a helpful voice assistant. Answer briefly " +
	"and conversationally; the reply will be spoken aloud."

// Client talks to one chat completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// New creates a Client for the given endpoint. The HTTP client carries no
// timeout of its own; callers bound requests through the context.
func New(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Generate opens a streaming completion for the prompt. Retrieved
// snippets are folded into the system message as context.
func (c *Client) Generate(ctx context.Context, prompt string, snippets []pipeline.Snippet) (pipeline.TokenStream, error) {
	system := systemPrompt
	if len(snippets) > 0 {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\nRelevant context:\n")
		for _, s := range snippets {
			sb.WriteString("- ")
			sb.WriteString(s.Text)
			sb.WriteString("\n")
		}
		system = sb.String()
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &gateway.StatusError{
			Agent:      "model",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	return &sseStream{
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
	}, nil
}

// sseStream implements pipeline.TokenStream over an SSE response body.
type sseStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (s *sseStream) Recv() (*pipeline.TokenBatch, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			return &pipeline.TokenBatch{Done: true}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return &pipeline.TokenBatch{Done: true}, nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// Skip malformed events
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		return &pipeline.TokenBatch{
			Text: choice.Delta.Content,
			Done: choice.FinishReason != "",
		}, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
