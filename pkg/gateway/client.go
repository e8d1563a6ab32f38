package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pandalabs/go-panda/internal/httpc"
)

// userAgent identifies the orchestrator to agent services.
const userAgent = "go-panda/0.3"

// maxResponseBytes bounds how much of an agent reply we buffer.
const maxResponseBytes = 4 << 20 // 4MB

// HTTPAgent is the standard AgentClient transport: plain JSON over HTTP
// against the agent's base URL.
type HTTPAgent struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAgent creates a transport for one agent service.
// The client timeout acts as a hard upper bound; Gateway.Call applies
// the tighter per-call context deadline.
func NewHTTPAgent(baseURL string, timeout time.Duration) *HTTPAgent {
	return &HTTPAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpc.NewClient(timeout),
	}
}

// Request implements AgentClient.
func (a *HTTPAgent) Request(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u := a.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("gateway: marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
