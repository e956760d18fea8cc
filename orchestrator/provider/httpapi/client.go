// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi invokes remote completion APIs speaking the messages
// wire format (Anthropic-compatible). One Client wraps one configured
// endpoint and implements the provider invoker contract.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quorum/platform/orchestrator/provider"
)

const (
	// DefaultAPIVersion is the messages API version header value.
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is used when the invocation does not set a limit.
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements the provider invoker contract over an HTTP messages API.
type Client struct {
	id         string
	endpoint   string
	apiKey     string
	apiVersion string
	model      string
	client     HTTPClient
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.client = hc }
}

// WithAPIVersion overrides the API version header.
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

// New creates an HTTP provider from its descriptor.
func New(d *provider.Descriptor, opts ...Option) (*Client, error) {
	if d.Endpoint == "" {
		return nil, fmt.Errorf("http provider %q: endpoint is required", d.ID)
	}
	if d.APIKey == "" {
		return nil, fmt.Errorf("http provider %q: api key is required", d.ID)
	}

	timeout := DefaultTimeout
	if d.TimeoutSeconds > 0 {
		timeout = time.Duration(d.TimeoutSeconds) * time.Second
	}

	c := &Client{
		id:         d.ID,
		endpoint:   strings.TrimRight(d.Endpoint, "/"),
		apiKey:     d.APIKey,
		apiVersion: DefaultAPIVersion,
		model:      d.Model,
		client:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the provider instance identifier.
func (c *Client) ID() string { return c.id }

// Kind returns the invocation path.
func (c *Client) Kind() provider.InvocationKind { return provider.KindHTTP }

// messagesRequest is the messages API request body.
type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the messages API response body.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke performs one generation call against the messages endpoint.
func (c *Client) Invoke(ctx context.Context, inv provider.Invocation) (*provider.Response, error) {
	model := inv.Params.Model
	if model == "" {
		model = c.model
	}

	maxTokens := inv.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "user", Content: inv.Prompt},
		},
	}
	if len(inv.Context) > 0 {
		apiReq.System = strings.Join(inv.Context, "\n\n")
	}
	if inv.Params.Temperature >= 0 {
		t := inv.Params.Temperature
		apiReq.Temperature = &t
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, provider.NewInvocationError(c.id, provider.ErrCodeTimeout, "request deadline exceeded", err)
		}
		return nil, provider.NewInvocationError(c.id, provider.ErrCodeUnavailable, "endpoint unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, c.parseAPIError(resp.StatusCode, body)
	}

	var apiResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, provider.NewInvocationError(c.id, provider.ErrCodeInvocation, "malformed response body", err)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &provider.Response{
		Text:       text.String(),
		Model:      apiResp.Model,
		TokensUsed: apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		Truncated:  apiResp.StopReason == "max_tokens",
	}, nil
}

// HealthCheck performs a minimal one-token completion to verify the
// endpoint accepts our credentials.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Invoke(ctx, provider.Invocation{
		Prompt: "ping",
		Params: provider.Params{MaxTokens: 1},
	})
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.apiVersion)
}

// parseAPIError maps an API error response to an invocation error code.
func (c *Client) parseAPIError(statusCode int, body []byte) error {
	msg := fmt.Sprintf("API returned status %d", statusCode)
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}

	code := provider.ErrCodeInvocation
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		code = provider.ErrCodeAuth
	case statusCode == http.StatusTooManyRequests:
		code = provider.ErrCodeRateLimit
	case statusCode >= 500:
		code = provider.ErrCodeUnavailable
	}
	return provider.NewInvocationError(c.id, code, msg, nil)
}

// Factory returns the invoker factory for HTTP providers.
func Factory(opts ...Option) provider.Factory {
	return func(d *provider.Descriptor) (provider.Invoker, error) {
		return New(d, opts...)
	}
}

var _ provider.Invoker = (*Client)(nil)
