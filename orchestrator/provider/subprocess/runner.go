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

// Package subprocess invokes local CLI generator binaries. Each invocation
// spawns one process: the request goes to stdin as JSON, the answer comes
// back on stdout either as JSON or as plain text.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"quorum/platform/orchestrator/provider"
)

// DefaultTimeout bounds a single CLI invocation when the descriptor does
// not set one.
const DefaultTimeout = 60 * time.Second

// maxOutputBytes caps captured stdout/stderr per invocation.
const maxOutputBytes = 4 << 20

// Runner implements the provider invoker contract by spawning a CLI
// binary per invocation. The binary reads a JSON request on stdin and
// writes its answer to stdout.
type Runner struct {
	id      string
	binary  string
	args    []string
	model   string
	timeout time.Duration
}

// New creates a subprocess provider from its descriptor. Endpoint carries
// the binary path.
func New(d *provider.Descriptor) (*Runner, error) {
	if d.Endpoint == "" {
		return nil, fmt.Errorf("subprocess provider %q: binary path is required", d.ID)
	}
	if _, err := exec.LookPath(d.Endpoint); err != nil {
		return nil, fmt.Errorf("subprocess provider %q: binary not found: %w", d.ID, err)
	}

	timeout := DefaultTimeout
	if d.TimeoutSeconds > 0 {
		timeout = time.Duration(d.TimeoutSeconds) * time.Second
	}

	return &Runner{
		id:      d.ID,
		binary:  d.Endpoint,
		args:    append([]string(nil), d.Args...),
		model:   d.Model,
		timeout: timeout,
	}, nil
}

// ID returns the provider instance identifier.
func (r *Runner) ID() string { return r.id }

// Kind returns the invocation path.
func (r *Runner) Kind() provider.InvocationKind { return provider.KindSubprocess }

// cliRequest is the JSON document written to the binary's stdin.
type cliRequest struct {
	Prompt      string   `json:"prompt"`
	Context     []string `json:"context,omitempty"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
}

// cliResponse is the structured output contract. Binaries that emit plain
// text instead are accepted as-is.
type cliResponse struct {
	Text       string `json:"text"`
	Model      string `json:"model,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Invoke spawns the binary and waits for it to finish. Context
// cancellation kills the process.
func (r *Runner) Invoke(ctx context.Context, inv provider.Invocation) (*provider.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	model := inv.Params.Model
	if model == "" {
		model = r.model
	}

	reqJSON, err := json.Marshal(cliRequest{
		Prompt:      inv.Prompt,
		Context:     inv.Context,
		Model:       model,
		MaxTokens:   inv.Params.MaxTokens,
		Temperature: inv.Params.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.binary, r.args...)
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: maxOutputBytes}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: maxOutputBytes}

	err = cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, provider.NewInvocationError(r.id, provider.ErrCodeTimeout,
				fmt.Sprintf("process killed after deadline (%s)", r.binary), ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg = fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), msg)
		}
		return nil, provider.NewInvocationError(r.id, provider.ErrCodeInvocation, msg, err)
	}

	return r.parseOutput(stdout.Bytes(), model)
}

// parseOutput accepts either the structured JSON contract or raw text.
func (r *Runner) parseOutput(out []byte, model string) (*provider.Response, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, provider.NewInvocationError(r.id, provider.ErrCodeInvocation,
			"process produced no output", nil)
	}

	if trimmed[0] == '{' {
		var cr cliResponse
		if err := json.Unmarshal(trimmed, &cr); err == nil && cr.Text != "" {
			if cr.Model == "" {
				cr.Model = model
			}
			if cr.TokensUsed == 0 {
				cr.TokensUsed = estimateTokens(cr.Text)
			}
			return &provider.Response{
				Text:       cr.Text,
				Model:      cr.Model,
				TokensUsed: cr.TokensUsed,
				Truncated:  cr.Truncated,
			}, nil
		}
	}

	text := string(trimmed)
	return &provider.Response{
		Text:       text,
		Model:      model,
		TokensUsed: estimateTokens(text),
	}, nil
}

// HealthCheck verifies the binary still resolves on PATH.
func (r *Runner) HealthCheck(ctx context.Context) error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return provider.NewInvocationError(r.id, provider.ErrCodeUnavailable,
			"binary not found", err)
	}
	return nil
}

// estimateTokens approximates a token count for binaries that do not
// report usage. Roughly four characters per token.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// limitedWriter discards bytes past the limit so a runaway process cannot
// exhaust memory.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}

// Factory returns the invoker factory for subprocess providers.
func Factory() provider.Factory {
	return func(d *provider.Descriptor) (provider.Invoker, error) {
		return New(d)
	}
}

var _ provider.Invoker = (*Runner)(nil)
