// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package subprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"quorum/platform/orchestrator/provider"
)

// writeScript creates an executable shell script for driving the runner.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "gen.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func descriptorFor(binary string) *provider.Descriptor {
	return &provider.Descriptor{
		ID:         "cli-gen",
		Kind:       provider.KindSubprocess,
		TrustClass: provider.TrustCommunity,
		CostClass:  provider.CostLow,
		Tiers:      []provider.Tier{provider.TierBasic},
		Endpoint:   binary,
		Enabled:    true,
	}
}

func TestNewRejectsMissingBinary(t *testing.T) {
	d := descriptorFor("/nonexistent/binary")
	if _, err := New(d); err == nil {
		t.Fatal("New accepted a missing binary")
	}
}

func TestInvokeJSONOutput(t *testing.T) {
	bin := writeScript(t, `cat >/dev/null
echo '{"text":"structured answer","model":"local-7b","tokens_used":42}'`)

	r, err := New(descriptorFor(bin))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := r.Invoke(context.Background(), provider.Invocation{Prompt: "q"})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if resp.Text != "structured answer" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Model != "local-7b" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d", resp.TokensUsed)
	}
}

func TestInvokePlainTextOutput(t *testing.T) {
	bin := writeScript(t, `cat >/dev/null
echo "plain text answer"`)

	r, err := New(descriptorFor(bin))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := r.Invoke(context.Background(), provider.Invocation{Prompt: "q"})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if resp.Text != "plain text answer" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TokensUsed == 0 {
		t.Error("TokensUsed = 0, want estimate > 0")
	}
}

func TestInvokeReceivesRequestOnStdin(t *testing.T) {
	// The script echoes its stdin back so we can verify the request shape.
	bin := writeScript(t, `cat`)

	r, err := New(descriptorFor(bin))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := r.Invoke(context.Background(), provider.Invocation{
		Prompt: "the question",
		Params: provider.Params{Model: "m1", MaxTokens: 64},
	})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	// The echoed request is valid JSON with a "prompt" field but no "text"
	// field, so it is treated as plain text output.
	for _, want := range []string{`"prompt":"the question"`, `"model":"m1"`, `"max_tokens":64`} {
		if !contains(resp.Text, want) {
			t.Errorf("stdin request missing %s in %q", want, resp.Text)
		}
	}
}

func TestInvokeNonZeroExit(t *testing.T) {
	bin := writeScript(t, `cat >/dev/null
echo "backend exploded" >&2
exit 3`)

	r, err := New(descriptorFor(bin))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_, err = r.Invoke(context.Background(), provider.Invocation{Prompt: "q"})
	var ie *provider.InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want InvocationError", err)
	}
	if ie.Code != provider.ErrCodeInvocation {
		t.Errorf("Code = %s", ie.Code)
	}
	if !contains(ie.Message, "backend exploded") {
		t.Errorf("Message = %q, want stderr content", ie.Message)
	}
}

func TestInvokeDeadlineKillsProcess(t *testing.T) {
	bin := writeScript(t, `cat >/dev/null
sleep 10`)

	r, err := New(descriptorFor(bin))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.Invoke(ctx, provider.Invocation{Prompt: "q"})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Invoke blocked %v past the deadline", elapsed)
	}

	var ie *provider.InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want InvocationError", err)
	}
	if ie.Code != provider.ErrCodeTimeout {
		t.Errorf("Code = %s, want timeout", ie.Code)
	}
}

func TestInvokeEmptyOutput(t *testing.T) {
	bin := writeScript(t, `cat >/dev/null`)

	r, err := New(descriptorFor(bin))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_, err = r.Invoke(context.Background(), provider.Invocation{Prompt: "q"})
	var ie *provider.InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want InvocationError", err)
	}
}

func TestHealthCheck(t *testing.T) {
	bin := writeScript(t, `cat >/dev/null; echo ok`)

	r, err := New(descriptorFor(bin))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := r.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}

	os.Remove(bin)
	if err := r.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck passed for a deleted binary")
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
