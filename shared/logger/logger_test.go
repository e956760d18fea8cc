// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test-component", &buf)

	l.Info("req-123", "hello", map[string]interface{}{"key": "value"})

	line := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if entry.Level != INFO {
		t.Errorf("level = %s, want INFO", entry.Level)
	}
	if entry.Component != "test-component" {
		t.Errorf("component = %s, want test-component", entry.Component)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("request_id = %s, want req-123", entry.RequestID)
	}
	if entry.Fields["key"] != "value" {
		t.Errorf("fields[key] = %v, want value", entry.Fields["key"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", &buf)
	l.SetLevel(WARN)

	l.Debug("", "suppressed", nil)
	l.Info("", "suppressed", nil)
	l.Warn("", "emitted", nil)
	l.Error("", "emitted", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d: %q", len(lines), buf.String())
	}
}

func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", &buf)

	l.InfoWithDuration("req-1", "done", 42.5, nil)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Fields["duration_ms"] != 42.5 {
		t.Errorf("duration_ms = %v, want 42.5", entry.Fields["duration_ms"])
	}
}
