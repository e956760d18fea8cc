// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"time"

	"quorum/platform/shared/logger"
)

// Event types published during request processing.
const (
	EventProviderStart    = "provider:start"
	EventProviderComplete = "provider:complete"
	EventConsensusUpdate  = "consensus:update"
)

// Event is one progress notification for an in-flight request.
type Event struct {
	Type       string                 `json:"type"`
	RequestID  string                 `json:"request_id"`
	ProviderID string                 `json:"provider_id,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// EventSink receives progress events. Publish must not block; slow
// consumers drop events rather than stall orchestration.
type EventSink interface {
	Publish(e Event)
}

// NopEvents discards all events.
type NopEvents struct{}

// Publish implements EventSink.
func (NopEvents) Publish(Event) {}

// LogEvents writes events to the structured logger at debug level.
type LogEvents struct {
	Logger *logger.Logger
}

// Publish implements EventSink.
func (s *LogEvents) Publish(e Event) {
	fields := map[string]interface{}{"event": e.Type}
	if e.ProviderID != "" {
		fields["provider_id"] = e.ProviderID
	}
	for k, v := range e.Fields {
		fields[k] = v
	}
	s.Logger.Debug(e.RequestID, "orchestration event", fields)
}
