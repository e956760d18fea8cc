// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

// Package logger provides structured JSON logging for Quorum services.
//
// Each component creates its own Logger; entries carry the component name,
// instance identifier, and the request ID of the orchestration request being
// served, so that a single request can be traced across the orchestrator,
// provider adapters, and stores.
//
// Usage:
//
//	log := logger.New("orchestrator")
//	log.Info(requestID, "consensus accepted", map[string]interface{}{
//	    "confidence": 0.91,
//	    "agreement":  0.88,
//	})
package logger
