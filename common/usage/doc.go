// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

// Package usage records per-request and per-invocation usage events for
// billing and capacity reporting. Events are written to PostgreSQL;
// deployments without a database use the no-op recorder.
package usage
