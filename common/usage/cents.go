// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package usage

import "fmt"

// Costs are stored in cents to avoid floating point issues in the
// database and in aggregation queries.

// USDToCents converts a dollar amount to whole cents, rounding half up.
func USDToCents(usd float64) int {
	return int(usd*100 + 0.5)
}

// FormatCents converts cents to a dollar string (e.g., 135 -> "$1.35").
func FormatCents(cents int) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100.0)
}
