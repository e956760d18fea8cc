// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package consensus

import "strings"

// Similarity computes word-level Jaccard similarity between two answers.
// Identical token sets score 1.0, disjoint sets 0.0. Two empty answers
// are considered identical.
func Similarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)

	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range ta {
		if tb[w] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// tokenize lowercases the text and splits it into a word set, stripping
// punctuation at word boundaries.
func tokenize(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w != "" {
			set[w] = true
		}
	}
	return set
}
