// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package consensus

import "testing"

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "the answer is forty two", "the answer is forty two", 1.0},
		{"identical ignoring case and punctuation", "The answer, is forty-two.", "the answer is forty-two", 1.0},
		{"disjoint", "alpha beta gamma", "delta epsilon zeta", 0.0},
		{"both empty", "", "", 1.0},
		{"one empty", "something", "", 0.0},
		{"half overlap", "a b c d", "c d e f", 1.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilarityIsSymmetric(t *testing.T) {
	a := "the quick brown fox"
	b := "a quick red fox jumps"
	if Similarity(a, b) != Similarity(b, a) {
		t.Error("Similarity is not symmetric")
	}
}

func TestSimilarityRange(t *testing.T) {
	pairs := [][2]string{
		{"one two three", "three four five"},
		{"x", "x y z"},
		{"hello world", "hello world hello world"},
	}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		if s < 0 || s > 1 {
			t.Errorf("Similarity(%q, %q) = %v out of [0,1]", p[0], p[1], s)
		}
	}
}
