package storage

import (
	"math"
	"testing"
)

func TestSanitizeConfidence(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.5, 0.5},
		{0, 0},
		{1, 1},
		{-0.2, 0},
		{1.7, 1},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
	}
	for _, c := range cases {
		if got := sanitizeConfidence(c.in); got != c.want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
