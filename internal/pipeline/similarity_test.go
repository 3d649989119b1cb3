package pipeline

import (
	"math"
	"testing"
)

func TestTextSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"안녕하세요", "", 0.0},
		{"안녕하세요", "안녕하세요", 1.0},
		// Whitespace segmentation differences are ignored.
		{"안녕 하세요", "안녕하세요", 1.0},
		// One of five syllables misread: LCS 4, total 10.
		{"안녕하세요", "안녕하세조", 0.8},
		// Completely disjoint texts.
		{"가나다", "xyz", 0.0},
	}
	for _, c := range cases {
		if got := TextSimilarity(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("TextSimilarity(%q, %q) = %f, want %f", c.a, c.b, got, c.want)
		}
	}
}

func TestTextSimilaritySymmetric(t *testing.T) {
	a, b := "서울시 강남구 테헤란로", "서물시 강남구"
	if TextSimilarity(a, b) != TextSimilarity(b, a) {
		t.Error("similarity must be symmetric")
	}
}
