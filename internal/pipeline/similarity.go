package pipeline

import "strings"

// TextSimilarity returns the character-level similarity of two recognition
// outputs in [0, 1]: twice the longest common subsequence length over the
// combined rune count. Whitespace is stripped first so segmentation
// differences do not count against recognition quality. Two empty strings
// are identical.
func TextSimilarity(a, b string) float64 {
	ra := []rune(stripSpace(a))
	rb := []rune(stripSpace(b))

	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	// One-row LCS table keeps memory linear in the shorter text.
	if len(rb) > len(ra) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(rb)+1)
	row := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				row[j] = prev[j-1] + 1
			} else if prev[j] >= row[j-1] {
				row[j] = prev[j]
			} else {
				row[j] = row[j-1]
			}
		}
		prev, row = row, prev
	}

	lcs := prev[len(rb)]
	return 2.0 * float64(lcs) / float64(len(ra)+len(rb))
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
