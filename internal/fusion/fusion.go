/**
 * Ensemble fusion engine
 *
 * Reconciles possibly-conflicting span sets from several recognition engines
 * into one de-duplicated, reading-ordered result. Spans judged to cover the
 * same physical text region are grouped by IoU with transitive merging, so
 * chained overlaps collapse even when some pairwise IoUs fall marginally
 * below threshold.
 */

package fusion

import (
	"sort"

	"github.com/hardbug1/ocr2/internal/engine"
)

// Config carries the fusion tunables. Zero values fall back to the documented
// defaults so library callers can use Config{} directly.
type Config struct {
	// IoUThreshold is the minimum overlap for two spans to be grouped.
	IoUThreshold float64
	// PrimaryEngine wins confidence ties and carries full weight in
	// confidence aggregation.
	PrimaryEngine string
	// SecondaryDiscount is the aggregation weight of non-primary engines,
	// reflecting inter-engine calibration differences.
	SecondaryDiscount float64
	// ReadingOrderTolerance is the vertical distance within which two spans
	// count as the same text line. Zero derives it from the median span
	// height.
	ReadingOrderTolerance float64
}

const (
	defaultIoUThreshold      = 0.5
	defaultSecondaryDiscount = 0.85
)

// FusedSpan is the merge of one or more recognition spans believed to denote
// the same text. Its box is the union of all member boxes, never an arbitrary
// member's box, so downstream crops keep full fidelity.
type FusedSpan struct {
	Text       string
	Box        engine.BoundingBox
	Confidence float64
	Engines    []string
	Members    []engine.Span
}

// Fuse merges N span sets (one per engine, or per engine and variant) into
// reading-ordered fused spans. All-empty input yields an empty, non-error
// result. The output is invariant under permutation of the input sets.
func Fuse(sets [][]engine.Span, cfg Config) []FusedSpan {
	if cfg.IoUThreshold == 0 {
		cfg.IoUThreshold = defaultIoUThreshold
	}
	if cfg.SecondaryDiscount == 0 {
		cfg.SecondaryDiscount = defaultSecondaryDiscount
	}

	var spans []engine.Span
	for _, set := range sets {
		spans = append(spans, set...)
	}
	if len(spans) == 0 {
		return []FusedSpan{}
	}

	// Canonical span order makes grouping independent of input set order.
	sort.Slice(spans, func(i, j int) bool { return spanLess(spans[i], spans[j]) })

	uf := newUnionFind(len(spans))
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].Box.IoU(spans[j].Box) >= cfg.IoUThreshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]engine.Span)
	for i, s := range spans {
		root := uf.find(i)
		groups[root] = append(groups[root], s)
	}

	fused := make([]FusedSpan, 0, len(groups))
	for _, members := range groups {
		fused = append(fused, resolveGroup(members, cfg))
	}

	sortReadingOrder(fused, cfg.ReadingOrderTolerance)
	return fused
}

// resolveGroup picks the fused text from the top-ranked member and aggregates
// box and confidence over all members. A singleton group passes through with
// its confidence unchanged.
func resolveGroup(members []engine.Span, cfg Config) FusedSpan {
	sort.Slice(members, func(i, j int) bool {
		return rankLess(members[i], members[j], cfg.PrimaryEngine)
	})

	top := members[0]
	box := top.Box
	var weightSum, confSum float64
	engineSet := make(map[string]bool)
	for _, m := range members {
		box = box.Union(m.Box)
		w := cfg.SecondaryDiscount
		if m.Engine == cfg.PrimaryEngine {
			w = 1.0
		}
		weightSum += w
		confSum += w * m.Confidence
		engineSet[m.Engine] = true
	}

	confidence := top.Confidence
	if len(members) > 1 && weightSum > 0 {
		confidence = confSum / weightSum
	}

	engines := make([]string, 0, len(engineSet))
	for name := range engineSet {
		engines = append(engines, name)
	}
	sort.Strings(engines)

	return FusedSpan{
		Text:       top.Text,
		Box:        box,
		Confidence: confidence,
		Engines:    engines,
		Members:    members,
	}
}

// rankLess orders group members for text selection: confidence descending,
// primary engine first on ties, then larger area. The trailing keys exist
// only to make the order total, keeping fusion permutation-invariant.
func rankLess(a, b engine.Span, primary string) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	aPrimary := a.Engine == primary
	bPrimary := b.Engine == primary
	if aPrimary != bPrimary {
		return aPrimary
	}
	if aa, ba := a.Box.Area(), b.Box.Area(); aa != ba {
		return aa > ba
	}
	return spanLess(a, b)
}

// spanLess is an arbitrary but total order over spans.
func spanLess(a, b engine.Span) bool {
	if a.Text != b.Text {
		return a.Text < b.Text
	}
	if a.Engine != b.Engine {
		return a.Engine < b.Engine
	}
	if a.Box.Y1 != b.Box.Y1 {
		return a.Box.Y1 < b.Box.Y1
	}
	if a.Box.X1 != b.Box.X1 {
		return a.Box.X1 < b.Box.X1
	}
	if a.Box.X2 != b.Box.X2 {
		return a.Box.X2 < b.Box.X2
	}
	return a.Box.Y2 < b.Box.Y2
}

// sortReadingOrder sorts top-to-bottom, then left-to-right. Spans are
// clustered into text lines first: a tolerance comparator fed straight into
// a sort is not transitive, and an intransitive less-func lets spans from
// different lines interleave on staggered scans.
func sortReadingOrder(spans []FusedSpan, tolerance float64) {
	if len(spans) < 2 {
		return
	}
	if tolerance <= 0 {
		tolerance = medianHeight(spans) / 2
	}

	sort.Slice(spans, func(i, j int) bool {
		ci, cj := spans[i].Box.CenterY(), spans[j].Box.CenterY()
		if ci != cj {
			return ci < cj
		}
		if spans[i].Box.X1 != spans[j].Box.X1 {
			return spans[i].Box.X1 < spans[j].Box.X1
		}
		return spans[i].Text < spans[j].Text
	})

	// Greedy line assignment against the line's running vertical center.
	type line struct {
		members []FusedSpan
		sum     float64
	}
	var lines []*line
	for _, s := range spans {
		c := s.Box.CenterY()
		if n := len(lines); n > 0 {
			cur := lines[n-1]
			mean := cur.sum / float64(len(cur.members))
			if c-mean <= tolerance {
				cur.members = append(cur.members, s)
				cur.sum += c
				continue
			}
		}
		lines = append(lines, &line{members: []FusedSpan{s}, sum: c})
	}

	i := 0
	for _, ln := range lines {
		sort.Slice(ln.members, func(a, b int) bool {
			if ln.members[a].Box.X1 != ln.members[b].Box.X1 {
				return ln.members[a].Box.X1 < ln.members[b].Box.X1
			}
			return ln.members[a].Text < ln.members[b].Text
		})
		for _, s := range ln.members {
			spans[i] = s
			i++
		}
	}
}

func medianHeight(spans []FusedSpan) float64 {
	if len(spans) == 0 {
		return 0
	}
	heights := make([]float64, len(spans))
	for i, s := range spans {
		heights[i] = s.Box.Y2 - s.Box.Y1
	}
	sort.Float64s(heights)
	return heights[len(heights)/2]
}

// unionFind is a plain disjoint-set with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		if ri < rj {
			u.parent[rj] = ri
		} else {
			u.parent[ri] = rj
		}
	}
}
