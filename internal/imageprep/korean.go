package imageprep

/**
 * Korean-specific preparation steps
 *
 * Hangul syllable blocks stack choseong/jungseong/jongseong strokes inside
 * one glyph cell. Generic denoising fuses or erases those strokes, and the
 * jongseong (final consonant) in the lower third of the cell is the most
 * common casualty. The steps here counter both failure modes.
 */

// Intensity delta below which neighboring pixels are averaged. Larger deltas
// mark a stroke edge and are left alone.
const strokeEdgeThreshold = 25

// PreserveStrokes smooths background noise while leaving stroke boundaries
// untouched: each pixel averages only the neighbors within
// strokeEdgeThreshold of its own intensity.
func PreserveStrokes(b *Buffer) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	gray := b.Gray()
	out := gray.Clone()
	w, h := gray.Width, gray.Height

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := int(gray.Pix[y*w+x])
			sum := center
			n := 1
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					v := int(gray.Pix[ny*w+nx])
					if abs(v-center) <= strokeEdgeThreshold {
						sum += v
						n++
					}
				}
			}
			out.Pix[y*w+x] = uint8(sum / n)
		}
	}
	return out, nil
}

// EnhanceJongseong raises contrast in the lower third of each glyph cell,
// where final consonants are systematically under-recognized. The result is
// composited onto the grayscale buffer.
func EnhanceJongseong(b *Buffer) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	gray := b.Gray()
	cells := connectedComponents(gray, darkForeground(gray))

	out := gray.Clone()
	for _, cell := range cells {
		// Skip specks and page-sized blobs; neither is a glyph cell.
		cw := cell.x1 - cell.x0
		ch := cell.y1 - cell.y0
		if cw < 3 || ch < 3 || ch > gray.Height/2 {
			continue
		}
		top := cell.y0 + (2*ch)/3
		for y := top; y < cell.y1; y++ {
			for x := cell.x0; x < cell.x1; x++ {
				v := float64(out.Pix[y*out.Width+x])*1.2 + 10
				out.Pix[y*out.Width+x] = clampU8(v)
			}
		}
	}
	return out, nil
}

// Fraction of tiny components above which a glyph is considered fragmented
// into spurious strokes.
const fragmentationThreshold = 0.4

// PreventJamoSeparation applies a light vertical closing, but only when
// connected-component analysis shows above-threshold fragmentation. Clean
// scans pass through unchanged, so strokes of distinct letters never fuse
// needlessly.
func PreventJamoSeparation(b *Buffer) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	gray := b.Gray()
	cells := connectedComponents(gray, darkForeground(gray))
	if len(cells) == 0 {
		return gray, nil
	}

	tiny := 0
	for _, cell := range cells {
		if (cell.x1-cell.x0)*(cell.y1-cell.y0) < 9 {
			tiny++
		}
	}
	if float64(tiny)/float64(len(cells)) <= fragmentationThreshold {
		return gray, nil
	}

	// Close with a 1x2 vertical kernel: reconnects a split jamo without
	// bridging horizontal gaps between letters. Dark text means close is
	// erode-then-dilate in intensity terms.
	closed := dilateGray(erodeGray(gray, 1, 2), 1, 2)
	return closed, nil
}

// erodeGray replaces each pixel with the window minimum (thickens dark
// strokes).
func erodeGray(b *Buffer, kw, kh int) *Buffer {
	return morphGray(b, kw, kh, func(a, v uint8) bool { return v < a })
}

// dilateGray replaces each pixel with the window maximum (thins dark
// strokes).
func dilateGray(b *Buffer, kw, kh int) *Buffer {
	return morphGray(b, kw, kh, func(a, v uint8) bool { return v > a })
}

func morphGray(b *Buffer, kw, kh int, better func(current, candidate uint8) bool) *Buffer {
	out := b.Clone()
	w, h := b.Width, b.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			best := b.Pix[y*w+x]
			for dy := 0; dy < kh; dy++ {
				for dx := 0; dx < kw; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= w || ny >= h {
						continue
					}
					if v := b.Pix[ny*w+nx]; better(best, v) {
						best = v
					}
				}
			}
			out.Pix[y*w+x] = best
		}
	}
	return out
}

type componentBox struct {
	x0, y0, x1, y1 int // half-open
}

// darkForeground returns a predicate marking pixels darker than the global
// mean as text. Works on both binarized and raw grayscale buffers.
func darkForeground(gray *Buffer) func(uint8) bool {
	var sum uint64
	for _, v := range gray.Pix {
		sum += uint64(v)
	}
	mean := uint8(sum / uint64(len(gray.Pix)))
	return func(v uint8) bool { return v < mean }
}

// connectedComponents labels 4-connected foreground regions and returns
// their bounding boxes.
func connectedComponents(gray *Buffer, fg func(uint8) bool) []componentBox {
	w, h := gray.Width, gray.Height
	visited := make([]bool, w*h)
	var boxes []componentBox
	queue := make([]int, 0, 256)

	for start := 0; start < w*h; start++ {
		if visited[start] || !fg(gray.Pix[start]) {
			continue
		}
		box := componentBox{x0: start % w, y0: start / w, x1: start%w + 1, y1: start/w + 1}
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%w, idx/w
			if x < box.x0 {
				box.x0 = x
			}
			if y < box.y0 {
				box.y0 = y
			}
			if x+1 > box.x1 {
				box.x1 = x + 1
			}
			if y+1 > box.y1 {
				box.y1 = y + 1
			}
			for _, next := range []int{idx - 1, idx + 1, idx - w, idx + w} {
				if next < 0 || next >= w*h || visited[next] {
					continue
				}
				// Reject horizontal wraparound.
				if (next == idx-1 && x == 0) || (next == idx+1 && x == w-1) {
					continue
				}
				if fg(gray.Pix[next]) {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		boxes = append(boxes, box)
	}
	return boxes
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampU8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
