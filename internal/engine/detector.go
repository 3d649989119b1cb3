package engine

import (
	"context"

	"github.com/hardbug1/ocr2/internal/imageprep"
)

// ProjectionDetector finds candidate text lines with a horizontal projection
// profile: rows whose dark-pixel count exceeds a fraction of the row width
// belong to a text line, gaps separate lines. Cheap, deterministic, and good
// enough to shrink the recognition surface on document scans.
type ProjectionDetector struct {
	// MinInkRatio is the fraction of dark pixels a row needs to count as
	// part of a text line.
	MinInkRatio float64
	// MinLineHeight drops detections shorter than this many pixels.
	MinLineHeight int
}

// NewProjectionDetector returns a detector with defaults tuned for scanned
// Korean documents.
func NewProjectionDetector() *ProjectionDetector {
	return &ProjectionDetector{
		MinInkRatio:   0.01,
		MinLineHeight: 4,
	}
}

// Detect returns one box per detected text line, full image width, trimmed
// to the ink columns of the line.
func (d *ProjectionDetector) Detect(ctx context.Context, buf *imageprep.Buffer) ([]BoundingBox, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	gray := buf.Gray()
	w, h := gray.Width, gray.Height

	var sum uint64
	for _, v := range gray.Pix {
		sum += uint64(v)
	}
	mean := uint8(sum / uint64(len(gray.Pix)))

	ink := make([]int, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if gray.Pix[y*w+x] < mean {
				ink[y]++
			}
		}
	}

	minInk := int(d.MinInkRatio * float64(w))
	if minInk < 1 {
		minInk = 1
	}

	var boxes []BoundingBox
	lineStart := -1
	for y := 0; y <= h; y++ {
		inLine := y < h && ink[y] >= minInk
		switch {
		case inLine && lineStart < 0:
			lineStart = y
		case !inLine && lineStart >= 0:
			if y-lineStart >= d.MinLineHeight {
				x0, x1 := d.inkColumns(gray, mean, lineStart, y)
				if x1 > x0 {
					boxes = append(boxes, BoundingBox{
						X1: float64(x0), Y1: float64(lineStart),
						X2: float64(x1), Y2: float64(y),
					})
				}
			}
			lineStart = -1
		}
	}
	return boxes, nil
}

// inkColumns trims a line box to the columns that actually contain ink.
func (d *ProjectionDetector) inkColumns(gray *imageprep.Buffer, mean uint8, y0, y1 int) (int, int) {
	w := gray.Width
	first, last := w, -1
	for x := 0; x < w; x++ {
		for y := y0; y < y1; y++ {
			if gray.Pix[y*w+x] < mean {
				if x < first {
					first = x
				}
				if x > last {
					last = x
				}
				break
			}
		}
	}
	if last < 0 {
		return 0, 0
	}
	return first, last + 1
}
