/**
 * Recognition adapter layer
 *
 * Each external recognition engine is wrapped behind one uniform contract so
 * engines can be added or removed declaratively via configuration. Engine
 * handles are not assumed to be safe for concurrent use; Build constructs a
 * fresh set per worker.
 */

package engine

import (
	"context"
	"math"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/imageprep"
)

// BoundingBox is an axis-aligned rectangle in source-image pixel space.
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// Area returns the box area; degenerate boxes have area 0.
func (b BoundingBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// CenterY returns the vertical center, the primary reading-order key.
func (b BoundingBox) CenterY() float64 {
	return (b.Y1 + b.Y2) / 2
}

// Union returns the smallest rectangle enclosing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
		X2: math.Max(b.X2, o.X2),
		Y2: math.Max(b.Y2, o.Y2),
	}
}

// Contains reports whether o lies entirely within b.
func (b BoundingBox) Contains(o BoundingBox) bool {
	return o.X1 >= b.X1 && o.Y1 >= b.Y1 && o.X2 <= b.X2 && o.Y2 <= b.Y2
}

// IoU returns intersection area over union area. Non-overlapping boxes
// score 0.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Translate shifts the box by (dx, dy), mapping region-relative coordinates
// back into source pixel space.
func (b BoundingBox) Translate(dx, dy float64) BoundingBox {
	return BoundingBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Unscale divides coordinates by factor, mapping a scaled-variant box back
// into source pixel space.
func (b BoundingBox) Unscale(factor float64) BoundingBox {
	if factor == 0 || factor == 1 {
		return b
	}
	return BoundingBox{X1: b.X1 / factor, Y1: b.Y1 / factor, X2: b.X2 / factor, Y2: b.Y2 / factor}
}

// Span is one detected text occurrence. Immutable once produced by an
// adapter; fusion never mutates member spans.
type Span struct {
	Text       string
	Box        BoundingBox
	Confidence float64
	Engine     string
}

// Engine is the uniform recognition contract. Recognize never returns a nil
// slice together with a nil error; an engine-internal fault is reported as an
// error and converted upstream into an empty result plus a diagnostic.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, buf *imageprep.Buffer) ([]Span, error)
}

// Detector supplies candidate text regions before recognition. Optional;
// when absent, engines run on the full image.
type Detector interface {
	Detect(ctx context.Context, buf *imageprep.Buffer) ([]BoundingBox, error)
}

// Build constructs one owned engine handle per configured engine. Call once
// per worker; handles are not shared between workers.
func Build(cfg *config.Config) ([]Engine, error) {
	var engines []Engine
	for _, name := range cfg.Engines {
		switch name {
		case "tesseract":
			engines = append(engines, NewTesseractEngine(cfg.TesseractLangs))
		default:
			url, ok := cfg.RemoteEngines[name]
			if !ok {
				return nil, errors.NewConfigurationError("ENGINES", "unknown engine "+name)
			}
			engines = append(engines, NewRemoteEngine(name, url))
		}
	}
	for name, url := range cfg.RemoteEngines {
		if !containsName(engines, name) {
			engines = append(engines, NewRemoteEngine(name, url))
		}
	}
	if len(engines) == 0 {
		return nil, errors.NewConfigurationError("ENGINES", "at least one engine is required")
	}
	return engines, nil
}

// BuildDetector returns the configured region detector, or nil when region
// detection is disabled.
func BuildDetector(cfg *config.Config) (Detector, error) {
	switch cfg.RegionDetector {
	case "":
		return nil, nil
	case "projection":
		return NewProjectionDetector(), nil
	default:
		return nil, errors.NewConfigurationError("REGION_DETECTOR", "unknown detector "+cfg.RegionDetector)
	}
}

func containsName(engines []Engine, name string) bool {
	for _, e := range engines {
		if e.Name() == name {
			return true
		}
	}
	return false
}
