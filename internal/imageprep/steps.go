package imageprep

import (
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/logging"
)

// Step is a pure buffer-to-buffer transform.
type Step struct {
	Name  string
	Apply func(*Buffer) (*Buffer, error)
}

// StageConfig selects and parameterizes the ordered transform chain.
type StageConfig struct {
	Steps               []string
	BinarizeWindow      int
	BinarizeSensitivity float64
}

// Stage composes a configured ordered subset of preparation steps.
type Stage struct {
	steps []Step
	log   *logging.Logger
}

// Target band for the longer image edge. Below the band small glyphs lose
// stroke detail; above it recognition slows down with no accuracy gain.
const (
	normalizeMinEdge = 1200
	normalizeMaxEdge = 1600
)

// NewStage resolves step names against the registry. Unknown names are a
// configuration error, caught before any image is processed.
func NewStage(cfg StageConfig, log *logging.Logger) (*Stage, error) {
	window := cfg.BinarizeWindow
	if window < 3 {
		window = 25
	}
	sensitivity := cfg.BinarizeSensitivity
	if sensitivity == 0 {
		sensitivity = 0.2
	}

	registry := map[string]func(*Buffer) (*Buffer, error){
		"normalize":               Normalize,
		"grayscale":               Grayscale,
		"enhance_contrast":        EnhanceContrast,
		"preserve_strokes":        PreserveStrokes,
		"enhance_jongseong":       EnhanceJongseong,
		"sharpen":                 Sharpen,
		"prevent_jamo_separation": PreventJamoSeparation,
		"binarize_adaptive": func(b *Buffer) (*Buffer, error) {
			return BinarizeAdaptive(b, window, sensitivity)
		},
	}

	stage := &Stage{log: log}
	for _, name := range cfg.Steps {
		fn, ok := registry[name]
		if !ok {
			return nil, errors.NewConfigurationError("PREPROCESSING_STEPS", "unknown step "+name)
		}
		stage.steps = append(stage.steps, Step{Name: name, Apply: fn})
	}
	return stage, nil
}

// Run executes the chain. Unrecoverable input conditions abort; any other
// step failure degrades gracefully by carrying the previous buffer forward.
func (s *Stage) Run(buf *Buffer) (*Buffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}

	current := buf
	for _, step := range s.steps {
		next, err := step.Apply(current)
		if err != nil {
			if errors.IsInvalidImage(err) {
				return nil, err
			}
			if s.log != nil {
				s.log.Warn("preparation step failed, continuing with previous buffer",
					"step", step.Name, "error", err)
			}
			continue
		}
		current = next
	}
	return current, nil
}

// Normalize rescales the image so its longer edge falls within the target
// band, preserving aspect ratio. Images already inside the band are copied
// unchanged.
func Normalize(b *Buffer) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	longer := b.Width
	if b.Height > longer {
		longer = b.Height
	}

	var scale float64
	var filter imaging.ResampleFilter
	switch {
	case longer < normalizeMinEdge:
		scale = float64(normalizeMinEdge) / float64(longer)
		filter = imaging.CatmullRom
	case longer > normalizeMaxEdge:
		scale = float64(normalizeMaxEdge) / float64(longer)
		filter = imaging.Lanczos
	default:
		return b.Clone(), nil
	}

	w := int(float64(b.Width)*scale + 0.5)
	h := int(float64(b.Height)*scale + 0.5)
	resized := imaging.Resize(b.ToImage(), w, h, filter)
	out, err := FromImage(resized)
	if err != nil {
		return nil, err
	}
	if b.Channels == 1 {
		return out.Gray(), nil
	}
	return out, nil
}

// Grayscale collapses the buffer to the luminance channel.
func Grayscale(b *Buffer) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b.Gray(), nil
}

// EnhanceContrast applies localized histogram equalization on the luminance
// channel only. For color input the chrominance planes pass through
// untouched, so saturated regions do not shift hue.
func EnhanceContrast(b *Buffer) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	if b.Channels == 1 {
		out := b.Clone()
		equalizeTiles(out.Pix, out.Width, out.Height, 8, 3.0)
		return out, nil
	}

	n := b.Width * b.Height
	luma := make([]uint8, n)
	cb := make([]uint8, n)
	cr := make([]uint8, n)
	for i := 0; i < n; i++ {
		y, pb, pr := color.RGBToYCbCr(b.Pix[i*3], b.Pix[i*3+1], b.Pix[i*3+2])
		luma[i], cb[i], cr[i] = y, pb, pr
	}

	equalizeTiles(luma, b.Width, b.Height, 8, 3.0)

	out := b.Clone()
	for i := 0; i < n; i++ {
		r, g, bl := color.YCbCrToRGB(luma[i], cb[i], cr[i])
		out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = r, g, bl
	}
	return out, nil
}

// equalizeTiles performs clip-limited histogram equalization over a grid of
// tiles. clip is the multiple of the mean bin height at which the histogram
// is truncated; the excess is spread evenly over all bins.
func equalizeTiles(pix []uint8, width, height, grid int, clip float64) {
	tileW := (width + grid - 1) / grid
	tileH := (height + grid - 1) / grid

	for ty := 0; ty < height; ty += tileH {
		for tx := 0; tx < width; tx += tileW {
			x1 := tx + tileW
			if x1 > width {
				x1 = width
			}
			y1 := ty + tileH
			if y1 > height {
				y1 = height
			}
			equalizeRegion(pix, width, tx, ty, x1, y1, clip)
		}
	}
}

func equalizeRegion(pix []uint8, stride, x0, y0, x1, y1 int, clip float64) {
	var hist [256]int
	count := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[pix[y*stride+x]]++
			count++
		}
	}
	if count == 0 {
		return
	}

	limit := int(clip * float64(count) / 256.0)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	redist := excess / 256
	for i := range hist {
		hist[i] += redist
	}

	var lut [256]uint8
	cum := 0
	for i := range hist {
		cum += hist[i]
		lut[i] = uint8((cum*255 + count/2) / count)
	}

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			pix[y*stride+x] = lut[pix[y*stride+x]]
		}
	}
}

// Sharpen applies an unsharp mask to crisp stroke boundaries after smoothing
// steps.
func Sharpen(b *Buffer) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	sharpened := imaging.Sharpen(b.ToImage(), 1.0)
	out, err := FromImage(sharpened)
	if err != nil {
		return nil, err
	}
	if b.Channels == 1 {
		return out.Gray(), nil
	}
	return out, nil
}

// BinarizeAdaptive thresholds against the local window mean so uneven
// document illumination does not flip whole regions. window must be odd;
// sensitivity shifts the threshold below the local mean.
func BinarizeAdaptive(b *Buffer, window int, sensitivity float64) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if window < 3 || window%2 == 0 {
		return nil, errors.NewConfigurationError("BINARIZE_WINDOW", "must be an odd number >= 3")
	}

	gray := b.Gray()
	integral := newIntegralImage(gray)
	out := &Buffer{
		Pix:      make([]uint8, gray.Width*gray.Height),
		Width:    gray.Width,
		Height:   gray.Height,
		Channels: 1,
	}

	half := window / 2
	for y := 0; y < gray.Height; y++ {
		for x := 0; x < gray.Width; x++ {
			mean := integral.mean(x-half, y-half, x+half+1, y+half+1)
			threshold := mean * (1.0 - sensitivity)
			if float64(gray.Pix[y*gray.Width+x]) > threshold {
				out.Pix[y*gray.Width+x] = 255
			}
		}
	}
	return out, nil
}

// integralImage supports O(1) window sums for the adaptive threshold.
type integralImage struct {
	sums   []uint64
	width  int
	height int
}

func newIntegralImage(gray *Buffer) *integralImage {
	w, h := gray.Width, gray.Height
	sums := make([]uint64, (w+1)*(h+1))
	for y := 1; y <= h; y++ {
		var row uint64
		for x := 1; x <= w; x++ {
			row += uint64(gray.Pix[(y-1)*w+x-1])
			sums[y*(w+1)+x] = sums[(y-1)*(w+1)+x] + row
		}
	}
	return &integralImage{sums: sums, width: w, height: h}
}

// mean returns the average intensity over [x0,y0)-(x1,y1), clamped to bounds.
func (ii *integralImage) mean(x0, y0, x1, y1 int) float64 {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > ii.width {
		x1 = ii.width
	}
	if y1 > ii.height {
		y1 = ii.height
	}
	area := (x1 - x0) * (y1 - y0)
	if area <= 0 {
		return 0
	}
	s := ii.width + 1
	total := ii.sums[y1*s+x1] - ii.sums[y0*s+x1] - ii.sums[y1*s+x0] + ii.sums[y0*s+x0]
	return float64(total) / float64(area)
}
