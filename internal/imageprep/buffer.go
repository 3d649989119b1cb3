package imageprep

import (
	"bytes"
	"image"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/hardbug1/ocr2/internal/errors"
)

// Buffer is the pixel array every preparation step consumes and produces.
// Steps never mutate their input; each returns a fresh buffer so step chains
// stay composable and independently testable.
type Buffer struct {
	Pix      []uint8
	Width    int
	Height   int
	Channels int // 1 (grayscale) or 3 (RGB)
}

// NewBuffer allocates a zeroed buffer with the given dimensions.
func NewBuffer(width, height, channels int) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.NewInvalidImageError("zero-area buffer")
	}
	if channels != 1 && channels != 3 {
		return nil, errors.NewInvalidImageError("unsupported channel count")
	}
	return &Buffer{
		Pix:      make([]uint8, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}, nil
}

// Decode parses an encoded image (PNG, JPEG, GIF, TIFF, BMP) into a buffer.
func Decode(data []byte) (*Buffer, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewInvalidImageError("undecodable image data")
	}
	return FromImage(img)
}

// FromImage converts a standard library image into a 3-channel buffer.
func FromImage(img image.Image) (*Buffer, error) {
	bounds := img.Bounds()
	buf, err := NewBuffer(bounds.Dx(), bounds.Dy(), 3)
	if err != nil {
		return nil, err
	}

	nrgba := imaging.Clone(img)
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			src := nrgba.PixOffset(x, y)
			dst := (y*buf.Width + x) * 3
			buf.Pix[dst] = nrgba.Pix[src]
			buf.Pix[dst+1] = nrgba.Pix[src+1]
			buf.Pix[dst+2] = nrgba.Pix[src+2]
		}
	}
	return buf, nil
}

// Validate reports whether the buffer is processable. Called by every step
// before it touches pixels.
func (b *Buffer) Validate() error {
	if b == nil || b.Width <= 0 || b.Height <= 0 {
		return errors.NewInvalidImageError("zero-area buffer")
	}
	if b.Channels != 1 && b.Channels != 3 {
		return errors.NewInvalidImageError("unsupported channel count")
	}
	if len(b.Pix) != b.Width*b.Height*b.Channels {
		return errors.NewInvalidImageError("pixel data does not match dimensions")
	}
	return nil
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Pix: pix, Width: b.Width, Height: b.Height, Channels: b.Channels}
}

// At returns the value of channel c at (x, y).
func (b *Buffer) At(x, y, c int) uint8 {
	return b.Pix[(y*b.Width+x)*b.Channels+c]
}

// Set writes the value of channel c at (x, y).
func (b *Buffer) Set(x, y, c int, v uint8) {
	b.Pix[(y*b.Width+x)*b.Channels+c] = v
}

// Gray returns a single-channel luminance copy. A grayscale buffer is cloned.
func (b *Buffer) Gray() *Buffer {
	if b.Channels == 1 {
		return b.Clone()
	}
	out := &Buffer{
		Pix:      make([]uint8, b.Width*b.Height),
		Width:    b.Width,
		Height:   b.Height,
		Channels: 1,
	}
	for i := 0; i < b.Width*b.Height; i++ {
		r := float64(b.Pix[i*3])
		g := float64(b.Pix[i*3+1])
		bl := float64(b.Pix[i*3+2])
		out.Pix[i] = uint8(0.299*r + 0.587*g + 0.114*bl + 0.5)
	}
	return out
}

// ToImage converts the buffer back to a standard library image.
func (b *Buffer) ToImage() image.Image {
	if b.Channels == 1 {
		img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
		copy(img.Pix, b.Pix)
		return img
	}
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i := 0; i < b.Width*b.Height; i++ {
		img.Pix[i*4] = b.Pix[i*3]
		img.Pix[i*4+1] = b.Pix[i*3+1]
		img.Pix[i*4+2] = b.Pix[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img
}

// EncodePNG serializes the buffer for engines that consume encoded bytes.
func (b *Buffer) EncodePNG() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := png.Encode(&out, b.ToImage()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Crop returns a copy of the rectangle [x0,y0)-(x1,y1), clamped to bounds.
func (b *Buffer) Crop(x0, y0, x1, y1 int) (*Buffer, error) {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > b.Width {
		x1 = b.Width
	}
	if y1 > b.Height {
		y1 = b.Height
	}
	out, err := NewBuffer(x1-x0, y1-y0, b.Channels)
	if err != nil {
		return nil, errors.NewInvalidImageError("empty crop region")
	}
	for y := y0; y < y1; y++ {
		srcOff := (y*b.Width + x0) * b.Channels
		dstOff := (y - y0) * out.Width * b.Channels
		copy(out.Pix[dstOff:dstOff+out.Width*b.Channels], b.Pix[srcOff:srcOff+out.Width*b.Channels])
	}
	return out, nil
}

// Scale resamples the buffer by factor using Lanczos filtering. Used for
// multi-scale recognition variants; boxes from scaled variants are mapped
// back into source pixel space by the caller.
func (b *Buffer) Scale(factor float64) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if factor == 1.0 {
		return b.Clone(), nil
	}
	w := int(float64(b.Width)*factor + 0.5)
	h := int(float64(b.Height)*factor + 0.5)
	if w < 1 || h < 1 {
		return nil, errors.NewInvalidImageError("scale factor collapses image")
	}
	resized := imaging.Resize(b.ToImage(), w, h, imaging.Lanczos)
	out, err := FromImage(resized)
	if err != nil {
		return nil, err
	}
	if b.Channels == 1 {
		return out.Gray(), nil
	}
	return out, nil
}
