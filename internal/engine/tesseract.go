package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/hardbug1/ocr2/internal/imageprep"
)

// TesseractEngine wraps the gosseract client. A fresh client is created per
// recognition call; the underlying Tesseract API is not safe for concurrent
// use through one handle.
type TesseractEngine struct {
	langs         []string
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs a Tesseract-backed recognition engine with
// the given language hints (e.g. "kor", "eng").
func NewTesseractEngine(langs []string) *TesseractEngine {
	if len(langs) == 0 {
		langs = []string{"kor", "eng"}
	}
	return &TesseractEngine{
		langs:         langs,
		clientFactory: gosseract.NewClient,
	}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Recognize runs word-level OCR over the prepared buffer.
func (e *TesseractEngine) Recognize(ctx context.Context, buf *imageprep.Buffer) ([]Span, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := buf.EncodePNG()
	if err != nil {
		return nil, err
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if err := client.SetLanguage(e.langs...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	spans := make([]Span, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		spans = append(spans, Span{
			Text: word,
			Box: BoundingBox{
				X1: float64(b.Box.Min.X),
				Y1: float64(b.Box.Min.Y),
				X2: float64(b.Box.Max.X),
				Y2: float64(b.Box.Max.Y),
			},
			Confidence: b.Confidence / 100.0,
			Engine:     e.Name(),
		})
	}
	return spans, nil
}
