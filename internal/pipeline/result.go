package pipeline

import (
	"github.com/hardbug1/ocr2/internal/fusion"
)

// SpanResult is one fused detection in the wire/result format.
type SpanResult struct {
	Text       string     `json:"text"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Confidence float64    `json:"confidence"`
	Engines    []string   `json:"engines"`
}

// Result is the immutable outcome of one image's pipeline run.
type Result struct {
	Text             string         `json:"text"`
	Spans            []SpanResult   `json:"spans"`
	Confidence       float64        `json:"confidence"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	EngineBreakdown  map[string]int `json:"engineBreakdown"`
	PartialResult    bool           `json:"partialResult,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
}

func toSpanResult(f fusion.FusedSpan, text string) SpanResult {
	return SpanResult{
		Text:       text,
		BBox:       [4]float64{f.Box.X1, f.Box.Y1, f.Box.X2, f.Box.Y2},
		Confidence: f.Confidence,
		Engines:    f.Engines,
	}
}
