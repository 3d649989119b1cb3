package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/correct"
	"github.com/hardbug1/ocr2/internal/engine"
	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/fusion"
	"github.com/hardbug1/ocr2/internal/imageprep"
	"github.com/hardbug1/ocr2/internal/logging"
)

// fakeEngine returns canned spans, or an error when failWith is set.
type fakeEngine struct {
	name     string
	spans    []engine.Span
	failWith error
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Recognize(ctx context.Context, buf *imageprep.Buffer) ([]engine.Span, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([]engine.Span, len(f.spans))
	copy(out, f.spans)
	for i := range out {
		out[i].Engine = f.name
	}
	return out, nil
}

func fakeSpan(text string, conf, x1, y1, x2, y2 float64) engine.Span {
	return engine.Span{
		Text:       text,
		Confidence: conf,
		Box:        engine.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}
}

func testPipeline(t *testing.T, engines ...engine.Engine) *Pipeline {
	t.Helper()
	log := logging.NewLoggerTo(io.Discard, "test")
	stage, err := imageprep.NewStage(imageprep.StageConfig{Steps: []string{"grayscale"}}, log)
	if err != nil {
		t.Fatal(err)
	}
	rules, err := correct.Load("korean-default")
	if err != nil {
		t.Fatal(err)
	}
	return &Pipeline{
		stage:   stage,
		engines: engines,
		fuseCfg: fusion.Config{
			IoUThreshold:          0.5,
			PrimaryEngine:         "tesseract",
			SecondaryDiscount:     0.85,
			ReadingOrderTolerance: 10,
		},
		rules:  rules,
		scales: []float64{1.0},
		log:    log,
	}
}

func testBuffer(t *testing.T) *imageprep.Buffer {
	t.Helper()
	b, err := imageprep.NewBuffer(64, 64, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.Pix {
		b.Pix[i] = 255
	}
	return b
}

func TestProcessMergesEngines(t *testing.T) {
	a := &fakeEngine{name: "tesseract", spans: []engine.Span{
		fakeSpan("서울시", 0.9, 10, 10, 60, 30),
	}}
	b := &fakeEngine{name: "easyocr", spans: []engine.Span{
		fakeSpan("서물시", 0.7, 11, 11, 61, 31),
	}}

	result, err := testPipeline(t, a, b).Process(context.Background(), testBuffer(t))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(result.Spans) != 1 {
		t.Fatalf("expected 1 fused span, got %d", len(result.Spans))
	}
	if result.Spans[0].Text != "서울시" {
		t.Errorf("expected winning text 서울시, got %q", result.Spans[0].Text)
	}
	if result.PartialResult || len(result.Warnings) != 0 {
		t.Errorf("clean run must not be partial: %+v", result)
	}
	if result.EngineBreakdown["tesseract"] != 1 || result.EngineBreakdown["easyocr"] != 1 {
		t.Errorf("unexpected breakdown: %v", result.EngineBreakdown)
	}
	if result.Text != "서울시" {
		t.Errorf("unexpected document text %q", result.Text)
	}
}

func TestProcessAppliesCorrection(t *testing.T) {
	e := &fakeEngine{name: "tesseract", spans: []engine.Span{
		fakeSpan("0CR", 0.9, 10, 10, 40, 30),
		fakeSpan("테스트", 0.9, 50, 10, 100, 30),
	}}

	result, err := testPipeline(t, e).Process(context.Background(), testBuffer(t))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Text != "OCR 테스트" {
		t.Errorf("expected corrected text, got %q", result.Text)
	}
	if result.Spans[0].Text != "OCR" {
		t.Errorf("span text not corrected: %q", result.Spans[0].Text)
	}
	if sim := TextSimilarity(result.Text, "OCR 테스트"); sim != 1.0 {
		t.Errorf("recognized text similarity to expected = %f, want 1", sim)
	}
}

func TestProcessDegradesOnEngineFailure(t *testing.T) {
	healthy := &fakeEngine{name: "tesseract", spans: []engine.Span{
		fakeSpan("안녕하세요", 0.9, 10, 10, 110, 40),
	}}
	broken := &fakeEngine{name: "easyocr", failWith: fmt.Errorf("connection refused")}

	result, err := testPipeline(t, healthy, broken).Process(context.Background(), testBuffer(t))
	if err != nil {
		t.Fatalf("one healthy engine must still produce a result, got %v", err)
	}
	if !result.PartialResult {
		t.Error("expected partial result flag")
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about the failed engine")
	}
	if len(result.Spans) != 1 || result.Spans[0].Text != "안녕하세요" {
		t.Errorf("healthy engine spans lost: %+v", result.Spans)
	}
}

func TestProcessFailsWhenAllEnginesFail(t *testing.T) {
	a := &fakeEngine{name: "tesseract", failWith: fmt.Errorf("boom")}
	b := &fakeEngine{name: "easyocr", failWith: fmt.Errorf("boom")}

	_, err := testPipeline(t, a, b).Process(context.Background(), testBuffer(t))
	if !errors.HasCode(err, errors.ErrorPipelineFailure) {
		t.Fatalf("expected pipeline failure, got %v", err)
	}
}

func TestProcessEmptyRecognition(t *testing.T) {
	a := &fakeEngine{name: "tesseract"}
	b := &fakeEngine{name: "easyocr"}

	result, err := testPipeline(t, a, b).Process(context.Background(), testBuffer(t))
	if err != nil {
		t.Fatalf("empty recognition is a valid outcome, got %v", err)
	}
	if len(result.Spans) != 0 || result.Text != "" {
		t.Errorf("expected empty result, got %+v", result)
	}
	if result.Confidence != 0 {
		t.Errorf("empty result must have zero confidence, got %f", result.Confidence)
	}
}

func TestProcessRejectsInvalidBuffer(t *testing.T) {
	bad := &imageprep.Buffer{Width: 0, Height: 0, Channels: 1}
	_, err := testPipeline(t, &fakeEngine{name: "tesseract"}).Process(context.Background(), bad)
	if !errors.IsInvalidImage(err) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
}

func TestProcessImageDecodes(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	e := &fakeEngine{name: "tesseract", spans: []engine.Span{
		fakeSpan("가", 0.8, 1, 1, 10, 10),
	}}
	result, err := testPipeline(t, e).ProcessImage(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}
	if result.Text != "가" {
		t.Errorf("unexpected text %q", result.Text)
	}

	if _, err := testPipeline(t, e).ProcessImage(context.Background(), []byte("junk")); !errors.IsInvalidImage(err) {
		t.Errorf("expected invalid image error for junk bytes, got %v", err)
	}
}

func TestProcessMultiScaleMapsBoxesBack(t *testing.T) {
	e := &fakeEngine{name: "tesseract", spans: []engine.Span{
		fakeSpan("가", 0.9, 10, 10, 30, 30),
	}}
	p := testPipeline(t, e)
	p.scales = []float64{1.0}

	base, err := p.Process(context.Background(), testBuffer(t))
	if err != nil {
		t.Fatal(err)
	}

	// The fake reports the same pixel box regardless of input size, so
	// after unscaling the 2x variant its box halves.
	p.scales = []float64{2.0}
	scaled, err := p.Process(context.Background(), testBuffer(t))
	if err != nil {
		t.Fatal(err)
	}

	if base.Spans[0].BBox != ([4]float64{10, 10, 30, 30}) {
		t.Errorf("unexpected base box %v", base.Spans[0].BBox)
	}
	if scaled.Spans[0].BBox != ([4]float64{5, 5, 15, 15}) {
		t.Errorf("expected unscaled box [5 5 15 15], got %v", scaled.Spans[0].BBox)
	}
}

func TestNewRejectsUnknownStep(t *testing.T) {
	cfg := &config.Config{
		Engines:            []string{"tesseract"},
		PreprocessingSteps: []string{"deskew_magic"},
		CorrectionRuleSet:  "korean-default",
	}
	_, err := New(cfg, logging.NewLoggerTo(io.Discard, "test"))
	if !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
