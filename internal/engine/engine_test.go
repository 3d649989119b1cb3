package engine

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/imageprep"
)

func TestBoundingBoxArea(t *testing.T) {
	b := BoundingBox{X1: 10, Y1: 10, X2: 30, Y2: 20}
	if b.Area() != 200 {
		t.Errorf("expected area 200, got %f", b.Area())
	}
	inverted := BoundingBox{X1: 30, Y1: 20, X2: 10, Y2: 10}
	if inverted.Area() != 0 {
		t.Errorf("degenerate box must have zero area, got %f", inverted.Area())
	}
}

func TestBoundingBoxIoU(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	if got := a.IoU(a); got != 1.0 {
		t.Errorf("identical boxes must have IoU 1, got %f", got)
	}

	disjoint := BoundingBox{X1: 20, Y1: 20, X2: 30, Y2: 30}
	if got := a.IoU(disjoint); got != 0 {
		t.Errorf("disjoint boxes must have IoU 0, got %f", got)
	}

	half := BoundingBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	// Intersection 50, union 150.
	if got := a.IoU(half); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("expected IoU 1/3, got %f", got)
	}
}

func TestBoundingBoxUnion(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 5, X2: 10, Y2: 10}
	b := BoundingBox{X1: 5, Y1: 0, X2: 15, Y2: 8}
	got := a.Union(b)
	want := BoundingBox{X1: 0, Y1: 0, X2: 15, Y2: 10}
	if got != want {
		t.Errorf("expected union %v, got %v", want, got)
	}
}

func TestBoundingBoxUnscale(t *testing.T) {
	b := BoundingBox{X1: 20, Y1: 40, X2: 60, Y2: 80}
	got := b.Unscale(2.0)
	want := BoundingBox{X1: 10, Y1: 20, X2: 30, Y2: 40}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuildUnknownEngine(t *testing.T) {
	cfg := &config.Config{Engines: []string{"sorcery"}}
	if _, err := Build(cfg); !errors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestBuildDefaultTesseract(t *testing.T) {
	cfg := &config.Config{
		Engines:        []string{"tesseract"},
		TesseractLangs: []string{"kor", "eng"},
	}
	engines, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(engines) != 1 || engines[0].Name() != "tesseract" {
		t.Errorf("expected single tesseract engine, got %v", engines)
	}
}

func TestBuildIncludesRemoteEngines(t *testing.T) {
	cfg := &config.Config{
		Engines:       []string{"tesseract"},
		RemoteEngines: map[string]string{"easyocr": "http://localhost:8081"},
	}
	engines, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(engines) != 2 {
		t.Fatalf("expected 2 engines, got %d", len(engines))
	}
	names := map[string]bool{}
	for _, e := range engines {
		names[e.Name()] = true
	}
	if !names["tesseract"] || !names["easyocr"] {
		t.Errorf("unexpected engine names: %v", names)
	}
}

func TestBuildDetector(t *testing.T) {
	d, err := BuildDetector(&config.Config{RegionDetector: ""})
	if err != nil || d != nil {
		t.Errorf("empty detector config must yield nil, got %v, %v", d, err)
	}

	d, err = BuildDetector(&config.Config{RegionDetector: "projection"})
	if err != nil || d == nil {
		t.Errorf("projection detector not built: %v", err)
	}

	if _, err = BuildDetector(&config.Config{RegionDetector: "neural"}); !errors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func testBuffer(t *testing.T) *imageprep.Buffer {
	t.Helper()
	b, err := imageprep.NewBuffer(32, 32, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.Pix {
		b.Pix[i] = 255
	}
	return b
}

func TestRemoteEngineRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recognize" {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"spans": [
				{"text": "안녕하세요", "bbox": [10, 10, 110, 40], "confidence": 0.92},
				{"text": "", "bbox": [0, 0, 1, 1], "confidence": 0.5}
			]
		}`))
	}))
	defer srv.Close()

	e := NewRemoteEngine("easyocr", srv.URL)
	spans, err := e.Recognize(context.Background(), testBuffer(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("empty-text spans must be dropped, got %d spans", len(spans))
	}
	s := spans[0]
	if s.Text != "안녕하세요" || s.Engine != "easyocr" || s.Confidence != 0.92 {
		t.Errorf("unexpected span: %+v", s)
	}
	if s.Box != (BoundingBox{X1: 10, Y1: 10, X2: 110, Y2: 40}) {
		t.Errorf("unexpected box: %v", s.Box)
	}
}

func TestRemoteEngineServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": false, "message": "model not loaded"}`))
	}))
	defer srv.Close()

	e := NewRemoteEngine("easyocr", srv.URL)
	if _, err := e.Recognize(context.Background(), testBuffer(t)); err == nil {
		t.Fatal("expected error for rejected request")
	}
}

func TestRemoteEngineHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewRemoteEngine("easyocr", srv.URL)
	if _, err := e.Recognize(context.Background(), testBuffer(t)); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestRemoteEngineHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := NewRemoteEngine("easyocr", srv.URL)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestProjectionDetectorFindsLines(t *testing.T) {
	b, err := imageprep.NewBuffer(100, 60, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.Pix {
		b.Pix[i] = 255
	}
	// Two dark text lines with a gap between them.
	for y := 10; y < 20; y++ {
		for x := 5; x < 95; x++ {
			b.Set(x, y, 0, 0)
		}
	}
	for y := 35; y < 45; y++ {
		for x := 20; x < 80; x++ {
			b.Set(x, y, 0, 0)
		}
	}

	d := NewProjectionDetector()
	boxes, err := d.Detect(context.Background(), b)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected 2 line boxes, got %d: %v", len(boxes), boxes)
	}
	if boxes[0].Y1 != 10 || boxes[0].Y2 != 20 {
		t.Errorf("first line box wrong: %v", boxes[0])
	}
	if boxes[1].X1 != 20 || boxes[1].X2 != 80 {
		t.Errorf("second line box not trimmed to ink columns: %v", boxes[1])
	}
}
