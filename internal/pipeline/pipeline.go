package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/correct"
	"github.com/hardbug1/ocr2/internal/engine"
	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/fusion"
	"github.com/hardbug1/ocr2/internal/imageprep"
	"github.com/hardbug1/ocr2/internal/logging"
	"github.com/hardbug1/ocr2/internal/metrics"
)

// Pipeline runs the full recognition flow for one image: preparation,
// ensemble recognition across the configured engines, fusion of the
// per-engine spans, and text correction of the fused output.
type Pipeline struct {
	stage    *imageprep.Stage
	engines  []engine.Engine
	detector engine.Detector
	fuseCfg  fusion.Config
	rules    *correct.RuleSet
	scales   []float64
	log      *logging.Logger
}

// New assembles a pipeline from the runtime configuration. It fails
// fast on unknown steps, engines, or rule sets so the worker refuses
// to start with a broken configuration.
func New(cfg *config.Config, log *logging.Logger) (*Pipeline, error) {
	stage, err := imageprep.NewStage(imageprep.StageConfig{
		Steps:               cfg.PreprocessingSteps,
		BinarizeWindow:      cfg.BinarizeWindow,
		BinarizeSensitivity: cfg.BinarizeSensitivity,
	}, log.WithPrefix("imageprep"))
	if err != nil {
		return nil, err
	}

	engines, err := engine.Build(cfg)
	if err != nil {
		return nil, err
	}

	detector, err := engine.BuildDetector(cfg)
	if err != nil {
		return nil, err
	}

	rules, err := correct.Load(cfg.CorrectionRuleSet)
	if err != nil {
		return nil, err
	}

	scales := cfg.RecognitionScales
	if len(scales) == 0 {
		scales = []float64{1.0}
	}

	return &Pipeline{
		stage:    stage,
		engines:  engines,
		detector: detector,
		fuseCfg: fusion.Config{
			IoUThreshold:          cfg.IoUThreshold,
			PrimaryEngine:         cfg.PrimaryEngine,
			SecondaryDiscount:     cfg.SecondaryConfidenceDiscount,
			ReadingOrderTolerance: cfg.ReadingOrderTolerance,
		},
		rules:  rules,
		scales: scales,
		log:    log,
	}, nil
}

// ProcessImage decodes raw image bytes and runs the pipeline on them.
func (p *Pipeline) ProcessImage(ctx context.Context, data []byte) (*Result, error) {
	buf, err := imageprep.Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, buf)
}

// Process runs the pipeline on an already-decoded buffer. A failing
// engine degrades the result instead of aborting it; only the case
// where every engine invocation fails surfaces as an error.
func (p *Pipeline) Process(ctx context.Context, buf *imageprep.Buffer) (*Result, error) {
	start := time.Now()

	if err := buf.Validate(); err != nil {
		return nil, err
	}

	prepared, err := p.stage.Run(buf)
	if err != nil {
		return nil, err
	}

	var regions []engine.BoundingBox
	var warnings []string
	if p.detector != nil {
		regions, err = p.detector.Detect(ctx, prepared)
		if err != nil {
			p.log.Warn("Region detection failed, falling back to full image", "error", err.Error())
			warnings = append(warnings, fmt.Sprintf("region detection failed: %v", err))
			regions = nil
		}
	}

	sets, engineWarnings, failed := p.recognizeAll(ctx, prepared, regions)
	warnings = append(warnings, engineWarnings...)

	if len(sets) == 0 {
		return nil, errors.NewPipelineFailure("", "all recognition engines failed", failed)
	}

	fused := fusion.Fuse(sets, p.fuseCfg)

	spans := make([]SpanResult, 0, len(fused))
	texts := make([]string, 0, len(fused))
	breakdown := make(map[string]int)
	sum := 0.0
	for _, f := range fused {
		corrected := p.rules.Apply(f.Text)
		spans = append(spans, toSpanResult(f, corrected))
		texts = append(texts, corrected)
		sum += f.Confidence
		for _, m := range f.Members {
			breakdown[m.Engine]++
		}
	}

	confidence := 0.0
	if len(fused) > 0 {
		confidence = sum / float64(len(fused))
	}

	// Spacing rules can span word boundaries the per-span pass never
	// sees, so the joined text gets one more application. Corrections
	// are idempotent, so the re-run is safe.
	text := p.rules.Apply(strings.Join(texts, " "))

	return &Result{
		Text:             text,
		Spans:            spans,
		Confidence:       confidence,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		EngineBreakdown:  breakdown,
		PartialResult:    len(engineWarnings) > 0,
		Warnings:         warnings,
	}, nil
}

type engineOutcome struct {
	engine string
	spans  []engine.Span
	err    error
}

// recognizeAll fans the prepared image out to every engine at every
// configured scale and gathers the per-engine span sets. Each
// (engine, scale) pair contributes its own set so fusion can merge
// duplicate detections across scales the same way it merges them
// across engines.
func (p *Pipeline) recognizeAll(ctx context.Context, prepared *imageprep.Buffer, regions []engine.BoundingBox) (sets [][]engine.Span, warnings []string, lastErr error) {
	results := make(chan engineOutcome, len(p.engines)*len(p.scales))

	var wg sync.WaitGroup
	for _, eng := range p.engines {
		for _, scale := range p.scales {
			wg.Add(1)
			go func(eng engine.Engine, scale float64) {
				defer wg.Done()
				spans, err := p.recognizeVariant(ctx, eng, prepared, scale, regions)
				results <- engineOutcome{engine: eng.Name(), spans: spans, err: err}
			}(eng, scale)
		}
	}
	wg.Wait()
	close(results)

	failures := make(map[string]int)
	for out := range results {
		if out.err != nil {
			p.log.Warn("Engine invocation failed", "engine", out.engine, "error", out.err.Error())
			metrics.EngineFailures.WithLabelValues(out.engine).Inc()
			failures[out.engine]++
			lastErr = errors.NewEngineUnavailableError(out.engine, out.err)
			continue
		}
		sets = append(sets, out.spans)
	}

	for name, count := range failures {
		warnings = append(warnings, fmt.Sprintf("engine %s failed %d invocation(s), result may be partial", name, count))
	}
	return sets, warnings, lastErr
}

// recognizeVariant runs one engine on one scaled variant of the
// prepared image. Span coordinates always come back in the prepared
// image's coordinate space regardless of scale and region cropping.
func (p *Pipeline) recognizeVariant(ctx context.Context, eng engine.Engine, prepared *imageprep.Buffer, scale float64, regions []engine.BoundingBox) ([]engine.Span, error) {
	variant := prepared
	if scale != 1.0 {
		var err error
		variant, err = prepared.Scale(scale)
		if err != nil {
			return nil, err
		}
	}

	if len(regions) == 0 {
		spans, err := eng.Recognize(ctx, variant)
		if err != nil {
			return nil, err
		}
		return unscaleSpans(spans, scale), nil
	}

	var all []engine.Span
	for _, region := range regions {
		x0 := int(region.X1 * scale)
		y0 := int(region.Y1 * scale)
		x1 := int(region.X2 * scale)
		y1 := int(region.Y2 * scale)
		crop, err := variant.Crop(x0, y0, x1, y1)
		if err != nil {
			// Degenerate region, skip it.
			continue
		}
		spans, err := eng.Recognize(ctx, crop)
		if err != nil {
			return nil, err
		}
		for i := range spans {
			spans[i].Box = spans[i].Box.Translate(float64(x0), float64(y0))
		}
		all = append(all, spans...)
	}
	return unscaleSpans(all, scale), nil
}

func unscaleSpans(spans []engine.Span, scale float64) []engine.Span {
	if scale == 1.0 {
		return spans
	}
	for i := range spans {
		spans[i].Box = spans[i].Box.Unscale(scale)
	}
	return spans
}
