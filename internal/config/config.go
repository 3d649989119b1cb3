/**
 * Configuration for the Korean OCR worker
 *
 * Loads configuration from environment variables. All tunables of the
 * accuracy pipeline (fusion thresholds, preprocessing order, correction
 * rule set) live here so the pipeline itself stays free of magic numbers.
 */

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/hardbug1/ocr2/internal/errors"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL  string
	QueueName string

	// PostgreSQL configuration
	DatabaseURL string

	// Worker configuration
	WorkerConcurrency   int
	ProcessingTimeoutMs int
	MetricsAddr         string

	// Recognition engines
	Engines        []string
	RemoteEngines  map[string]string
	TesseractLangs []string

	// Fusion configuration
	IoUThreshold                float64
	PrimaryEngine               string
	SecondaryConfidenceDiscount float64
	ReadingOrderTolerance       float64

	// Image preparation
	PreprocessingSteps  []string
	RecognitionScales   []float64
	BinarizeWindow      int
	BinarizeSensitivity float64

	// Region detection ("" disables, "projection" enables the built-in detector)
	RegionDetector string

	// Correction
	CorrectionRuleSet string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// The first malformed numeric aborts the load, before Validate runs.
	var loadErr error
	intEnv := func(key string, def int) int {
		v, err := getEnvAsInt(key, def)
		if err != nil && loadErr == nil {
			loadErr = err
		}
		return v
	}
	floatEnv := func(key string, def float64) float64 {
		v, err := getEnvAsFloat(key, def)
		if err != nil && loadErr == nil {
			loadErr = err
		}
		return v
	}

	cfg := &Config{
		RedisURL:                    getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:                   getEnvOrDefault("QUEUE_NAME", "ocr:jobs"),
		DatabaseURL:                 getEnvOrDefault("DATABASE_URL", ""),
		WorkerConcurrency:           intEnv("WORKER_CONCURRENCY", 4),
		ProcessingTimeoutMs:         intEnv("PROCESSING_TIMEOUT", 120000), // 2 minutes
		MetricsAddr:                 getEnvOrDefault("METRICS_ADDR", ":9090"),
		Engines:                     splitList(getEnvOrDefault("ENGINES", "tesseract")),
		RemoteEngines:               parsePairs(getEnvOrDefault("REMOTE_ENGINES", "")),
		TesseractLangs:              splitPlus(getEnvOrDefault("TESSERACT_LANGS", "kor+eng")),
		IoUThreshold:                floatEnv("IOU_THRESHOLD", 0.5),
		PrimaryEngine:               getEnvOrDefault("PRIMARY_ENGINE", "tesseract"),
		SecondaryConfidenceDiscount: floatEnv("SECONDARY_CONFIDENCE_DISCOUNT", 0.85),
		ReadingOrderTolerance:       floatEnv("READING_ORDER_TOLERANCE", 10),
		PreprocessingSteps: splitList(getEnvOrDefault("PREPROCESSING_STEPS",
			"normalize,grayscale,enhance_contrast,preserve_strokes,enhance_jongseong,binarize_adaptive,prevent_jamo_separation")),
		RecognitionScales:   nil,
		BinarizeWindow:      intEnv("BINARIZE_WINDOW", 25),
		BinarizeSensitivity: floatEnv("BINARIZE_SENSITIVITY", 0.2),
		RegionDetector:      getEnvOrDefault("REGION_DETECTOR", ""),
		CorrectionRuleSet:   getEnvOrDefault("CORRECTION_RULE_SET", "korean-default"),
	}
	if loadErr != nil {
		return nil, loadErr
	}

	scales, err := parseScales(getEnvOrDefault("RECOGNITION_SCALES", "1.0"))
	if err != nil {
		return nil, err
	}
	cfg.RecognitionScales = scales

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration is valid. Malformed thresholds fail here,
// before any image is processed.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return errors.NewConfigurationError("REDIS_URL", "is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 64 {
		return errors.NewConfigurationError("WORKER_CONCURRENCY",
			"must be between 1 and 64, got "+strconv.Itoa(c.WorkerConcurrency))
	}

	if c.ProcessingTimeoutMs < 1000 {
		return errors.NewConfigurationError("PROCESSING_TIMEOUT", "must be at least 1000ms")
	}

	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return errors.NewConfigurationError("IOU_THRESHOLD", "must be in (0, 1]")
	}

	if c.SecondaryConfidenceDiscount <= 0 || c.SecondaryConfidenceDiscount > 1 {
		return errors.NewConfigurationError("SECONDARY_CONFIDENCE_DISCOUNT", "must be in (0, 1]")
	}

	if len(c.Engines) == 0 && len(c.RemoteEngines) == 0 {
		return errors.NewConfigurationError("ENGINES", "at least one engine is required")
	}

	if c.BinarizeWindow < 3 || c.BinarizeWindow%2 == 0 {
		return errors.NewConfigurationError("BINARIZE_WINDOW", "must be an odd number >= 3")
	}

	if c.BinarizeSensitivity < 0 || c.BinarizeSensitivity > 1 {
		return errors.NewConfigurationError("BINARIZE_SENSITIVITY", "must be in [0, 1]")
	}

	if c.RegionDetector != "" && c.RegionDetector != "projection" {
		return errors.NewConfigurationError("REGION_DETECTOR", "unknown detector "+c.RegionDetector)
	}

	for _, s := range c.RecognitionScales {
		if s <= 0 || s > 4 {
			return errors.NewConfigurationError("RECOGNITION_SCALES", "scales must be in (0, 4]")
		}
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as int; the default applies only
// when the variable is unset. A set but unparseable value is a
// configuration error, not a silent fallback.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.NewConfigurationError(key, "not an integer: "+valueStr)
	}

	return value, nil
}

// getEnvAsFloat gets environment variable as float64; same contract as
// getEnvAsInt.
func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.NewConfigurationError(key, "not a number: "+valueStr)
	}

	return value, nil
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitPlus splits tesseract-style "kor+eng" language lists.
func splitPlus(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "+") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePairs parses "name=url;name2=url2" engine endpoint lists.
func parsePairs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
			out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return out
}

func parseScales(s string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, errors.NewConfigurationError("RECOGNITION_SCALES", "not a number: "+part)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		out = []float64{1.0}
	}
	return out, nil
}
