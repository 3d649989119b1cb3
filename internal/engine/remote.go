/**
 * Remote recognition engine client
 *
 * Talks to an HTTP recognition service (EasyOCR or PaddleOCR behind a small
 * serving endpoint). The service owns the model; this adapter only moves
 * pixels out and spans back, so new engines can be attached with a single
 * REMOTE_ENGINES entry.
 */

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hardbug1/ocr2/internal/imageprep"
)

// RemoteEngine handles communication with one recognition service.
type RemoteEngine struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// recognizeRequest is the wire format sent to POST {baseURL}/recognize.
type recognizeRequest struct {
	Image  string `json:"image"`  // base64-encoded PNG
	Format string `json:"format"` // always "base64"
}

// recognizeResponse is the wire format returned by the service.
type recognizeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Spans   []struct {
		Text       string     `json:"text"`
		BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
		Confidence float64    `json:"confidence"`
	} `json:"spans"`
}

// NewRemoteEngine creates a client for the recognition service at baseURL.
func NewRemoteEngine(name, baseURL string) *RemoteEngine {
	return &RemoteEngine{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (e *RemoteEngine) Name() string { return e.name }

// Recognize sends the prepared buffer to the service and maps its spans into
// the uniform contract.
func (e *RemoteEngine) Recognize(ctx context.Context, buf *imageprep.Buffer) ([]Span, error) {
	data, err := buf.EncodePNG()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(recognizeRequest{
		Image:  base64.StdEncoding.EncodeToString(data),
		Format: "base64",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/recognize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", e.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned HTTP %d: %s", e.name, resp.StatusCode, string(body))
	}

	var parsed recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", e.name, err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("%s rejected request: %s", e.name, parsed.Message)
	}

	spans := make([]Span, 0, len(parsed.Spans))
	for _, s := range parsed.Spans {
		if s.Text == "" {
			continue
		}
		spans = append(spans, Span{
			Text:       s.Text,
			Box:        BoundingBox{X1: s.BBox[0], Y1: s.BBox[1], X2: s.BBox[2], Y2: s.BBox[3]},
			Confidence: s.Confidence,
			Engine:     e.name,
		})
	}
	return spans, nil
}

// HealthCheck probes the service before the worker starts taking jobs.
func (e *RemoteEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", e.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check %s: HTTP %d", e.name, resp.StatusCode)
	}
	return nil
}
