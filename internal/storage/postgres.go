package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"

	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/logging"
	"github.com/hardbug1/ocr2/internal/pipeline"
)

// PostgresClient persists finished OCR results and job state.
type PostgresClient struct {
	db  *sql.DB
	log *logging.Logger
}

// NewPostgresClient opens the connection pool and verifies it with a
// ping so a bad DATABASE_URL fails at startup instead of on the first
// job.
func NewPostgresClient(databaseURL string, log *logging.Logger) (*PostgresClient, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("PostgreSQL connection established")
	return &PostgresClient{db: db, log: log}, nil
}

// StoreResult upserts the pipeline result for a job. Spans and the
// engine breakdown are stored as jsonb so consumers can query them
// without another round trip.
func (c *PostgresClient) StoreResult(ctx context.Context, jobID string, result *pipeline.Result) error {
	spansJSON, err := json.Marshal(result.Spans)
	if err != nil {
		return errors.NewStorageFailedError(jobID, err)
	}
	breakdownJSON, err := json.Marshal(result.EngineBreakdown)
	if err != nil {
		return errors.NewStorageFailedError(jobID, err)
	}

	query := `
		INSERT INTO ocr_results (
			job_id, text, confidence, spans, engine_breakdown,
			partial_result, processing_time_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			text = EXCLUDED.text,
			confidence = EXCLUDED.confidence,
			spans = EXCLUDED.spans,
			engine_breakdown = EXCLUDED.engine_breakdown,
			partial_result = EXCLUDED.partial_result,
			processing_time_ms = EXCLUDED.processing_time_ms,
			updated_at = NOW()
	`

	_, err = c.db.ExecContext(ctx, query,
		jobID,
		result.Text,
		sanitizeConfidence(result.Confidence),
		spansJSON,
		breakdownJSON,
		result.PartialResult,
		result.ProcessingTimeMs,
	)
	if err != nil {
		return errors.NewStorageFailedError(jobID, err)
	}

	c.log.Info("Stored OCR result", "jobId", jobID, "spans", len(result.Spans))
	return nil
}

// UpdateJobStatus records the job lifecycle transition, keeping the
// optional error message for failed jobs.
func (c *PostgresClient) UpdateJobStatus(ctx context.Context, jobID, status, errMsg string) error {
	query := `
		INSERT INTO ocr_jobs (job_id, status, error, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NOW(), NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			updated_at = NOW()
	`
	if _, err := c.db.ExecContext(ctx, query, jobID, status, errMsg); err != nil {
		return errors.NewStorageFailedError(jobID, err)
	}
	return nil
}

// sanitizeConfidence clamps to [0, 1] and replaces NaN/Inf so the
// numeric column never rejects a row.
func sanitizeConfidence(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Ping verifies the connection is still alive.
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats exposes pool statistics for diagnostics.
func (c *PostgresClient) Stats() sql.DBStats {
	return c.db.Stats()
}

// Close releases the connection pool.
func (c *PostgresClient) Close() error {
	return c.db.Close()
}
