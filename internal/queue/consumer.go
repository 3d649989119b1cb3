package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/logging"
	"github.com/hardbug1/ocr2/internal/metrics"
	"github.com/hardbug1/ocr2/internal/pipeline"
	"github.com/hardbug1/ocr2/internal/storage"
)

// TaskTypeProcess is the asynq task type for a single-image OCR job.
const TaskTypeProcess = "ocr:process"

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"

	eventsChannel = "ocr:events"
	jobKeyPrefix  = "ocr:job:"
	jobKeyTTL     = 24 * time.Hour
)

// ProcessPayload is the task payload enqueued by producers. Exactly
// one of Image (base64) or ImageURL must be set.
type ProcessPayload struct {
	JobID    string `json:"jobId"`
	Filename string `json:"filename,omitempty"`
	Image    string `json:"image,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// ImageProcessor is the slice of the pipeline the consumer drives.
type ImageProcessor interface {
	ProcessImage(ctx context.Context, data []byte) (*pipeline.Result, error)
}

// Consumer pulls OCR jobs from the queue, drives the pipeline, and
// records job state in Redis and results in Postgres.
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	rdb     *redis.Client
	pipe    ImageProcessor
	store   *storage.PostgresClient
	timeout time.Duration
	httpc   *http.Client
	log     *logging.Logger
}

// NewConsumer wires the asynq server against the configured Redis
// instance. store may be nil when no DATABASE_URL is configured; job
// state then lives only in Redis.
func NewConsumer(cfg *config.Config, pipe ImageProcessor, store *storage.PostgresClient, log *logging.Logger) (*Consumer, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.NewConfigurationError("REDIS_URL", err.Error())
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	}

	c := &Consumer{
		rdb:     redis.NewClient(opt),
		pipe:    pipe,
		store:   store,
		timeout: time.Duration(cfg.ProcessingTimeoutMs) * time.Millisecond,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}

	c.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("Task failed", "type", task.Type(), "error", err.Error())
		}),
	})

	c.mux = asynq.NewServeMux()
	c.mux.HandleFunc(TaskTypeProcess, c.handleProcess)
	return c, nil
}

// Run blocks serving tasks until Shutdown is called.
func (c *Consumer) Run() error {
	c.log.Info("Queue consumer starting", "task", TaskTypeProcess)
	return c.server.Run(c.mux)
}

// Shutdown stops the asynq server and closes the Redis connection.
func (c *Consumer) Shutdown() {
	c.server.Shutdown()
	c.rdb.Close()
}

func (c *Consumer) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload missing jobId: %w", asynq.SkipRetry)
	}

	c.log.Info("Processing job", "jobId", payload.JobID, "filename", payload.Filename)
	c.setStatus(ctx, payload.JobID, statusProcessing, "")

	data, err := c.loadImage(ctx, payload)
	if err != nil {
		c.fail(ctx, payload.JobID, err)
		// Malformed input never succeeds on retry.
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.pipe.ProcessImage(jobCtx, data)
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if jobCtx.Err() == context.DeadlineExceeded {
			err = errors.NewProcessingTimeoutError(payload.JobID, c.timeout, err)
		}
		metrics.ImagesProcessed.WithLabelValues("failure").Inc()
		c.fail(ctx, payload.JobID, err)
		if errors.IsInvalidImage(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	outcome := "success"
	if result.PartialResult {
		outcome = "partial"
	}
	metrics.ImagesProcessed.WithLabelValues(outcome).Inc()
	metrics.FusedSpans.Observe(float64(len(result.Spans)))

	if c.store != nil {
		if err := c.store.StoreResult(ctx, payload.JobID, result); err != nil {
			c.fail(ctx, payload.JobID, err)
			return err
		}
	}

	c.complete(ctx, payload.JobID, result)
	c.log.Info("Job completed",
		"jobId", payload.JobID,
		"spans", len(result.Spans),
		"confidence", fmt.Sprintf("%.3f", result.Confidence),
		"durationMs", result.ProcessingTimeMs)
	return nil
}

func (c *Consumer) loadImage(ctx context.Context, payload ProcessPayload) ([]byte, error) {
	if payload.Image != "" {
		data, err := base64.StdEncoding.DecodeString(payload.Image)
		if err != nil {
			return nil, errors.NewInvalidImageError("image payload is not valid base64")
		}
		return data, nil
	}
	if payload.ImageURL == "" {
		return nil, errors.NewInvalidImageError("payload carries neither image data nor image URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.ImageURL, nil)
	if err != nil {
		return nil, errors.NewInvalidImageError(fmt.Sprintf("bad image URL: %v", err))
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.NewPipelineFailure(payload.JobID, "image download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewPipelineFailure(payload.JobID,
			fmt.Sprintf("image download returned status %d", resp.StatusCode), nil)
	}
	return io.ReadAll(resp.Body)
}

func (c *Consumer) complete(ctx context.Context, jobID string, result *pipeline.Result) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		c.log.Warn("Failed to serialize result for Redis", "jobId", jobID, "error", err.Error())
		resultJSON = []byte("{}")
	}
	key := jobKeyPrefix + jobID
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key,
		"status", statusCompleted,
		"result", string(resultJSON),
		"updatedAt", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, jobKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("Failed to record completion in Redis", "jobId", jobID, "error", err.Error())
	}
	c.publish(ctx, jobID, statusCompleted, "")
}

func (c *Consumer) fail(ctx context.Context, jobID string, cause error) {
	c.setStatus(ctx, jobID, statusFailed, cause.Error())
	if c.store != nil {
		if err := c.store.UpdateJobStatus(ctx, jobID, statusFailed, cause.Error()); err != nil {
			c.log.Warn("Failed to record failure in Postgres", "jobId", jobID, "error", err.Error())
		}
	}
}

func (c *Consumer) setStatus(ctx context.Context, jobID, status, errMsg string) {
	key := jobKeyPrefix + jobID
	fields := []interface{}{
		"status", status,
		"updatedAt", time.Now().UTC().Format(time.RFC3339),
	}
	if errMsg != "" {
		fields = append(fields, "error", errMsg)
	}
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields...)
	pipe.Expire(ctx, key, jobKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("Failed to update job status in Redis", "jobId", jobID, "status", status, "error", err.Error())
	}
	c.publish(ctx, jobID, status, errMsg)
}

func (c *Consumer) publish(ctx context.Context, jobID, status, errMsg string) {
	event := map[string]string{
		"jobId":  jobID,
		"status": status,
	}
	if errMsg != "" {
		event["error"] = errMsg
	}
	data, _ := json.Marshal(event)
	if err := c.rdb.Publish(ctx, eventsChannel, data).Err(); err != nil {
		c.log.Warn("Failed to publish job event", "jobId", jobID, "error", err.Error())
	}
}
