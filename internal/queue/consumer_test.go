package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/errors"
	"github.com/hardbug1/ocr2/internal/logging"
	"github.com/hardbug1/ocr2/internal/pipeline"
)

func testConsumer() *Consumer {
	return &Consumer{
		httpc: &http.Client{Timeout: 5 * time.Second},
		log:   logging.NewLoggerTo(io.Discard, "test"),
	}
}

func TestNewConsumerRejectsBadRedisURL(t *testing.T) {
	cfg := &config.Config{RedisURL: "not-a-url", QueueName: "q", WorkerConcurrency: 1}
	_, err := NewConsumer(cfg, nil, nil, logging.NewLoggerTo(io.Discard, "test"))
	if !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadImageFromBase64(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	payload := ProcessPayload{
		JobID: "j1",
		Image: base64.StdEncoding.EncodeToString(raw),
	}

	data, err := testConsumer().loadImage(context.Background(), payload)
	if err != nil {
		t.Fatalf("loadImage: %v", err)
	}
	if string(data) != string(raw) {
		t.Errorf("payload bytes mangled: %v", data)
	}
}

func TestLoadImageRejectsBadBase64(t *testing.T) {
	payload := ProcessPayload{JobID: "j1", Image: "!!not base64!!"}
	_, err := testConsumer().loadImage(context.Background(), payload)
	if !errors.IsInvalidImage(err) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
}

func TestLoadImageRequiresSource(t *testing.T) {
	_, err := testConsumer().loadImage(context.Background(), ProcessPayload{JobID: "j1"})
	if !errors.IsInvalidImage(err) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
}

func TestLoadImageFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	payload := ProcessPayload{JobID: "j1", ImageURL: srv.URL + "/scan.png"}
	data, err := testConsumer().loadImage(context.Background(), payload)
	if err != nil {
		t.Fatalf("loadImage: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("unexpected body %q", data)
	}
}

// blockingProcessor waits out the job context and reports its error, the
// way a pipeline stuck on a slow engine would.
type blockingProcessor struct{}

func (blockingProcessor) ProcessImage(ctx context.Context, data []byte) (*pipeline.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandleProcessTimesOut(t *testing.T) {
	c := testConsumer()
	c.pipe = blockingProcessor{}
	c.timeout = 10 * time.Millisecond
	// Status writes go to a dead address; they degrade to warnings.
	c.rdb = redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})

	payload, err := json.Marshal(ProcessPayload{
		JobID: "job-timeout",
		Image: base64.StdEncoding.EncodeToString([]byte{0x89, 0x50}),
	})
	if err != nil {
		t.Fatal(err)
	}

	err = c.handleProcess(context.Background(), asynq.NewTask(TaskTypeProcess, payload))
	if !errors.HasCode(err, errors.ErrorProcessingTimeout) {
		t.Fatalf("expected processing timeout error, got %v", err)
	}
}

func TestHandleProcessRejectsMissingJobID(t *testing.T) {
	c := testConsumer()

	err := c.handleProcess(context.Background(), asynq.NewTask(TaskTypeProcess, []byte(`{"image":"aGk="}`)))
	if err == nil {
		t.Fatal("expected error for payload without jobId")
	}
}

func TestLoadImageURLFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	payload := ProcessPayload{JobID: "j1", ImageURL: srv.URL + "/missing.png"}
	_, err := testConsumer().loadImage(context.Background(), payload)
	if !errors.HasCode(err, errors.ErrorPipelineFailure) {
		t.Fatalf("expected pipeline failure for HTTP 404, got %v", err)
	}
}
