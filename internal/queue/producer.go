package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/errors"
)

// Producer enqueues OCR jobs for the worker pool.
type Producer struct {
	client *asynq.Client
	queue  string
}

func NewProducer(cfg *config.Config) (*Producer, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.NewConfigurationError("REDIS_URL", err.Error())
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	return &Producer{client: client, queue: cfg.QueueName}, nil
}

// Enqueue submits a job and returns its ID. A missing JobID gets a
// fresh UUID so callers can track the job immediately.
func (p *Producer) Enqueue(payload ProcessPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	task := asynq.NewTask(TaskTypeProcess, data)
	_, err = p.client.Enqueue(task,
		asynq.Queue(p.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour))
	if err != nil {
		return "", err
	}
	return payload.JobID, nil
}

func (p *Producer) Close() error {
	return p.client.Close()
}
