package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hardbug1/ocr2/internal/config"
	"github.com/hardbug1/ocr2/internal/logging"
	"github.com/hardbug1/ocr2/internal/metrics"
	"github.com/hardbug1/ocr2/internal/pipeline"
	"github.com/hardbug1/ocr2/internal/queue"
	"github.com/hardbug1/ocr2/internal/storage"
)

func main() {
	godotenv.Load()

	log := logging.NewLogger("worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("Invalid configuration", "error", err.Error())
		os.Exit(1)
	}
	log.Info("Configuration loaded",
		"engines", len(cfg.Engines),
		"concurrency", cfg.WorkerConcurrency,
		"queue", cfg.QueueName)

	pipe, err := pipeline.New(cfg, log.WithPrefix("pipeline"))
	if err != nil {
		log.Error("Failed to build pipeline", "error", err.Error())
		os.Exit(1)
	}

	var store *storage.PostgresClient
	if cfg.DatabaseURL != "" {
		store, err = storage.NewPostgresClient(cfg.DatabaseURL, log.WithPrefix("storage"))
		if err != nil {
			log.Error("Failed to connect to PostgreSQL", "error", err.Error())
			os.Exit(1)
		}
		defer store.Close()
	} else {
		log.Warn("DATABASE_URL not set, results will only be kept in Redis")
	}

	consumer, err := queue.NewConsumer(cfg, pipe, store, log.WithPrefix("queue"))
	if err != nil {
		log.Error("Failed to build queue consumer", "error", err.Error())
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", "error", err.Error())
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("Consumer stopped", "error", err.Error())
		}
	}

	consumer.Shutdown()
	metricsSrv.Close()
	log.Info("Worker stopped")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
