package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finflowhq/ledgerdocs/internal/bootstrap"
	"github.com/finflowhq/ledgerdocs/internal/config"
	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/usecase"
	"github.com/finflowhq/ledgerdocs/internal/observability/logging"
	"github.com/finflowhq/ledgerdocs/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			log.Fatalf("config file error: %v", err)
		}
	}

	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsMux(workerMetrics),
	}
	go func() {
		log.Printf("worker metrics listening on :%s", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker metrics server error: %v", err)
		}
	}()

	if processUC, ok := app.ProcessUC.(*usecase.ProcessJobUseCase); ok {
		processUC.SetStageFailureHook(func(stage string) {
			workerMetrics.RecordStageFailure("worker", stage)
		})
	}

	jobTimeout := time.Duration(cfg.WorkerJobTimeout) * time.Second

	log.Printf("worker subscribed to %s with concurrency %d", cfg.NATSSubject, cfg.WorkerConcurrency)
	err = app.Queue.SubscribeJobs(ctx, func(handlerCtx context.Context, job domain.Job) error {
		if !job.EnqueuedAt.IsZero() {
			workerMetrics.ObserveQueueLag("worker", time.Since(job.EnqueuedAt))
		}
		workerMetrics.StartJob()
		start := time.Now()

		processCtx, cancel := context.WithTimeout(handlerCtx, jobTimeout)
		defer cancel()
		processErr := app.ProcessUC.Process(processCtx, job)

		workerMetrics.FinishJob("worker", string(job.Source), time.Since(start), processErr)
		return processErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func metricsMux(m *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
