package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/winnow/internal/bootstrap"
	"github.com/kirillkom/winnow/internal/config"
	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/observability/metrics"
)

const service = "worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, service)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(service)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		app.Logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Error("worker metrics server", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	jobTimeout := time.Duration(cfg.WorkerTimeoutSeconds) * time.Second

	app.Logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeIngestJobs(ctx, func(handlerCtx context.Context, job domain.IngestJob) error {
		workerMetrics.ObserveQueueLag(service, time.Since(job.SubmittedAt))
		workerMetrics.StartIngest()
		start := time.Now()

		processCtx, cancel := context.WithTimeout(handlerCtx, jobTimeout)
		defer cancel()

		result, err := app.ProcessUC.Process(processCtx, job)
		workerMetrics.FinishIngest(service, time.Since(start), err)
		if result != nil {
			workerMetrics.RecordChunks(service, "indexed", result.ChunkCount-len(result.FailedChunkIDs))
			workerMetrics.RecordChunks(service, "failed", len(result.FailedChunkIDs))
			workerMetrics.RecordChunks(service, "deduplicated", result.Deduplicated)
		}
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
