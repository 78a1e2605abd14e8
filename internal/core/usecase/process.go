package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
)

// ProcessJobUseCase executes queued ingest jobs on the worker: it reloads the
// stored bytes and drives the synchronous pipeline. Partial ingestion is
// logged but the job still counts as processed; only document-level failures
// propagate to the queue layer.
type ProcessJobUseCase struct {
	storage  ports.ObjectStorage
	ingestor ports.DocumentIngestor
	logger   *slog.Logger
}

func NewProcessJobUseCase(
	storage ports.ObjectStorage,
	ingestor ports.DocumentIngestor,
	logger *slog.Logger,
) *ProcessJobUseCase {
	return &ProcessJobUseCase{
		storage:  storage,
		ingestor: ingestor,
		logger:   logger,
	}
}

func (uc *ProcessJobUseCase) Process(ctx context.Context, job domain.IngestJob) (*domain.IngestResult, error) {
	content, err := uc.loadContent(ctx, job.StoragePath)
	if err != nil {
		return nil, err
	}

	result, err := uc.ingestor.Ingest(ctx, content, job.SourceFile, job.Options)
	if err != nil {
		if result != nil && domain.IsKind(err, domain.ErrPartialIngestion) {
			uc.logger.Warn("job finished with failed chunks",
				"job_id", job.JobID,
				"doc_id", result.DocID,
				"failed_chunks", len(result.FailedChunkIDs))
			return result, nil
		}
		return nil, fmt.Errorf("process job %s: %w", job.JobID, err)
	}

	uc.logger.Info("job processed",
		"job_id", job.JobID,
		"doc_id", result.DocID,
		"lag_seconds", time.Since(job.SubmittedAt).Seconds())
	return result, nil
}

func (uc *ProcessJobUseCase) loadContent(ctx context.Context, key string) ([]byte, error) {
	reader, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open stored content: %w", err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read stored content: %w", err)
	}
	return content, nil
}
