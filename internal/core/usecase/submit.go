package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
)

// SubmitUseCase is the asynchronous front of ingestion: it stores the raw
// bytes and enqueues a job for the worker, deferring the heavy pipeline.
type SubmitUseCase struct {
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	logger  *slog.Logger
}

func NewSubmitUseCase(
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	logger *slog.Logger,
) *SubmitUseCase {
	return &SubmitUseCase{
		storage: storage,
		queue:   queue,
		logger:  logger,
	}
}

func (uc *SubmitUseCase) Submit(ctx context.Context, content []byte, sourceFile string, opts domain.IngestOptions) (*domain.IngestJob, error) {
	if len(content) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("empty content"))
	}
	if sourceFile == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("missing source file name"))
	}

	jobID := uuid.NewString()
	storageKey := fmt.Sprintf("inbox/%s_%s", jobID, sanitizeFilename(sourceFile))

	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	job := domain.IngestJob{
		JobID:       jobID,
		StoragePath: storageKey,
		SourceFile:  sourceFile,
		Options:     opts,
		SubmittedAt: time.Now().UTC(),
	}
	if err := uc.queue.PublishIngestJob(ctx, job); err != nil {
		return nil, fmt.Errorf("publish ingest job: %w", err)
	}

	uc.logger.Info("ingest job submitted",
		"job_id", jobID,
		"source_file", sourceFile,
		"bytes", len(content))
	return &job, nil
}
