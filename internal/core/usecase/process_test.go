package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/observability/logging"
)

type processStorageFake struct {
	content map[string]string
	err     error
}

func (f *processStorageFake) Save(context.Context, string, io.Reader) error {
	return errors.New("not implemented")
}

func (f *processStorageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.content[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type processIngestorFake struct {
	content    string
	sourceFile string
	result     *domain.IngestResult
	err        error
}

func (f *processIngestorFake) Ingest(_ context.Context, content []byte, sourceFile string, _ domain.IngestOptions) (*domain.IngestResult, error) {
	f.content = string(content)
	f.sourceFile = sourceFile
	return f.result, f.err
}

func processJob() domain.IngestJob {
	return domain.IngestJob{
		JobID:       "job-1",
		StoragePath: "inbox/job-1_notes.txt",
		SourceFile:  "notes.txt",
		SubmittedAt: time.Now().UTC(),
	}
}

func TestProcessJobRunsPipeline(t *testing.T) {
	storage := &processStorageFake{content: map[string]string{"inbox/job-1_notes.txt": "stored bytes"}}
	ingestor := &processIngestorFake{result: &domain.IngestResult{DocID: "doc-1", ChunkCount: 3}}
	uc := NewProcessJobUseCase(storage, ingestor, logging.NewNopLogger())

	result, err := uc.Process(context.Background(), processJob())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.DocID != "doc-1" {
		t.Fatalf("expected ingest result, got %+v", result)
	}
	if ingestor.content != "stored bytes" || ingestor.sourceFile != "notes.txt" {
		t.Fatalf("expected stored bytes handed to the pipeline, got %q for %s", ingestor.content, ingestor.sourceFile)
	}
}

func TestProcessJobToleratesPartialIngestion(t *testing.T) {
	storage := &processStorageFake{content: map[string]string{"inbox/job-1_notes.txt": "stored bytes"}}
	ingestor := &processIngestorFake{
		result: &domain.IngestResult{DocID: "doc-1", ChunkCount: 2, FailedChunkIDs: []string{"doc-1:0003"}},
		err:    domain.WrapError(domain.ErrPartialIngestion, "ingest document", errors.New("1 of 3 chunks failed")),
	}
	uc := NewProcessJobUseCase(storage, ingestor, logging.NewNopLogger())

	result, err := uc.Process(context.Background(), processJob())
	if err != nil {
		t.Fatalf("partial ingestion must not fail the job, got %v", err)
	}
	if len(result.FailedChunkIDs) != 1 {
		t.Fatalf("expected failed chunk ids surfaced, got %+v", result)
	}
}

func TestProcessJobPropagatesFatalErrors(t *testing.T) {
	storage := &processStorageFake{content: map[string]string{"inbox/job-1_notes.txt": "stored bytes"}}
	ingestor := &processIngestorFake{err: domain.WrapError(domain.ErrParse, "extract document", errors.New("bad pdf"))}
	uc := NewProcessJobUseCase(storage, ingestor, logging.NewNopLogger())

	if _, err := uc.Process(context.Background(), processJob()); !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected parse error propagated, got %v", err)
	}
}

func TestProcessJobMissingObjectFails(t *testing.T) {
	storage := &processStorageFake{content: map[string]string{}}
	uc := NewProcessJobUseCase(storage, &processIngestorFake{}, logging.NewNopLogger())

	if _, err := uc.Process(context.Background(), processJob()); err == nil {
		t.Fatalf("expected error for missing stored object")
	}
}
