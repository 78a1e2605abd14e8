package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/observability/logging"
)

type submitStorageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *submitStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *submitStorageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type submitQueueFake struct {
	job *domain.IngestJob
	err error
}

func (f *submitQueueFake) PublishIngestJob(_ context.Context, job domain.IngestJob) error {
	if f.err != nil {
		return f.err
	}
	copyJob := job
	f.job = &copyJob
	return nil
}

func (f *submitQueueFake) SubscribeIngestJobs(context.Context, func(context.Context, domain.IngestJob) error) error {
	return errors.New("not implemented")
}

func TestSubmitSuccess(t *testing.T) {
	storage := &submitStorageFake{}
	queue := &submitQueueFake{}
	uc := NewSubmitUseCase(storage, queue, logging.NewNopLogger())

	opts := domain.IngestOptions{Tags: []string{"hr"}}
	job, err := uc.Submit(context.Background(), []byte("payload"), "employee handbook.pdf", opts)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.JobID == "" {
		t.Fatalf("expected job id")
	}
	if !strings.HasPrefix(job.StoragePath, "inbox/") || !strings.Contains(job.StoragePath, "_employee_handbook.pdf") {
		t.Fatalf("unexpected storage key %s", job.StoragePath)
	}
	if storage.savedBody != "payload" {
		t.Fatalf("expected stored payload, got %q", storage.savedBody)
	}
	if queue.job == nil || queue.job.JobID != job.JobID {
		t.Fatalf("expected published job, got %+v", queue.job)
	}
	if len(queue.job.Options.Tags) != 1 || queue.job.Options.Tags[0] != "hr" {
		t.Fatalf("expected options carried on the job, got %+v", queue.job.Options)
	}
}

func TestSubmitQueueError(t *testing.T) {
	storage := &submitStorageFake{}
	queue := &submitQueueFake{err: errors.New("queue down")}
	uc := NewSubmitUseCase(storage, queue, logging.NewNopLogger())

	_, err := uc.Submit(context.Background(), []byte("payload"), "doc.txt", domain.IngestOptions{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "publish ingest job") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestSubmitRejectsEmptyContent(t *testing.T) {
	uc := NewSubmitUseCase(&submitStorageFake{}, &submitQueueFake{}, logging.NewNopLogger())

	if _, err := uc.Submit(context.Background(), nil, "doc.txt", domain.IngestOptions{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
