package httpadapter

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/kirillkom/winnow/internal/config"
	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
	"github.com/kirillkom/winnow/internal/observability/logging"
	"github.com/kirillkom/winnow/internal/observability/metrics"
)

type submitterFake struct {
	job        *domain.IngestJob
	err        error
	gotContent []byte
	gotSource  string
	gotOpts    domain.IngestOptions
}

func (f *submitterFake) Submit(_ context.Context, content []byte, sourceFile string, opts domain.IngestOptions) (*domain.IngestJob, error) {
	f.gotContent = content
	f.gotSource = sourceFile
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.job != nil {
		return f.job, nil
	}
	return &domain.IngestJob{
		JobID:       "job-1",
		StoragePath: "inbox/job-1_" + sourceFile,
		SourceFile:  sourceFile,
		Options:     opts,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type ingestorFake struct {
	result     *domain.IngestResult
	err        error
	gotContent []byte
	gotSource  string
	gotOpts    domain.IngestOptions
}

func (f *ingestorFake) Ingest(_ context.Context, content []byte, sourceFile string, opts domain.IngestOptions) (*domain.IngestResult, error) {
	f.gotContent = content
	f.gotSource = sourceFile
	f.gotOpts = opts
	if f.result != nil || f.err != nil {
		return f.result, f.err
	}
	return &domain.IngestResult{DocID: "doc-1", Version: 1, ChunkCount: 3}, nil
}

type querierFake struct {
	result     *domain.QueryResult
	err        error
	gotText    string
	gotFilters domain.QueryFilters
	gotTopN    int
}

func (f *querierFake) Query(_ context.Context, text string, filters domain.QueryFilters, topN int) (*domain.QueryResult, error) {
	f.gotText = text
	f.gotFilters = filters
	f.gotTopN = topN
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.QueryResult{
		Items: []domain.EvidenceItem{{
			DocID:      "doc-1",
			ChunkIDs:   []string{"doc-1:0000"},
			SourceFile: "policy.md",
			Snippet:    "Refunds are issued within 30 days.",
			Relevance:  0.9,
		}},
		DenseCandidates:   4,
		LexicalCandidates: 3,
	}, nil
}

type readerFake struct {
	doc     *domain.DocumentRecord
	chunks  []domain.ChunkRecord
	history []domain.DocumentRecord
	err     error
}

func (f *readerFake) GetByID(_ context.Context, docID string) (*domain.DocumentRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.doc != nil {
		return f.doc, nil
	}
	return &domain.DocumentRecord{DocID: docID, SourceFile: "policy.md", Version: 1, Status: domain.StatusReady}, nil
}

func (f *readerFake) ListChunks(_ context.Context, docID string) ([]domain.ChunkRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.chunks != nil {
		return f.chunks, nil
	}
	return []domain.ChunkRecord{{ChunkID: domain.ChunkIDFor(docID, 0), DocID: docID, Text: "chunk"}}, nil
}

func (f *readerFake) Lineage(_ context.Context, _ string) ([]domain.DocumentRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

type routerFakes struct {
	submitter ports.IngestSubmitter
	ingestor  ports.DocumentIngestor
	querier   ports.EvidenceQueryService
	reader    ports.DocumentReader
}

func newTestHandler(t *testing.T, cfg config.Config, fakes routerFakes) http.Handler {
	t.Helper()
	if fakes.submitter == nil {
		fakes.submitter = &submitterFake{}
	}
	if fakes.ingestor == nil {
		fakes.ingestor = &ingestorFake{}
	}
	if fakes.querier == nil {
		fakes.querier = &querierFake{}
	}
	if fakes.reader == nil {
		fakes.reader = &readerFake{}
	}

	router := NewRouter(
		cfg,
		fakes.submitter,
		fakes.ingestor,
		fakes.querier,
		fakes.reader,
		metrics.NewHTTPServerMetrics("api"),
		metrics.NewPipelineMetrics(),
		logging.NewNopLogger(),
	)
	handler, err := router.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	return handler
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("WriteField(%s) error = %v", name, err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}
