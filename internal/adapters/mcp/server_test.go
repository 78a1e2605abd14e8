package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/observability/logging"
)

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
	}, nil
}

type ingestorFake struct {
	result    *domain.IngestResult
	err       error
	gotSource string
	gotBytes  []byte
	gotOpts   domain.IngestOptions
}

func (f *ingestorFake) Ingest(_ context.Context, content []byte, sourceFile string, opts domain.IngestOptions) (*domain.IngestResult, error) {
	f.gotBytes = content
	f.gotSource = sourceFile
	f.gotOpts = opts
	if f.result != nil || f.err != nil {
		return f.result, f.err
	}
	return &domain.IngestResult{DocID: "doc-1", Version: 1, ChunkCount: 2}, nil
}

func newTestServer(querier *querierFake, ingestor *ingestorFake) *Server {
	if querier == nil {
		querier = &querierFake{}
	}
	if ingestor == nil {
		ingestor = &ingestorFake{}
	}
	return NewServer(ingestor, querier, logging.NewNopLogger())
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("expected single content item, got %d", len(result.Content))
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestQueryToolReturnsEvidenceJSON(t *testing.T) {
	querier := &querierFake{}
	srv := newTestServer(querier, nil)

	result, err := srv.handleQuery(context.Background(), callRequest("query", map[string]any{
		"text":  "when are refunds issued",
		"top_n": float64(3),
		"tags":  []any{"hr"},
	}))
	if err != nil {
		t.Fatalf("handleQuery() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var decoded domain.QueryResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(decoded.Items) != 1 || decoded.Items[0].DocID != "doc-1" {
		t.Fatalf("unexpected evidence: %+v", decoded.Items)
	}

	if querier.gotText != "when are refunds issued" {
		t.Fatalf("text not forwarded, got %q", querier.gotText)
	}
	if querier.gotTopN != 3 {
		t.Fatalf("top_n not forwarded, got %d", querier.gotTopN)
	}
	if len(querier.gotFilters.Tags) != 1 || querier.gotFilters.Tags[0] != "hr" {
		t.Fatalf("tags not forwarded, got %+v", querier.gotFilters.Tags)
	}
}

func TestQueryToolRequiresText(t *testing.T) {
	srv := newTestServer(nil, nil)

	result, err := srv.handleQuery(context.Background(), callRequest("query", map[string]any{}))
	if err != nil {
		t.Fatalf("handleQuery() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error for missing text")
	}
}

func TestQueryToolReportsAbstention(t *testing.T) {
	querier := &querierFake{result: &domain.QueryResult{
		Abstained:     true,
		AbstainReason: domain.AbstainNoEvidence,
	}}
	srv := newTestServer(querier, nil)

	result, err := srv.handleQuery(context.Background(), callRequest("query", map[string]any{"text": "obscure"}))
	if err != nil {
		t.Fatalf("handleQuery() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("abstention is an answer, not a tool error")
	}

	var decoded domain.QueryResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.Abstained || decoded.AbstainReason != domain.AbstainNoEvidence {
		t.Fatalf("abstention payload lost: %+v", decoded)
	}
}

func TestIngestToolReadsFile(t *testing.T) {
	ingestor := &ingestorFake{}
	srv := newTestServer(nil, ingestor)

	path := filepath.Join(t.TempDir(), "policy.md")
	if err := os.WriteFile(path, []byte("# Refunds\nWithin 30 days."), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	result, err := srv.handleIngest(context.Background(), callRequest("ingest_document", map[string]any{
		"path": path,
		"tags": []any{"hr", "finance"},
	}))
	if err != nil {
		t.Fatalf("handleIngest() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	if ingestor.gotSource != "policy.md" {
		t.Fatalf("source file not derived from path, got %q", ingestor.gotSource)
	}
	if len(ingestor.gotBytes) == 0 {
		t.Fatalf("file content not forwarded")
	}
	if len(ingestor.gotOpts.Tags) != 2 {
		t.Fatalf("tags not forwarded, got %+v", ingestor.gotOpts.Tags)
	}

	var decoded domain.IngestResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded.DocID != "doc-1" {
		t.Fatalf("unexpected result: %+v", decoded)
	}
}

func TestIngestToolInlineContentNeedsSourceFile(t *testing.T) {
	srv := newTestServer(nil, nil)

	result, err := srv.handleIngest(context.Background(), callRequest("ingest_document", map[string]any{
		"content": "inline text",
	}))
	if err != nil {
		t.Fatalf("handleIngest() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error for inline content without source_file")
	}
}

func TestIngestToolRequiresPathOrContent(t *testing.T) {
	srv := newTestServer(nil, nil)

	result, err := srv.handleIngest(context.Background(), callRequest("ingest_document", map[string]any{}))
	if err != nil {
		t.Fatalf("handleIngest() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error for empty input")
	}
}

func TestIngestToolPartialIngestionStillReturnsResult(t *testing.T) {
	ingestor := &ingestorFake{
		result: &domain.IngestResult{DocID: "doc-2", Version: 1, ChunkCount: 4, FailedChunkIDs: []string{"doc-2:0001"}},
		err:    domain.WrapError(domain.ErrPartialIngestion, "ingest document", errors.New("1 of 5 chunks failed")),
	}
	srv := newTestServer(nil, ingestor)

	result, err := srv.handleIngest(context.Background(), callRequest("ingest_document", map[string]any{
		"content":     "text",
		"source_file": "notes.txt",
	}))
	if err != nil {
		t.Fatalf("handleIngest() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("partial ingestion should still return the result")
	}

	var decoded domain.IngestResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(decoded.FailedChunkIDs) != 1 || decoded.FailedChunkIDs[0] != "doc-2:0001" {
		t.Fatalf("failed chunk ids lost: %+v", decoded)
	}
}
