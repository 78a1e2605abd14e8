package ports

import (
	"context"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// DocumentIngestor is the inbound contract for the synchronous ingestion
// pipeline.
type DocumentIngestor interface {
	Ingest(ctx context.Context, content []byte, sourceFile string, opts domain.IngestOptions) (*domain.IngestResult, error)
}

// IngestSubmitter stores raw bytes and enqueues an ingest job for the worker.
type IngestSubmitter interface {
	Submit(ctx context.Context, content []byte, sourceFile string, opts domain.IngestOptions) (*domain.IngestJob, error)
}

// EvidenceQueryService is the inbound contract for evidence retrieval.
type EvidenceQueryService interface {
	Query(ctx context.Context, text string, filters domain.QueryFilters, topN int) (*domain.QueryResult, error)
}

// DocumentReader is the inbound read model for registry state.
type DocumentReader interface {
	GetByID(ctx context.Context, docID string) (*domain.DocumentRecord, error)
	ListChunks(ctx context.Context, docID string) ([]domain.ChunkRecord, error)
	Lineage(ctx context.Context, sourceFile string) ([]domain.DocumentRecord, error)
}
