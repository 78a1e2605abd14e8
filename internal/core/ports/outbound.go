package ports

import (
	"context"
	"io"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// DocumentRegistry persists append-only document and chunk records.
// Lookup methods return (nil, nil) when nothing matches.
type DocumentRegistry interface {
	CreateDocument(ctx context.Context, doc *domain.DocumentRecord) error
	GetDocument(ctx context.Context, docID string) (*domain.DocumentRecord, error)
	FindByContentHash(ctx context.Context, hash string) (*domain.DocumentRecord, error)
	CurrentVersion(ctx context.Context, sourceFile string) (*domain.DocumentRecord, error)
	ListLineage(ctx context.Context, sourceFile string) ([]domain.DocumentRecord, error)
	UpdateStatus(ctx context.Context, docID string, status domain.DocumentStatus, errMessage string) error
	GetDocuments(ctx context.Context, docIDs []string) ([]domain.DocumentRecord, error)
	CreateChunks(ctx context.Context, chunks []domain.ChunkRecord) error
	MarkChunksIndexed(ctx context.Context, chunkIDs []string) error
	GetChunks(ctx context.Context, chunkIDs []string) ([]domain.ChunkRecord, error)
	ListChunks(ctx context.Context, docID string) ([]domain.ChunkRecord, error)
	// Promote marks the document ready and current, supersedes the previous
	// current version of the same lineage in one transaction, and returns that
	// previous record (nil for a first version).
	Promote(ctx context.Context, docID string) (*domain.DocumentRecord, error)
}

// ObjectStorage keeps the raw source bytes for audit and reprocessing.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue transports ingest jobs between the API and the worker.
type MessageQueue interface {
	PublishIngestJob(ctx context.Context, job domain.IngestJob) error
	SubscribeIngestJobs(ctx context.Context, handler func(context.Context, domain.IngestJob) error) error
}

// Extractor turns raw bytes into normalized text with section and page maps.
type Extractor interface {
	Extract(ctx context.Context, content []byte, sourceFile string) (*domain.ExtractedDocument, error)
}

// Chunker splits normalized text into overlapping, boundary-aligned windows.
type Chunker interface {
	Split(doc *domain.ExtractedDocument) []domain.ChunkSpan
}

// DuplicateDetector finds near-identical chunks within one ingest batch.
// It returns the indexes of spans to drop; earlier occurrences win.
type DuplicateDetector interface {
	Duplicates(spans []domain.ChunkSpan) []int
}

// Embedder builds vectors for chunk batches and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DenseIndex stores chunk vectors and serves filtered similarity search.
// Search returns hits ordered best-first with 1-based ranks assigned.
type DenseIndex interface {
	Upsert(ctx context.Context, doc *domain.DocumentRecord, chunk domain.ChunkRecord) error
	Search(ctx context.Context, queryVector []float32, limit int, filters domain.QueryFilters) ([]domain.CandidateHit, error)
	MarkSuperseded(ctx context.Context, doc *domain.DocumentRecord, chunks []domain.ChunkRecord) error
}

// LexicalIndex stores chunk text and serves filtered keyword search.
// Search returns hits ordered best-first with 1-based ranks assigned.
type LexicalIndex interface {
	Index(ctx context.Context, doc *domain.DocumentRecord, chunk domain.ChunkRecord) error
	Search(ctx context.Context, queryText string, limit int, filters domain.QueryFilters) ([]domain.CandidateHit, error)
	MarkSuperseded(ctx context.Context, doc *domain.DocumentRecord, chunks []domain.ChunkRecord) error
}

// CrossEncoderScorer scores query/passage pairs for reranking.
type CrossEncoderScorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// ConfidenceProvider supplies the external confidence signal consumed by the
// abstention gate.
type ConfidenceProvider interface {
	Confidence(ctx context.Context, query string, items []domain.EvidenceItem) (float64, error)
}

// LineageRecorder mirrors version supersession into the audit graph. The
// graph is a write-only projection; reads happen through graph tooling, not
// through this service.
type LineageRecorder interface {
	RecordVersion(ctx context.Context, doc *domain.DocumentRecord) error
	RecordSupersession(ctx context.Context, newDoc, oldDoc *domain.DocumentRecord) error
}
