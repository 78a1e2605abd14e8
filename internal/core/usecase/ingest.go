package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
)

// IngestConfig fixes the ingestion batch size at construction.
type IngestConfig struct {
	EmbedBatchSize int
}

func (c IngestConfig) normalize() IngestConfig {
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 32
	}
	return c
}

// IngestUseCase runs the write path end to end: hash, extract, chunk, dedup,
// embed, dual-write, promote. Chunk-level failures are collected per chunk
// and reported alongside the result; document-level failures mark the record
// failed. Re-ingesting bytes already current is a no-op.
type IngestUseCase struct {
	registry  ports.DocumentRegistry
	storage   ports.ObjectStorage
	extractor ports.Extractor
	chunker   ports.Chunker
	dedup     ports.DuplicateDetector
	embedder  ports.Embedder
	dense     ports.DenseIndex
	lexical   ports.LexicalIndex
	lineage   ports.LineageRecorder
	cfg       IngestConfig
	logger    *slog.Logger
}

// NewIngestUseCase wires the write path. lineage may be nil; the audit graph
// is optional.
func NewIngestUseCase(
	registry ports.DocumentRegistry,
	storage ports.ObjectStorage,
	extractor ports.Extractor,
	chunker ports.Chunker,
	dedup ports.DuplicateDetector,
	embedder ports.Embedder,
	dense ports.DenseIndex,
	lexical ports.LexicalIndex,
	lineage ports.LineageRecorder,
	cfg IngestConfig,
	logger *slog.Logger,
) *IngestUseCase {
	return &IngestUseCase{
		registry:  registry,
		storage:   storage,
		extractor: extractor,
		chunker:   chunker,
		dedup:     dedup,
		embedder:  embedder,
		dense:     dense,
		lexical:   lexical,
		lineage:   lineage,
		cfg:       cfg.normalize(),
		logger:    logger,
	}
}

func (uc *IngestUseCase) Ingest(ctx context.Context, content []byte, sourceFile string, opts domain.IngestOptions) (*domain.IngestResult, error) {
	if len(content) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("empty content"))
	}
	if sourceFile == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("missing source file name"))
	}

	hash := contentHash(content)
	existing, err := uc.registry.FindByContentHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("look up content hash: %w", err)
	}
	if existing != nil && !existing.Superseded {
		uc.logger.Info("content already ingested",
			"doc_id", existing.DocID,
			"source_file", existing.SourceFile)
		return &domain.IngestResult{
			DocID:      existing.DocID,
			Version:    existing.Version,
			ChunkCount: existing.ChunkCount,
			Unchanged:  true,
		}, nil
	}

	extracted, err := uc.extract(ctx, content, sourceFile)
	if err != nil {
		return nil, err
	}

	version, err := uc.nextVersion(ctx, sourceFile)
	if err != nil {
		return nil, err
	}
	docID := deriveDocID(hash, version)

	storageKey := fmt.Sprintf("%s_%s", docID, sanitizeFilename(sourceFile))
	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := buildRecord(docID, sourceFile, hash, storageKey, version, extracted, opts)
	if err := uc.registry.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	result, err := uc.indexDocument(ctx, doc, extracted)
	if err != nil {
		if failErr := uc.markFailed(ctx, doc.DocID, err); failErr != nil {
			return nil, fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return nil, err
	}

	if len(result.FailedChunkIDs) > 0 {
		total := result.ChunkCount + len(result.FailedChunkIDs)
		return result, domain.WrapError(domain.ErrPartialIngestion, "ingest document",
			fmt.Errorf("%d of %d chunks failed", len(result.FailedChunkIDs), total))
	}

	uc.logger.Info("document ingested",
		"doc_id", doc.DocID,
		"version", doc.Version,
		"chunks", result.ChunkCount,
		"deduplicated", result.Deduplicated)
	return result, nil
}

func (uc *IngestUseCase) indexDocument(ctx context.Context, doc *domain.DocumentRecord, extracted *domain.ExtractedDocument) (*domain.IngestResult, error) {
	spans, deduped, err := uc.chunk(extracted)
	if err != nil {
		return nil, err
	}

	records := buildChunkRecords(doc.DocID, spans)
	failed := uc.embedChunks(ctx, records)
	if err := uc.registry.CreateChunks(ctx, records); err != nil {
		return nil, fmt.Errorf("create chunk records: %w", err)
	}

	indexed := uc.dualWrite(ctx, doc, records, failed)
	if len(indexed) == 0 {
		return nil, domain.WrapError(domain.ErrTemporary, "index document",
			fmt.Errorf("all %d chunks failed", len(records)))
	}
	if err := uc.registry.MarkChunksIndexed(ctx, indexed); err != nil {
		return nil, fmt.Errorf("mark chunks indexed: %w", err)
	}

	prev, err := uc.registry.Promote(ctx, doc.DocID)
	if err != nil {
		return nil, fmt.Errorf("promote document: %w", err)
	}
	uc.retirePrevious(ctx, doc, prev)

	failedIDs := make([]string, 0, len(failed))
	for _, rec := range records {
		if failed[rec.ChunkID] {
			failedIDs = append(failedIDs, rec.ChunkID)
		}
	}
	return &domain.IngestResult{
		DocID:          doc.DocID,
		Version:        doc.Version,
		ChunkCount:     len(indexed),
		FailedChunkIDs: failedIDs,
		Deduplicated:   deduped,
	}, nil
}

func (uc *IngestUseCase) extract(ctx context.Context, content []byte, sourceFile string) (*domain.ExtractedDocument, error) {
	extracted, err := uc.extractor.Extract(ctx, content, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("extract document: %w", err)
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return nil, domain.WrapError(domain.ErrParse, "extract document", errors.New("empty extracted text"))
	}
	return extracted, nil
}

func (uc *IngestUseCase) nextVersion(ctx context.Context, sourceFile string) (int, error) {
	current, err := uc.registry.CurrentVersion(ctx, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("look up current version: %w", err)
	}
	if current == nil {
		return 1, nil
	}
	return current.Version + 1, nil
}

func (uc *IngestUseCase) chunk(extracted *domain.ExtractedDocument) ([]domain.ChunkSpan, int, error) {
	spans := uc.chunker.Split(extracted)
	if len(spans) == 0 {
		return nil, 0, domain.WrapError(domain.ErrParse, "chunk document", errors.New("chunking produced zero chunks"))
	}
	drop := uc.dedup.Duplicates(spans)
	if len(drop) == 0 {
		return spans, 0, nil
	}
	dropSet := make(map[int]bool, len(drop))
	for _, idx := range drop {
		dropSet[idx] = true
	}
	kept := make([]domain.ChunkSpan, 0, len(spans)-len(drop))
	for i, span := range spans {
		if !dropSet[i] {
			kept = append(kept, span)
		}
	}
	return kept, len(spans) - len(kept), nil
}

// embedChunks fills embeddings batch by batch, preserving chunk order. A
// failed batch marks its chunks failed and the loop moves on; embedding
// trouble never aborts the document.
func (uc *IngestUseCase) embedChunks(ctx context.Context, records []domain.ChunkRecord) map[string]bool {
	failed := make(map[string]bool)
	for start := 0; start < len(records); start += uc.cfg.EmbedBatchSize {
		end := start + uc.cfg.EmbedBatchSize
		if end > len(records) {
			end = len(records)
		}
		texts := make([]string, 0, end-start)
		for _, rec := range records[start:end] {
			texts = append(texts, rec.Text)
		}
		vectors, err := uc.embedder.Embed(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(texts))
		}
		if err != nil {
			for _, rec := range records[start:end] {
				failed[rec.ChunkID] = true
			}
			uc.logger.Warn("embedding batch failed",
				"batch_start", start,
				"size", end-start,
				"error", err)
			continue
		}
		for i := range vectors {
			records[start+i].Embedding = vectors[i]
		}
	}
	return failed
}

// dualWrite sends every embedded chunk to both indexes, the pair in
// parallel. A chunk counts as indexed only when both writes land.
func (uc *IngestUseCase) dualWrite(ctx context.Context, doc *domain.DocumentRecord, records []domain.ChunkRecord, failed map[string]bool) []string {
	indexed := make([]string, 0, len(records))
	for _, rec := range records {
		if failed[rec.ChunkID] {
			continue
		}
		if ctx.Err() != nil {
			failed[rec.ChunkID] = true
			continue
		}
		if err := uc.writeBoth(ctx, doc, rec); err != nil {
			failed[rec.ChunkID] = true
			uc.logger.Warn("chunk index write failed",
				"chunk_id", rec.ChunkID,
				"error", err)
			continue
		}
		indexed = append(indexed, rec.ChunkID)
	}
	return indexed
}

func (uc *IngestUseCase) writeBoth(ctx context.Context, doc *domain.DocumentRecord, chunk domain.ChunkRecord) error {
	errs := make(chan error, 2)
	go func() { errs <- uc.dense.Upsert(ctx, doc, chunk) }()
	go func() { errs <- uc.lexical.Index(ctx, doc, chunk) }()
	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// retirePrevious flags the superseded version in both indexes and mirrors
// the transition into the audit graph. All of it is best-effort: the
// registry transaction already decided visibility and the index flags can be
// re-applied.
func (uc *IngestUseCase) retirePrevious(ctx context.Context, doc, prev *domain.DocumentRecord) {
	if uc.lineage != nil {
		if err := uc.lineage.RecordVersion(ctx, doc); err != nil {
			uc.logger.Warn("lineage record failed", "doc_id", doc.DocID, "error", err)
		}
	}
	if prev == nil {
		return
	}
	oldChunks, err := uc.registry.ListChunks(ctx, prev.DocID)
	if err != nil {
		uc.logger.Warn("list superseded chunks failed", "doc_id", prev.DocID, "error", err)
		return
	}
	if err := uc.dense.MarkSuperseded(ctx, prev, oldChunks); err != nil {
		uc.logger.Warn("dense supersede flag failed", "doc_id", prev.DocID, "error", err)
	}
	if err := uc.lexical.MarkSuperseded(ctx, prev, oldChunks); err != nil {
		uc.logger.Warn("lexical supersede flag failed", "doc_id", prev.DocID, "error", err)
	}
	if uc.lineage != nil {
		if err := uc.lineage.RecordSupersession(ctx, doc, prev); err != nil {
			uc.logger.Warn("lineage supersession failed", "doc_id", doc.DocID, "error", err)
		}
	}
}

func (uc *IngestUseCase) markFailed(ctx context.Context, docID string, ingestErr error) error {
	if ingestErr == nil {
		return nil
	}
	return uc.registry.UpdateStatus(ctx, docID, domain.StatusFailed, ingestErr.Error())
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// deriveDocID is stable for a given content and lineage position, so a
// retried ingest of the same bytes lands on the same record.
func deriveDocID(hash string, version int) string {
	return fmt.Sprintf("%s-v%d", hash[:16], version)
}

func buildRecord(docID, sourceFile, hash, storageKey string, version int, extracted *domain.ExtractedDocument, opts domain.IngestOptions) *domain.DocumentRecord {
	title := extracted.Title
	if title == "" {
		title = filepath.Base(sourceFile)
	}
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}
	effective := opts.EffectiveDate
	if effective.IsZero() {
		effective = time.Now().UTC()
	}
	return &domain.DocumentRecord{
		DocID:         docID,
		SourceFile:    sourceFile,
		ContentHash:   hash,
		MimeType:      extracted.MimeType,
		Title:         title,
		Version:       version,
		Tags:          tags,
		EffectiveDate: effective,
		Archived:      opts.Archived,
		StoragePath:   storageKey,
		PageCount:     extracted.PageCount,
		Status:        domain.StatusProcessing,
		IngestedAt:    time.Now().UTC(),
	}
}

func buildChunkRecords(docID string, spans []domain.ChunkSpan) []domain.ChunkRecord {
	records := make([]domain.ChunkRecord, len(spans))
	for i, span := range spans {
		records[i] = domain.ChunkRecord{
			ChunkID:     domain.ChunkIDFor(docID, i),
			DocID:       docID,
			Seq:         i,
			SectionPath: span.SectionPath,
			PageStart:   span.PageStart,
			PageEnd:     span.PageEnd,
			CharStart:   span.CharStart,
			CharEnd:     span.CharEnd,
			Text:        span.Text,
		}
	}
	return records
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
