package domain

import (
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// DocumentRecord is one ingested version of a source file. Records are
// append-only: a newer version supersedes the older one through SupersededBy;
// superseded rows are retained for audit and never rewritten.
type DocumentRecord struct {
	DocID         string         `json:"doc_id"`
	SourceFile    string         `json:"source_file"`
	ContentHash   string         `json:"content_hash"`
	MimeType      string         `json:"mime_type"`
	Title         string         `json:"title,omitempty"`
	Version       int            `json:"version"`
	Tags          []string       `json:"tags,omitempty"`
	EffectiveDate time.Time      `json:"effective_date"`
	Archived      bool           `json:"archived,omitempty"`
	Superseded    bool           `json:"superseded,omitempty"`
	SupersededBy  string         `json:"superseded_by,omitempty"`
	StoragePath   string         `json:"storage_path,omitempty"`
	PageCount     int            `json:"page_count"`
	ChunkCount    int            `json:"chunk_count"`
	Status        DocumentStatus `json:"status"`
	Error         string         `json:"error,omitempty"`
	IngestedAt    time.Time      `json:"ingested_at"`
}

// ChunkRecord is one retrieval unit cut from the normalized document text.
// CharStart/CharEnd index into that text; adjacent chunks overlap.
type ChunkRecord struct {
	ChunkID     string    `json:"chunk_id"`
	DocID       string    `json:"doc_id"`
	Seq         int       `json:"seq"`
	SectionPath string    `json:"section_path,omitempty"`
	PageStart   int       `json:"page_start"`
	PageEnd     int       `json:"page_end"`
	CharStart   int       `json:"char_start"`
	CharEnd     int       `json:"char_end"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"-"`
	Indexed     bool      `json:"indexed"`
}

// ChunkIDFor builds the chunk identifier for a document sequence position.
// The sequence is zero-padded so lexicographic order equals sequence order.
func ChunkIDFor(docID string, seq int) string {
	return fmt.Sprintf("%s:%04d", docID, seq)
}

type IngestResult struct {
	DocID          string   `json:"doc_id"`
	Version        int      `json:"version"`
	ChunkCount     int      `json:"chunk_count"`
	FailedChunkIDs []string `json:"failed_chunk_ids,omitempty"`
	Deduplicated   int      `json:"deduplicated,omitempty"`
	Unchanged      bool     `json:"unchanged,omitempty"`
}

// IngestOptions carries caller-supplied metadata for one ingestion.
// A zero EffectiveDate defaults to the ingest time.
type IngestOptions struct {
	Tags          []string  `json:"tags,omitempty"`
	EffectiveDate time.Time `json:"effective_date,omitempty"`
	Archived      bool      `json:"archived,omitempty"`
}

// IngestJob is the queued form of an ingestion request: the raw bytes stay in
// object storage, the job carries the pointer.
type IngestJob struct {
	JobID       string        `json:"job_id"`
	StoragePath string        `json:"storage_path"`
	SourceFile  string        `json:"source_file"`
	Options     IngestOptions `json:"options"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// LineageEntry is one element of a source file's version chain.
type LineageEntry struct {
	DocID        string    `json:"doc_id"`
	Version      int       `json:"version"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	IngestedAt   time.Time `json:"ingested_at"`
}
