package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// Registry is the Postgres document registry. Document rows are append-only:
// a newer version supersedes the older one through superseded_by and
// superseded rows stay for audit.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *Registry) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026021001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT PRIMARY KEY,
	source_file TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	effective_date TIMESTAMPTZ NOT NULL,
	archived BOOLEAN NOT NULL DEFAULT FALSE,
	superseded BOOLEAN NOT NULL DEFAULT FALSE,
	superseded_by TEXT NOT NULL DEFAULT '',
	storage_path TEXT NOT NULL DEFAULT '',
	page_count INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	ingested_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_source_file ON documents(source_file);
CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL REFERENCES documents(doc_id),
	seq INTEGER NOT NULL,
	section_path TEXT NOT NULL DEFAULT '',
	page_start INTEGER NOT NULL DEFAULT 0,
	page_end INTEGER NOT NULL DEFAULT 0,
	char_start INTEGER NOT NULL,
	char_end INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding JSONB NOT NULL DEFAULT 'null'::jsonb,
	indexed BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `doc_id, source_file, content_hash, mime_type, title, version, tags, effective_date, archived, superseded, superseded_by, storage_path, page_count, chunk_count, status, error_message, ingested_at`

const chunkColumns = `chunk_id, doc_id, seq, section_path, page_start, page_end, char_start, char_end, content, embedding, indexed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.DocumentRecord, error) {
	var doc domain.DocumentRecord
	var tagsRaw []byte
	var status string
	err := row.Scan(
		&doc.DocID, &doc.SourceFile, &doc.ContentHash, &doc.MimeType, &doc.Title, &doc.Version,
		&tagsRaw, &doc.EffectiveDate, &doc.Archived, &doc.Superseded, &doc.SupersededBy,
		&doc.StoragePath, &doc.PageCount, &doc.ChunkCount, &status, &doc.Error, &doc.IngestedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func scanChunk(row rowScanner) (domain.ChunkRecord, error) {
	var chunk domain.ChunkRecord
	var embeddingRaw []byte
	err := row.Scan(
		&chunk.ChunkID, &chunk.DocID, &chunk.Seq, &chunk.SectionPath,
		&chunk.PageStart, &chunk.PageEnd, &chunk.CharStart, &chunk.CharEnd,
		&chunk.Text, &embeddingRaw, &chunk.Indexed,
	)
	if err != nil {
		return chunk, err
	}
	if len(embeddingRaw) > 0 {
		if err := json.Unmarshal(embeddingRaw, &chunk.Embedding); err != nil {
			return chunk, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return chunk, nil
}

// CreateDocument inserts the record. A conflicting doc_id means a retried
// ingest of the same content and lineage position; the row is refreshed
// instead of rejected so the retry can run to completion.
func (r *Registry) CreateDocument(ctx context.Context, doc *domain.DocumentRecord) error {
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	doc_id, source_file, content_hash, mime_type, title, version, tags, effective_date,
	archived, superseded, superseded_by, storage_path, page_count, chunk_count, status, error_message, ingested_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,'',$10,$11,0,$12,'',$13)
ON CONFLICT (doc_id) DO UPDATE SET
	tags = EXCLUDED.tags,
	effective_date = EXCLUDED.effective_date,
	archived = EXCLUDED.archived,
	status = EXCLUDED.status,
	error_message = '',
	ingested_at = EXCLUDED.ingested_at
`,
		doc.DocID, doc.SourceFile, doc.ContentHash, doc.MimeType, doc.Title, doc.Version, tagsJSON,
		doc.EffectiveDate, doc.Archived, doc.StoragePath, doc.PageCount, string(doc.Status), doc.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *Registry) GetDocument(ctx context.Context, docID string) (*domain.DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE doc_id = $1
`, docID)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// FindByContentHash returns the most recent ready version carrying the hash.
// Failed and still-processing rows never match, so a retry after a failed
// ingest is not mistaken for an idempotent re-submission.
func (r *Registry) FindByContentHash(ctx context.Context, hash string) (*domain.DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE content_hash = $1 AND status = $2
ORDER BY ingested_at DESC
LIMIT 1
`, hash, string(domain.StatusReady))

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document by hash: %w", err)
	}
	return doc, nil
}

func (r *Registry) CurrentVersion(ctx context.Context, sourceFile string) (*domain.DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE source_file = $1 AND status = $2 AND superseded = FALSE
ORDER BY version DESC
LIMIT 1
`, sourceFile, string(domain.StatusReady))

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan current version: %w", err)
	}
	return doc, nil
}

func (r *Registry) ListLineage(ctx context.Context, sourceFile string) ([]domain.DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE source_file = $1
ORDER BY version ASC
`, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	defer rows.Close()

	var records []domain.DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lineage row: %w", err)
		}
		records = append(records, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineage rows: %w", err)
	}
	return records, nil
}

func (r *Registry) UpdateStatus(ctx context.Context, docID string, status domain.DocumentStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3
WHERE doc_id = $1
`, docID, string(status), errMessage)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document status result: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document status", fmt.Errorf("doc %s", docID))
	}
	return nil
}

func (r *Registry) GetDocuments(ctx context.Context, docIDs []string) ([]domain.DocumentRecord, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT `+documentColumns+`
FROM documents
WHERE doc_id IN (%s)
ORDER BY doc_id
`, placeholders(len(docIDs)))

	rows, err := r.db.QueryContext(ctx, query, stringArgs(docIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var records []domain.DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		records = append(records, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return records, nil
}

// CreateChunks writes the batch in one transaction. Conflicting chunk IDs
// come from retried ingests and are refreshed with indexed reset.
func (r *Registry) CreateChunks(ctx context.Context, chunks []domain.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (
	chunk_id, doc_id, seq, section_path, page_start, page_end, char_start, char_end, content, embedding, indexed
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE)
ON CONFLICT (chunk_id) DO UPDATE SET
	section_path = EXCLUDED.section_path,
	page_start = EXCLUDED.page_start,
	page_end = EXCLUDED.page_end,
	char_start = EXCLUDED.char_start,
	char_end = EXCLUDED.char_end,
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding,
	indexed = FALSE
`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding %s: %w", chunk.ChunkID, err)
		}
		_, err = stmt.ExecContext(ctx,
			chunk.ChunkID, chunk.DocID, chunk.Seq, chunk.SectionPath,
			chunk.PageStart, chunk.PageEnd, chunk.CharStart, chunk.CharEnd, chunk.Text, embeddingJSON,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (r *Registry) MarkChunksIndexed(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
UPDATE chunks
SET indexed = TRUE
WHERE chunk_id IN (%s)
`, placeholders(len(chunkIDs)))

	if _, err := r.db.ExecContext(ctx, query, stringArgs(chunkIDs)...); err != nil {
		return fmt.Errorf("mark chunks indexed: %w", err)
	}
	return nil
}

func (r *Registry) GetChunks(ctx context.Context, chunkIDs []string) ([]domain.ChunkRecord, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT `+chunkColumns+`
FROM chunks
WHERE chunk_id IN (%s)
ORDER BY chunk_id
`, placeholders(len(chunkIDs)))

	rows, err := r.db.QueryContext(ctx, query, stringArgs(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

func (r *Registry) ListChunks(ctx context.Context, docID string) ([]domain.ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+chunkColumns+`
FROM chunks
WHERE doc_id = $1
ORDER BY seq ASC
`, docID)
	if err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// Promote marks the document ready and supersedes the previous current
// version of the same source file in one transaction. Visibility flips
// atomically: readers see either the old version or the new one, never both.
func (r *Registry) Promote(ctx context.Context, docID string) (*domain.DocumentRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var sourceFile string
	err = tx.QueryRowContext(ctx, `
SELECT source_file FROM documents WHERE doc_id = $1 FOR UPDATE
`, docID).Scan(&sourceFile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "promote document", fmt.Errorf("doc %s", docID))
	}
	if err != nil {
		return nil, fmt.Errorf("lock document for promote: %w", err)
	}

	prevRow := tx.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE source_file = $1 AND doc_id <> $2 AND status = $3 AND superseded = FALSE
ORDER BY version DESC
LIMIT 1
FOR UPDATE
`, sourceFile, docID, string(domain.StatusReady))

	prev, err := scanDocument(prevRow)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan previous version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = '',
	chunk_count = (SELECT COUNT(*) FROM chunks WHERE chunks.doc_id = documents.doc_id AND indexed)
WHERE doc_id = $1
`, docID, string(domain.StatusReady))
	if err != nil {
		return nil, fmt.Errorf("mark document ready: %w", err)
	}

	if prev != nil {
		_, err = tx.ExecContext(ctx, `
UPDATE documents
SET superseded = TRUE, superseded_by = $2
WHERE doc_id = $1
`, prev.DocID, docID)
		if err != nil {
			return nil, fmt.Errorf("supersede previous version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promote tx: %w", err)
	}
	return prev, nil
}

func collectChunks(rows *sql.Rows) ([]domain.ChunkRecord, error) {
	var chunks []domain.ChunkRecord
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return chunks, nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
