// Package lineage mirrors version transitions into a Neo4j audit graph.
// The graph is a write-only projection: this service records versions and
// supersessions, reads happen through graph tooling.
package lineage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/winnow/internal/core/domain"
)

type Recorder struct {
	driver neo4j.DriverWithContext
}

func New(uri, user, password string) (*Recorder, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Recorder{driver: driver}, nil
}

func (r *Recorder) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// RecordVersion anchors the document version under its source file node.
// MERGE keeps retried ingests idempotent.
func (r *Recorder) RecordVersion(ctx context.Context, doc *domain.DocumentRecord) error {
	const query = `
MERGE (f:SourceFile {path: $source_file})
MERGE (v:DocumentVersion {doc_id: $doc_id})
SET v.version = $version,
	v.content_hash = $content_hash,
	v.title = $title,
	v.effective_date = $effective_date,
	v.ingested_at = $ingested_at
MERGE (f)-[:HAS_VERSION]->(v)
`
	return r.write(ctx, query, versionParams(doc))
}

// RecordSupersession links the new version to the one it replaces.
func (r *Recorder) RecordSupersession(ctx context.Context, newDoc, oldDoc *domain.DocumentRecord) error {
	const query = `
MERGE (new:DocumentVersion {doc_id: $new_doc_id})
MERGE (old:DocumentVersion {doc_id: $old_doc_id})
SET old.superseded_by = $new_doc_id
MERGE (new)-[:SUPERSEDES]->(old)
`
	return r.write(ctx, query, supersessionParams(newDoc, oldDoc))
}

func (r *Recorder) write(ctx context.Context, query string, params map[string]any) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("write lineage graph: %w", err)
	}
	return nil
}

func versionParams(doc *domain.DocumentRecord) map[string]any {
	return map[string]any{
		"source_file":    doc.SourceFile,
		"doc_id":         doc.DocID,
		"version":        doc.Version,
		"content_hash":   doc.ContentHash,
		"title":          doc.Title,
		"effective_date": doc.EffectiveDate.UTC(),
		"ingested_at":    doc.IngestedAt.UTC(),
	}
}

func supersessionParams(newDoc, oldDoc *domain.DocumentRecord) map[string]any {
	return map[string]any{
		"new_doc_id": newDoc.DocID,
		"old_doc_id": oldDoc.DocID,
	}
}
