// Package lexical provides the Bleve-backed keyword index for chunk text.
package lexical

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// Index stores one searchable entry per chunk, keyed by chunk ID. Filter
// fields ride along with the text so searches push filters into the engine
// instead of post-filtering results.
type Index struct {
	index bleve.Index
}

// New opens the index at path, creating it when the path does not exist.
// Changing the field mapping requires removing the index directory so the
// next start rebuilds it.
func New(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open lexical index: %w", openErr)
		}
		return &Index{index: index}, nil
	}
	index, err := bleve.New(path, indexMapping())
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}
	return &Index{index: index}, nil
}

// NewInMemory builds an index that lives only for the process lifetime.
func NewInMemory() (*Index, error) {
	index, err := bleve.NewMemOnly(indexMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory lexical index: %w", err)
	}
	return &Index{index: index}, nil
}

func indexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	chunk := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) keeps indexed
	// terms aligned with query terms.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	chunk.AddFieldMappingsAt("text", text)

	kw := bleve.NewKeywordFieldMapping()
	chunk.AddFieldMappingsAt("chunk_id", kw)
	chunk.AddFieldMappingsAt("doc_id", kw)
	chunk.AddFieldMappingsAt("source_file", kw)
	chunk.AddFieldMappingsAt("section_path", kw)
	chunk.AddFieldMappingsAt("tags", kw)

	num := bleve.NewNumericFieldMapping()
	chunk.AddFieldMappingsAt("effective_date", num)

	flag := bleve.NewBooleanFieldMapping()
	chunk.AddFieldMappingsAt("archived", flag)
	chunk.AddFieldMappingsAt("superseded", flag)

	im.AddDocumentMapping("chunk", chunk)
	im.DefaultType = "chunk"
	im.DefaultMapping = chunk
	return im
}

// chunkDoc is the shape Bleve indexes for one chunk.
type chunkDoc struct {
	ChunkID       string   `json:"chunk_id"`
	DocID         string   `json:"doc_id"`
	SourceFile    string   `json:"source_file"`
	Text          string   `json:"text"`
	SectionPath   string   `json:"section_path"`
	Tags          []string `json:"tags"`
	EffectiveDate float64  `json:"effective_date"`
	Archived      bool     `json:"archived"`
	Superseded    bool     `json:"superseded"`
}

func buildChunkDoc(doc *domain.DocumentRecord, chunk domain.ChunkRecord, superseded bool) chunkDoc {
	return chunkDoc{
		ChunkID:       chunk.ChunkID,
		DocID:         chunk.DocID,
		SourceFile:    doc.SourceFile,
		Text:          chunk.Text,
		SectionPath:   chunk.SectionPath,
		Tags:          doc.Tags,
		EffectiveDate: float64(doc.EffectiveDate.Unix()),
		Archived:      doc.Archived,
		Superseded:    superseded,
	}
}

// Index writes one chunk entry. Indexing under an existing chunk ID replaces
// the previous entry, so retried ingests converge.
func (b *Index) Index(ctx context.Context, doc *domain.DocumentRecord, chunk domain.ChunkRecord) error {
	if err := b.index.Index(chunk.ChunkID, buildChunkDoc(doc, chunk, false)); err != nil {
		return fmt.Errorf("index chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

// Search runs a match query over chunk text with filters pushed down and
// returns hits best-first with 1-based ranks.
func (b *Index) Search(ctx context.Context, queryText string, limit int, filters domain.QueryFilters) ([]domain.CandidateHit, error) {
	req := bleve.NewSearchRequest(b.buildQuery(queryText, filters))
	req.Size = limit
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	hits := make([]domain.CandidateHit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		hits = append(hits, domain.CandidateHit{
			ChunkID:  hit.ID,
			Source:   domain.SourceLexical,
			RawScore: hit.Score,
			Rank:     i + 1,
		})
	}
	return hits, nil
}

func (b *Index) buildQuery(queryText string, filters domain.QueryFilters) blevequery.Query {
	match := bleve.NewMatchQuery(queryText)
	match.SetField("text")

	boolean := bleve.NewBooleanQuery()
	boolean.AddMust(match)

	if !filters.IncludeSuperseded {
		q := bleve.NewBoolFieldQuery(false)
		q.SetField("superseded")
		boolean.AddMust(q)
	}
	if !filters.IncludeArchived {
		q := bleve.NewBoolFieldQuery(false)
		q.SetField("archived")
		boolean.AddMust(q)
	}
	if len(filters.Tags) > 0 {
		any := bleve.NewDisjunctionQuery()
		for _, tag := range filters.Tags {
			tq := bleve.NewTermQuery(tag)
			tq.SetField("tags")
			any.AddQuery(tq)
		}
		boolean.AddMust(any)
	}
	if !filters.EffectiveAfter.IsZero() || !filters.EffectiveBefore.IsZero() {
		var min, max *float64
		if !filters.EffectiveAfter.IsZero() {
			v := float64(filters.EffectiveAfter.Unix())
			min = &v
		}
		if !filters.EffectiveBefore.IsZero() {
			v := float64(filters.EffectiveBefore.Unix())
			max = &v
		}
		inclusive := true
		rq := bleve.NewNumericRangeInclusiveQuery(min, max, &inclusive, &inclusive)
		rq.SetField("effective_date")
		boolean.AddMust(rq)
	}
	return boolean
}

// MarkSuperseded flags every chunk of a retired document version. Bleve has
// no partial update, so each chunk is re-indexed whole with the flag set.
func (b *Index) MarkSuperseded(ctx context.Context, doc *domain.DocumentRecord, chunks []domain.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, chunk := range chunks {
		if err := batch.Index(chunk.ChunkID, buildChunkDoc(doc, chunk, true)); err != nil {
			return fmt.Errorf("flag superseded chunk %s: %w", chunk.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("flag superseded chunks: %w", err)
	}
	return nil
}

// DocCount reports the number of indexed chunk entries.
func (b *Index) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close releases the underlying index files.
func (b *Index) Close() error {
	return b.index.Close()
}
