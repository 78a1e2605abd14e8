package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/infrastructure/resilience"
)

// Client stores chunk vectors in a Qdrant collection. Point IDs derive from
// chunk IDs, so re-ingesting the same bytes overwrites instead of
// duplicating, and supersession flips a payload flag that every search
// filters on.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	exec       *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, exec *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		exec:       exec,
	}
}

func (c *Client) Upsert(ctx context.Context, doc *domain.DocumentRecord, chunk domain.ChunkRecord) error {
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("chunk %s has no embedding", chunk.ChunkID)
	}
	if err := c.ensureCollection(ctx, len(chunk.Embedding)); err != nil {
		return err
	}

	point := map[string]any{
		"id":      pointID(chunk.ChunkID),
		"vector":  chunk.Embedding,
		"payload": chunkPayload(doc, chunk),
	}
	reqBody := map[string]any{"points": []map[string]any{point}}

	err := c.exec.Execute(ctx, "qdrant_upsert", func(ctx context.Context) error {
		path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
		return c.call(ctx, http.MethodPut, path, reqBody, nil, "upsert")
	}, classifyQdrantError)
	return wrapTemporaryIfNeeded("qdrant upsert", err)
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filters domain.QueryFilters,
) ([]domain.CandidateHit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": []string{"chunk_id"},
	}
	if filter := searchFilter(filters); filter != nil {
		reqBody["filter"] = filter
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := c.exec.ExecuteOnce(ctx, "qdrant_search", func(ctx context.Context) error {
		path := fmt.Sprintf("/collections/%s/points/search", c.collection)
		return c.call(ctx, http.MethodPost, path, reqBody, &searchResp, "search")
	}, classifyQdrantError)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.CandidateHit, 0, len(searchResp.Result))
	for i, r := range searchResp.Result {
		chunkID, _ := r.Payload["chunk_id"].(string)
		if chunkID == "" {
			continue
		}
		hits = append(hits, domain.CandidateHit{
			ChunkID:  chunkID,
			Source:   domain.SourceDense,
			RawScore: r.Score,
			Rank:     i + 1,
		})
	}
	return hits, nil
}

func (c *Client) MarkSuperseded(ctx context.Context, doc *domain.DocumentRecord, chunks []domain.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		ids = append(ids, pointID(chunk.ChunkID))
	}
	reqBody := map[string]any{
		"payload": map[string]any{"superseded": true},
		"points":  ids,
	}

	err := c.exec.Execute(ctx, "qdrant_supersede", func(ctx context.Context) error {
		path := fmt.Sprintf("/collections/%s/points/payload?wait=true", c.collection)
		return c.call(ctx, http.MethodPost, path, reqBody, nil, "set payload")
	}, classifyQdrantError)
	return wrapTemporaryIfNeeded("qdrant supersede", err)
}

// pointID maps a chunk ID onto a stable UUID, which is the only point key
// format Qdrant accepts.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func chunkPayload(doc *domain.DocumentRecord, chunk domain.ChunkRecord) map[string]any {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"chunk_id":       chunk.ChunkID,
		"doc_id":         doc.DocID,
		"source_file":    doc.SourceFile,
		"version":        doc.Version,
		"seq":            chunk.Seq,
		"section_path":   chunk.SectionPath,
		"page_start":     chunk.PageStart,
		"page_end":       chunk.PageEnd,
		"tags":           tags,
		"effective_date": doc.EffectiveDate.Unix(),
		"archived":       doc.Archived,
		"superseded":     false,
	}
}

func searchFilter(filters domain.QueryFilters) map[string]any {
	var must []map[string]any

	if !filters.IncludeSuperseded {
		must = append(must, map[string]any{
			"key":   "superseded",
			"match": map[string]any{"value": false},
		})
	}
	if !filters.IncludeArchived {
		must = append(must, map[string]any{
			"key":   "archived",
			"match": map[string]any{"value": false},
		})
	}
	if len(filters.Tags) > 0 {
		must = append(must, map[string]any{
			"key":   "tags",
			"match": map[string]any{"any": filters.Tags},
		})
	}
	if dateRange := effectiveRange(filters); dateRange != nil {
		must = append(must, map[string]any{
			"key":   "effective_date",
			"range": dateRange,
		})
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func effectiveRange(filters domain.QueryFilters) map[string]any {
	r := map[string]any{}
	if !filters.EffectiveAfter.IsZero() {
		r["gte"] = filters.EffectiveAfter.Unix()
	}
	if !filters.EffectiveBefore.IsZero() {
		r["lte"] = filters.EffectiveBefore.Unix()
	}
	if len(r) == 0 {
		return nil
	}
	return r
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	err := c.exec.Execute(ctx, "qdrant_ensure", func(ctx context.Context) error {
		path := fmt.Sprintf("/collections/%s", c.collection)
		return c.call(ctx, http.MethodPut, path, reqBody, nil, "ensure collection")
	}, classifyQdrantError)
	if err != nil {
		// 409 means another writer created it first.
		var se *statusError
		if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
			c.markCollectionEnsured(vectorSize)
			return nil
		}
		return wrapTemporaryIfNeeded("qdrant ensure collection", err)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
