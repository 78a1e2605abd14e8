package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/infrastructure/resilience"
)

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1})
}

func testDoc() *domain.DocumentRecord {
	return &domain.DocumentRecord{
		DocID:         "doc-1",
		SourceFile:    "policy.md",
		Version:       2,
		Tags:          []string{"hr"},
		EffectiveDate: time.Unix(1700000000, 0),
	}
}

func testChunk() domain.ChunkRecord {
	return domain.ChunkRecord{
		ChunkID:   "doc-1:0000",
		DocID:     "doc-1",
		Seq:       0,
		Embedding: []float32{0.1, 0.2, 0.3},
	}
}

func TestUpsertEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	var ensureBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&ensureCalls, 1)
			_ = json.NewDecoder(r.Body).Decode(&ensureBody)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks", testExecutor())
	if err := client.Upsert(context.Background(), testDoc(), testChunk()); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := client.Upsert(context.Background(), testDoc(), testChunk()); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Errorf("ensure calls = %d, want 1", got)
	}
	vectors, _ := ensureBody["vectors"].(map[string]any)
	if vectors["size"] != float64(3) {
		t.Errorf("vector size = %v, want 3", vectors["size"])
	}
}

func TestUpsertWritesStablePointAndPayload(t *testing.T) {
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			bodies = append(bodies, body)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks", testExecutor())
	if err := client.Upsert(context.Background(), testDoc(), testChunk()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := client.Upsert(context.Background(), testDoc(), testChunk()); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("upsert calls = %d, want 2", len(bodies))
	}
	first := bodies[0]["points"].([]any)[0].(map[string]any)
	second := bodies[1]["points"].([]any)[0].(map[string]any)
	if first["id"] != second["id"] {
		t.Errorf("point IDs differ across identical upserts: %v vs %v", first["id"], second["id"])
	}

	payload := first["payload"].(map[string]any)
	if payload["chunk_id"] != "doc-1:0000" || payload["doc_id"] != "doc-1" {
		t.Errorf("payload identity = %v", payload)
	}
	if payload["superseded"] != false {
		t.Errorf("superseded = %v, want false", payload["superseded"])
	}
	if payload["effective_date"] != float64(1700000000) {
		t.Errorf("effective_date = %v", payload["effective_date"])
	}
	tags, _ := payload["tags"].([]any)
	if len(tags) != 1 || tags[0] != "hr" {
		t.Errorf("tags = %v", payload["tags"])
	}
}

func TestUpsertRejectsMissingEmbedding(t *testing.T) {
	client := New("http://unused", "chunks", testExecutor())
	chunk := testChunk()
	chunk.Embedding = nil
	err := client.Upsert(context.Background(), testDoc(), chunk)
	if err == nil || !strings.Contains(err.Error(), "no embedding") {
		t.Errorf("err = %v, want missing embedding error", err)
	}
}

func TestSearchRanksHitsAndPushesFilters(t *testing.T) {
	var searchBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/chunks/points/search" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&searchBody)
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.91,"payload":{"chunk_id":"doc-1:0002"}},
			{"score":0.84,"payload":{"chunk_id":"doc-2:0000"}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", testExecutor())
	filters := domain.QueryFilters{
		Tags:           []string{"hr", "legal"},
		EffectiveAfter: time.Unix(1600000000, 0),
	}
	hits, err := client.Search(context.Background(), []float32{1, 0}, 100, filters)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].ChunkID != "doc-1:0002" || hits[0].Rank != 1 || hits[0].RawScore != 0.91 {
		t.Errorf("first hit = %+v", hits[0])
	}
	if hits[1].Rank != 2 || hits[1].Source != domain.SourceDense {
		t.Errorf("second hit = %+v", hits[1])
	}

	if searchBody["limit"] != float64(100) {
		t.Errorf("limit = %v", searchBody["limit"])
	}
	filter, _ := searchBody["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	keys := map[string]bool{}
	for _, clause := range must {
		m := clause.(map[string]any)
		keys[m["key"].(string)] = true
	}
	for _, want := range []string{"superseded", "archived", "tags", "effective_date"} {
		if !keys[want] {
			t.Errorf("filter missing %q clause: %v", want, must)
		}
	}
}

func TestSearchWithoutRestrictionsSendsNoFilter(t *testing.T) {
	var searchBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&searchBody)
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", testExecutor())
	filters := domain.QueryFilters{IncludeArchived: true, IncludeSuperseded: true}
	if _, err := client.Search(context.Background(), []float32{1}, 10, filters); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := searchBody["filter"]; ok {
		t.Errorf("filter sent for unrestricted search: %v", searchBody["filter"])
	}
}

func TestMarkSupersededFlagsChunkPoints(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/chunks/points/payload" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", testExecutor())
	chunks := []domain.ChunkRecord{
		{ChunkID: "doc-1:0000"},
		{ChunkID: "doc-1:0001"},
	}
	if err := client.MarkSuperseded(context.Background(), testDoc(), chunks); err != nil {
		t.Fatalf("MarkSuperseded: %v", err)
	}

	payload, _ := body["payload"].(map[string]any)
	if payload["superseded"] != true {
		t.Errorf("payload = %v", payload)
	}
	points, _ := body["points"].([]any)
	if len(points) != 2 {
		t.Fatalf("points = %v, want 2", points)
	}
	if points[0] != pointID("doc-1:0000") || points[1] != pointID("doc-1:0001") {
		t.Errorf("points = %v", points)
	}
}

func TestEnsureCollectionConflictMeansCreated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			http.Error(w, "already exists", http.StatusConflict)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks", testExecutor())
	if err := client.Upsert(context.Background(), testDoc(), testChunk()); err != nil {
		t.Fatalf("Upsert with existing collection: %v", err)
	}
}

func TestSearchServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index corrupted", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "chunks", testExecutor())
	_, err := client.Search(context.Background(), []float32{1}, 10, domain.QueryFilters{})
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if !strings.Contains(err.Error(), "index corrupted") {
		t.Errorf("err = %v, want body included", err)
	}
}
