package httpadapter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/winnow/internal/config"
	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
	"github.com/kirillkom/winnow/internal/observability/metrics"
)

// Router exposes the ingestion and retrieval pipeline over HTTP. Writes go
// through the submitter (async, default) or the ingestor (?sync=true); reads
// go through the registry read model.
type Router struct {
	cfg       config.Config
	submitter ports.IngestSubmitter
	ingestor  ports.DocumentIngestor
	querier   ports.EvidenceQueryService
	reader    ports.DocumentReader
	server    *metrics.HTTPServerMetrics
	pipeline  *metrics.PipelineMetrics
	logger    *slog.Logger
}

func NewRouter(
	cfg config.Config,
	submitter ports.IngestSubmitter,
	ingestor ports.DocumentIngestor,
	querier ports.EvidenceQueryService,
	reader ports.DocumentReader,
	server *metrics.HTTPServerMetrics,
	pipeline *metrics.PipelineMetrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		cfg:       cfg,
		submitter: submitter,
		ingestor:  ingestor,
		querier:   querier,
		reader:    reader,
		server:    server,
		pipeline:  pipeline,
		logger:    logger,
	}
}

// Handler assembles the route table and the middleware chain. Order matters:
// request id and access logging wrap everything, the traffic gates sit before
// contract validation so overload answers stay cheap.
func (rt *Router) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("GET /metrics", rt.server.Handler())
	mux.HandleFunc("POST /v1/documents", rt.submitDocument)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/chunks", rt.listChunks)
	mux.HandleFunc("GET /v1/lineage", rt.lineage)
	mux.HandleFunc("POST /v1/query", rt.query)

	validate, err := newOpenAPIValidator()
	if err != nil {
		return nil, fmt.Errorf("build request validator: %w", err)
	}

	var handler http.Handler = mux
	handler = validate(handler)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIQueueWaitMs)*time.Millisecond)
	handler = rt.server.Middleware("api", handler)
	handler = accessLogMiddleware(rt.logger, handler)
	handler = requestIDMiddleware(handler)
	return handler, nil
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) submitDocument(w http.ResponseWriter, r *http.Request) {
	var sync bool
	if err := runtime.BindQueryParameter("form", true, false, "sync", r.URL.Query(), &sync); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "submit document", err))
		return
	}

	content, sourceFile, opts, err := decodeIngestRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if sync {
		result, err := rt.ingestor.Ingest(r.Context(), content, sourceFile, opts)
		if err != nil && !(result != nil && domain.IsKind(err, domain.ErrPartialIngestion)) {
			writeError(w, err)
			return
		}
		// Partial ingestion still answers 200; FailedChunkIDs carries the gap.
		writeJSON(w, http.StatusOK, result)
		return
	}

	job, err := rt.submitter.Submit(r.Context(), content, sourceFile, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.reader.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listChunks(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	chunks, err := rt.reader.ListChunks(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id": docID,
		"count":  len(chunks),
		"chunks": chunks,
	})
}

func (rt *Router) lineage(w http.ResponseWriter, r *http.Request) {
	var sourceFile string
	if err := runtime.BindQueryParameter("form", true, true, "source_file", r.URL.Query(), &sourceFile); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "document lineage", err))
		return
	}

	records, err := rt.reader.Lineage(r.Context(), sourceFile)
	if err != nil {
		writeError(w, err)
		return
	}
	versions := make([]domain.LineageEntry, len(records))
	for i, rec := range records {
		versions[i] = domain.LineageEntry{
			DocID:        rec.DocID,
			Version:      rec.Version,
			SupersededBy: rec.SupersededBy,
			IngestedAt:   rec.IngestedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_file": sourceFile,
		"versions":    versions,
	})
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text    string              `json:"text"`
		Filters domain.QueryFilters `json:"filters"`
		TopN    int                 `json:"top_n"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "query", errors.New("invalid json body")))
		return
	}

	result, err := rt.querier.Query(r.Context(), req.Text, req.Filters, req.TopN)
	if err != nil {
		rt.pipeline.RecordOutcome("api", "error", 0)
		writeError(w, err)
		return
	}

	rt.recordQueryMetrics(result)
	writeJSON(w, http.StatusOK, result)
}

// recordQueryMetrics publishes per-query pipeline observations. Abstention is
// a valid outcome, not an error; degradations are counted by kind.
func (rt *Router) recordQueryMetrics(result *domain.QueryResult) {
	rt.pipeline.ObserveCandidates("api", "dense", result.DenseCandidates)
	rt.pipeline.ObserveCandidates("api", "lexical", result.LexicalCandidates)

	stages := map[string]float64{
		"embed":      result.Timings.EmbedMs,
		"candidates": result.Timings.CandidatesMs,
		"fusion":     result.Timings.FusionMs,
		"rerank":     result.Timings.RerankMs,
		"diversity":  result.Timings.DiversityMs,
		"packaging":  result.Timings.PackagingMs,
		"total":      result.Timings.TotalMs,
	}
	for stage, ms := range stages {
		rt.pipeline.ObserveStage("api", stage, time.Duration(ms*float64(time.Millisecond)))
	}

	if result.Partial {
		rt.pipeline.RecordDegraded("api", "partial_candidates")
	}
	if result.RerankDegraded {
		rt.pipeline.RecordDegraded("api", "rerank")
	}
	if result.Abstained {
		rt.pipeline.RecordOutcome("api", "abstained", 0)
		rt.pipeline.RecordAbstention("api", result.AbstainReason)
		return
	}
	rt.pipeline.RecordOutcome("api", "answered", len(result.Items))
}

func decodeIngestRequest(r *http.Request) ([]byte, string, domain.IngestOptions, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return decodeMultipartIngest(r)
	}
	return decodeJSONIngest(r)
}

func decodeMultipartIngest(r *http.Request) ([]byte, string, domain.IngestOptions, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", domain.IngestOptions{},
			domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("multipart field 'file' is required"))
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, "", domain.IngestOptions{},
			domain.WrapError(domain.ErrInvalidInput, "submit document", err)
	}
	opts, err := ingestOptionsFromForm(r)
	if err != nil {
		return nil, "", domain.IngestOptions{}, err
	}
	return content, header.Filename, opts, nil
}

func ingestOptionsFromForm(r *http.Request) (domain.IngestOptions, error) {
	var opts domain.IngestOptions
	if raw := strings.TrimSpace(r.FormValue("tags")); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				opts.Tags = append(opts.Tags, tag)
			}
		}
	}
	if raw := strings.TrimSpace(r.FormValue("effective_date")); raw != "" {
		parsed, err := parseEffectiveDate(raw)
		if err != nil {
			return opts, domain.WrapError(domain.ErrInvalidInput, "submit document", err)
		}
		opts.EffectiveDate = parsed
	}
	if raw := strings.TrimSpace(r.FormValue("archived")); raw != "" {
		archived, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, domain.WrapError(domain.ErrInvalidInput, "submit document", err)
		}
		opts.Archived = archived
	}
	return opts, nil
}

func decodeJSONIngest(r *http.Request) ([]byte, string, domain.IngestOptions, error) {
	var req struct {
		SourceFile    string   `json:"source_file"`
		Content       string   `json:"content"`
		Tags          []string `json:"tags"`
		EffectiveDate string   `json:"effective_date"`
		Archived      bool     `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "", domain.IngestOptions{},
			domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("invalid json body"))
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return nil, "", domain.IngestOptions{},
			domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("content must be base64"))
	}

	opts := domain.IngestOptions{Tags: req.Tags, Archived: req.Archived}
	if req.EffectiveDate != "" {
		parsed, err := parseEffectiveDate(req.EffectiveDate)
		if err != nil {
			return nil, "", domain.IngestOptions{},
				domain.WrapError(domain.ErrInvalidInput, "submit document", err)
		}
		opts.EffectiveDate = parsed
	}
	return content, req.SourceFile, opts, nil
}

func parseEffectiveDate(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("effective_date %q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
