package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/winnow/internal/config"
	"github.com/kirillkom/winnow/internal/core/domain"
)

func postQuery(t *testing.T, handler http.Handler, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestQueryMapsInvalidInputTo400(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, routerFakes{
		querier: &querierFake{err: domain.WrapError(domain.ErrInvalidInput, "query", errors.New("empty query text"))},
	})

	res := postQuery(t, handler, map[string]any{"text": "refund policy"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestQueryMapsDeadlineTo503(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, routerFakes{
		querier: &querierFake{err: context.DeadlineExceeded},
	})

	res := postQuery(t, handler, map[string]any{"text": "refund policy"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestSubmitSyncParseFailureMapsTo422(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, routerFakes{
		ingestor: &ingestorFake{err: domain.WrapError(domain.ErrParse, "extract document", errors.New("empty extracted text"))},
	})

	body, contentType := multipartBody(t, nil, "broken.pdf", []byte("not really a pdf"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents?sync=true", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
}

func TestGetDocumentMissingMapsTo404(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, routerFakes{
		reader: &readerFake{err: domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("doc missing"))},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestErrorEnvelopeIsJSON(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, routerFakes{
		querier: &querierFake{err: errors.New("boom")},
	})

	res := postQuery(t, handler, map[string]any{"text": "anything"})
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}

	var envelope map[string]string
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope["error"] == "" {
		t.Fatalf("expected error message in envelope")
	}
}
