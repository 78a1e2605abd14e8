// Package mcpadapter exposes the pipeline to MCP clients over stdio, so
// editor and agent tooling can ingest documents and pull evidence without
// going through the HTTP surface.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
)

type Server struct {
	ingestor ports.DocumentIngestor
	querier  ports.EvidenceQueryService
	logger   *slog.Logger
	srv      *server.MCPServer
}

func NewServer(
	ingestor ports.DocumentIngestor,
	querier ports.EvidenceQueryService,
	logger *slog.Logger,
) *Server {
	s := &Server{
		ingestor: ingestor,
		querier:  querier,
		logger:   logger,
	}

	srv := server.NewMCPServer(
		"winnow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	srv.AddTool(queryTool(), s.handleQuery)
	srv.AddTool(ingestTool(), s.handleIngest)
	s.srv = srv
	return s
}

// ServeStdio blocks until the client closes the stream.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.srv)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("query",
		mcp.WithDescription("Retrieve citable evidence for a question from the indexed document corpus. Returns ranked evidence items with provenance, or an explicit abstention."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The question to retrieve evidence for."),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Maximum number of evidence items to return."),
		),
		mcp.WithArray("tags",
			mcp.Description("Restrict retrieval to documents carrying any of these tags."),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

func ingestTool() mcp.Tool {
	return mcp.NewTool("ingest_document",
		mcp.WithDescription("Ingest a document into the retrieval corpus. Provide either a local file path or inline text content."),
		mcp.WithString("path",
			mcp.Description("Local file path to read the document from."),
		),
		mcp.WithString("content",
			mcp.Description("Inline document text, used when no path is given."),
		),
		mcp.WithString("source_file",
			mcp.Description("Logical source file name; defaults to the path's base name."),
		),
		mcp.WithArray("tags",
			mcp.Description("Tags to attach to the document."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("effective_date",
			mcp.Description("RFC 3339 timestamp or YYYY-MM-DD."),
		),
		mcp.WithBoolean("archived",
			mcp.Description("Ingest the document as archived."),
		),
	)
}

func (s *Server) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filters := domain.QueryFilters{Tags: request.GetStringSlice("tags", nil)}
	topN := request.GetInt("top_n", 0)

	result, err := s.querier.Query(ctx, text, filters, topN)
	if err != nil {
		s.logger.Warn("mcp query failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolResultJSON(result)
}

func (s *Server) handleIngest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, sourceFile, err := resolveIngestInput(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := domain.IngestOptions{
		Tags:     request.GetStringSlice("tags", nil),
		Archived: request.GetBool("archived", false),
	}
	if raw := request.GetString("effective_date", ""); raw != "" {
		parsed, err := parseEffectiveDate(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts.EffectiveDate = parsed
	}

	result, err := s.ingestor.Ingest(ctx, content, sourceFile, opts)
	if err != nil && !(result != nil && domain.IsKind(err, domain.ErrPartialIngestion)) {
		s.logger.Warn("mcp ingest failed", "source_file", sourceFile, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolResultJSON(result)
}

func resolveIngestInput(request mcp.CallToolRequest) ([]byte, string, error) {
	path := request.GetString("path", "")
	inline := request.GetString("content", "")
	sourceFile := request.GetString("source_file", "")

	switch {
	case path != "":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", path, err)
		}
		if sourceFile == "" {
			sourceFile = filepath.Base(path)
		}
		return content, sourceFile, nil
	case inline != "":
		if sourceFile == "" {
			return nil, "", errors.New("source_file is required with inline content")
		}
		return []byte(inline), sourceFile, nil
	default:
		return nil, "", errors.New("either path or content is required")
	}
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

func toolResultJSON(v any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
