// Package extractor routes raw uploads to a format-specific extractor by
// file extension, falling back to content sniffing when the name is no help.
package extractor

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
	"github.com/kirillkom/winnow/internal/infrastructure/extractor/html"
	"github.com/kirillkom/winnow/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/winnow/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/winnow/internal/infrastructure/extractor/xlsx"
)

type format int

const (
	formatPlain format = iota
	formatPDF
	formatHTML
	formatXLSX
)

type Router struct {
	plain ports.Extractor
	pdf   ports.Extractor
	html  ports.Extractor
	xlsx  ports.Extractor
}

func NewRouter() *Router {
	return &Router{
		plain: plaintext.NewExtractor(),
		pdf:   pdf.NewExtractor(),
		html:  html.NewExtractor(),
		xlsx:  xlsx.NewExtractor(),
	}
}

func (r *Router) Extract(ctx context.Context, content []byte, sourceFile string) (*domain.ExtractedDocument, error) {
	switch detectFormat(content, sourceFile) {
	case formatPDF:
		return r.pdf.Extract(ctx, content, sourceFile)
	case formatHTML:
		return r.html.Extract(ctx, content, sourceFile)
	case formatXLSX:
		return r.xlsx.Extract(ctx, content, sourceFile)
	default:
		return r.plain.Extract(ctx, content, sourceFile)
	}
}

func detectFormat(content []byte, sourceFile string) format {
	switch strings.ToLower(filepath.Ext(sourceFile)) {
	case ".pdf":
		return formatPDF
	case ".html", ".htm":
		return formatHTML
	case ".xlsx":
		return formatXLSX
	case ".txt", ".md", ".rst", ".log", ".csv":
		return formatPlain
	}

	switch {
	case bytes.HasPrefix(content, []byte("%PDF-")):
		return formatPDF
	case bytes.HasPrefix(content, []byte("PK\x03\x04")):
		// zip container: the only zip format we read is a workbook
		return formatXLSX
	case looksLikeHTML(content):
		return formatHTML
	}
	return formatPlain
}

func looksLikeHTML(content []byte) bool {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	probe := strings.ToLower(string(head))
	return strings.Contains(probe, "<!doctype html") || strings.Contains(probe, "<html")
}
