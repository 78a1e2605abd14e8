package pdf

import (
	"context"
	"testing"

	"github.com/kirillkom/winnow/internal/core/domain"
)

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), []byte("not a pdf at all"), "broken.pdf")
	if err == nil {
		t.Fatal("expected error for non-PDF bytes")
	}
	if !domain.IsKind(err, domain.ErrParse) {
		t.Errorf("err = %v, want parse kind", err)
	}
}

func TestExtractRejectsTruncatedHeader(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), []byte("%PDF-1.7\ngarbage"), "truncated.pdf")
	if err == nil {
		t.Fatal("expected error for truncated PDF")
	}
	if !domain.IsKind(err, domain.ErrParse) {
		t.Errorf("err = %v, want parse kind", err)
	}
}

func TestCollapseSpace(t *testing.T) {
	got := collapseSpace("  spread \n out\t text ")
	if got != "spread out text" {
		t.Errorf("collapseSpace = %q", got)
	}
	if collapseSpace("   ") != "" {
		t.Error("whitespace-only input should collapse to empty")
	}
}
