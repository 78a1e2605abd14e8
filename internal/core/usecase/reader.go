package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
)

// ReaderUseCase serves registry lookups for the read endpoints.
type ReaderUseCase struct {
	registry ports.DocumentRegistry
}

func NewReaderUseCase(registry ports.DocumentRegistry) *ReaderUseCase {
	return &ReaderUseCase{registry: registry}
}

func (uc *ReaderUseCase) GetByID(ctx context.Context, docID string) (*domain.DocumentRecord, error) {
	if docID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("empty doc id"))
	}
	doc, err := uc.registry.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("doc %s", docID))
	}
	return doc, nil
}

func (uc *ReaderUseCase) ListChunks(ctx context.Context, docID string) ([]domain.ChunkRecord, error) {
	if _, err := uc.GetByID(ctx, docID); err != nil {
		return nil, err
	}
	chunks, err := uc.registry.ListChunks(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, nil
}

func (uc *ReaderUseCase) Lineage(ctx context.Context, sourceFile string) ([]domain.DocumentRecord, error) {
	if sourceFile == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "document lineage", errors.New("empty source file"))
	}
	records, err := uc.registry.ListLineage(ctx, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("document lineage: %w", err)
	}
	return records, nil
}
