package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrParse             = errors.New("document parse failure")
	ErrTemporary         = errors.New("temporary failure")
	ErrPartialIngestion  = errors.New("partial ingestion failure")
	ErrBackendTimeout    = errors.New("backend timeout")
	ErrRerankUnavailable = errors.New("reranker unavailable")
	ErrPackaging         = errors.New("evidence packaging failure")
	ErrAbstained         = errors.New("abstained")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
