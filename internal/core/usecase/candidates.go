package usecase

import (
	"context"
	"errors"

	"github.com/kirillkom/winnow/internal/core/domain"
)

type candidateSet struct {
	dense   []domain.CandidateHit
	lexical []domain.CandidateHit
	partial bool
}

type backendResult struct {
	source domain.CandidateSource
	hits   []domain.CandidateHit
	err    error
}

// generateCandidates fans out to both indexes concurrently, each call under
// its own timeout nested inside ctx. A backend that errors or times out
// contributes an empty list and marks the set partial; a nil query vector
// skips the dense backend entirely. Filters are pushed down to the backends,
// never applied after ranking.
func (uc *QueryUseCase) generateCandidates(ctx context.Context, text string, vector []float32, filters domain.QueryFilters) candidateSet {
	results := make(chan backendResult, 2)
	launched := 0

	if vector != nil {
		launched++
		go func() {
			searchCtx, cancel := context.WithTimeout(ctx, uc.cfg.BackendTimeout)
			defer cancel()
			hits, err := uc.dense.Search(searchCtx, vector, uc.cfg.TopKDense, filters)
			results <- backendResult{source: domain.SourceDense, hits: hits, err: err}
		}()
	}

	launched++
	go func() {
		searchCtx, cancel := context.WithTimeout(ctx, uc.cfg.BackendTimeout)
		defer cancel()
		hits, err := uc.lexical.Search(searchCtx, text, uc.cfg.TopKLexical, filters)
		results <- backendResult{source: domain.SourceLexical, hits: hits, err: err}
	}()

	set := candidateSet{partial: vector == nil}
	for i := 0; i < launched; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				set.partial = true
				uc.logger.Warn("candidate backend degraded",
					"source", string(res.source),
					"timeout", errors.Is(res.err, context.DeadlineExceeded),
					"error", res.err)
				continue
			}
			switch res.source {
			case domain.SourceDense:
				set.dense = res.hits
			case domain.SourceLexical:
				set.lexical = res.hits
			}
		case <-ctx.Done():
			// Overall deadline: hand back whatever arrived. The buffered
			// channel lets late goroutines finish without leaking.
			set.partial = true
			return set
		}
	}
	return set
}
