package enricher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// BatchOptions controls EnrichPending.
type BatchOptions struct {
	Retry       bool // also retry enrichment_failed suggestions
	Concurrency int  // defaults to vlm.concurrency
	Progress    *progressbar.ProgressBar
}

// BatchSummary counts the outcomes of a batch.
type BatchSummary struct {
	Enriched int
	Failed   int
	Skipped  int // claimed by another worker or no longer eligible
	Errors   []error
}

// EnrichPending enriches every pending_enrichment suggestion (and with Retry
// every enrichment_failed one) with bounded concurrency. Failures of single
// suggestions are counted, never returned; the error is reserved for the
// initial listing and a cancelled context.
func (e *Enricher) EnrichPending(ctx context.Context, opts BatchOptions) (*BatchSummary, error) {
	statuses := []database.SuggestionStatus{database.StatusPendingEnrichment}
	if opts.Retry {
		statuses = append(statuses, database.StatusEnrichmentFailed)
	}
	list, err := e.store.List(ctx, database.SuggestionFilter{
		Statuses: statuses,
		SortBy:   database.SortByCreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = max(1, e.vlm.Concurrency)
	}
	if opts.Progress != nil {
		opts.Progress.ChangeMax(len(list))
	}
	e.logf(ctx, database.LevelInfo, "Enriching %d suggestions with concurrency %d", len(list), concurrency)

	summary := &BatchSummary{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, sg := range list {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := e.Enrich(gctx, sg.ID, 0)

			mu.Lock()
			switch {
			case err == nil:
				summary.Enriched++
			case errors.Is(err, suggestion.ErrEnrichmentInProgress), isInvalidTransition(err):
				summary.Skipped++
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, err)
			}
			mu.Unlock()

			if opts.Progress != nil {
				opts.Progress.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logf(context.WithoutCancel(ctx), database.LevelProgress, "Enrichment finished: %d enriched, %d failed, %d skipped",
		summary.Enriched, summary.Failed, summary.Skipped)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func isInvalidTransition(err error) bool {
	var invalid *suggestion.InvalidTransitionError
	return errors.As(err, &invalid)
}
