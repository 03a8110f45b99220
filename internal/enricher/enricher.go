// Package enricher turns pending_enrichment suggestions into reviewable ones:
// it samples thumbnails, resolves a location, asks the vision model for a
// title and description and records the outcome through the suggestion
// lifecycle.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/album-suggester/internal/ai"
	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/geocode"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
)

// ThumbnailSource downloads asset thumbnails.
type ThumbnailSource interface {
	Thumbnail(ctx context.Context, assetID string) ([]byte, error)
}

// Locator names the place an event happened at.
type Locator interface {
	PrimaryLocation(ctx context.Context, points []clustering.GeoPoint) (string, error)
}

// TimeoutError is returned when enrichment did not finish within its deadline.
type TimeoutError struct {
	ID      int64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("suggestion %d: enrichment timed out after %s", e.ID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ServiceError wraps a failure of one of the external services used during enrichment.
type ServiceError struct {
	ID  int64
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("suggestion %d: enrichment failed: %v", e.ID, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Enricher enriches suggestions one at a time or in bounded parallel batches.
type Enricher struct {
	svc      *suggestion.Service
	store    database.Store
	thumbs   ThumbnailSource
	locator  Locator
	provider ai.VisionProvider
	vlm      config.VLMConfig
	defaults config.DefaultsConfig
	runID    string
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an enricher. A nil provider disables the vision model and a nil
// locator disables reverse geocoding.
func New(svc *suggestion.Service, store database.Store, thumbs ThumbnailSource, locator Locator,
	provider ai.VisionProvider, settings config.Settings, runID string) *Enricher {
	return &Enricher{
		svc:      svc.WithRunID(runID),
		store:    store,
		thumbs:   thumbs,
		locator:  locator,
		provider: provider,
		vlm:      settings.VLM,
		defaults: settings.Defaults,
		runID:    runID,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enrich claims suggestion id and runs the analysis under timeout (the
// configured vlm.timeout when zero). On failure the suggestion moves to
// enrichment_failed and a *TimeoutError or *ServiceError is returned; a
// concurrent claim yields suggestion.ErrEnrichmentInProgress.
func (e *Enricher) Enrich(ctx context.Context, id int64, timeout time.Duration) (*database.StoredSuggestion, error) {
	if timeout <= 0 {
		timeout = e.vlm.Timeout
	}

	sg, err := e.svc.BeginEnrichment(ctx, id)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := e.analyze(runCtx, sg)
	if err != nil {
		var cause error
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			cause = &TimeoutError{ID: id, Timeout: timeout}
		} else {
			cause = &ServiceError{ID: id, Err: err}
		}
		return nil, e.fail(ctx, id, cause)
	}

	done, err := e.svc.CompleteEnrichment(context.WithoutCancel(ctx), id, *res)
	if err != nil {
		var invalid *suggestion.InvalidTransitionError
		if errors.As(err, &invalid) || errors.Is(err, suggestion.ErrMissingFields) {
			return nil, err
		}
		// the result could not be stored, fail the claim so it can be retried
		return nil, e.fail(ctx, id, &ServiceError{ID: id, Err: fmt.Errorf("store result: %w", err)})
	}
	e.logf(ctx, database.LevelInfo, "Suggestion %d enriched: %q", id, done.Title)
	return done, nil
}

// fail moves the claimed suggestion to enrichment_failed and returns cause.
// The parent context may already be expired, the failure is recorded anyway.
func (e *Enricher) fail(ctx context.Context, id int64, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.svc.FailEnrichment(ctx, id, cause); err != nil {
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	e.logf(ctx, database.LevelError, "Enrichment of suggestion %d failed: %v", id, cause)
	return cause
}

func (e *Enricher) analyze(ctx context.Context, sg *database.StoredSuggestion) (*suggestion.EnrichmentResult, error) {
	var start time.Time
	if sg.EventStart != nil {
		start = *sg.EventStart
	}

	location := sg.Location
	if e.locator != nil && len(sg.GPSPoints) > 0 {
		loc, err := e.locator.PrimaryLocation(ctx, sg.GPSPoints)
		if err != nil {
			return nil, fmt.Errorf("geocoding: %w", err)
		}
		if loc != "" {
			location = loc
		}
	}

	res := &suggestion.EnrichmentResult{
		Title:       e.defaults.Title(start),
		Description: e.defaults.Description,
		Location:    location,
	}
	if e.provider == nil {
		return res, nil
	}

	ids, images, err := e.sampleImages(ctx, sg)
	if err != nil {
		return nil, err
	}

	ec := ai.EventContext{Location: location}
	if !start.IsZero() {
		ec.DateLabel = start.Format("January 2006")
	}

	desc, err := e.describe(ctx, sg.ID, images, ec)
	if err != nil {
		return nil, err
	}

	res.Title = desc.Title
	res.Description = desc.Description
	if i := desc.CoverPhotoIndex; i != nil && *i >= 0 && *i < len(ids) {
		res.CoverAssetID = ids[*i]
	}
	return res, nil
}

// sampleImages downloads an evenly spread sample of the strong assets (all
// assets when there are no strong ones). Individual download failures are
// skipped; ids[i] is the asset shown in images[i].
func (e *Enricher) sampleImages(ctx context.Context, sg *database.StoredSuggestion) ([]string, [][]byte, error) {
	pool := sg.StrongAssetIDs
	if len(pool) == 0 {
		pool = sg.AssetIDs()
	}

	var ids []string
	var images [][]byte
	for _, id := range geocode.Sample(pool, e.vlm.SampleSize) {
		data, err := e.thumbs.Thumbnail(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Printf("Warning: thumbnail %s: %v", id, err)
			continue
		}
		jpeg, err := ai.ResizeImage(data, e.vlm.MaxImageSize)
		if err != nil {
			log.Printf("Warning: thumbnail %s: %v", id, err)
			continue
		}
		ids = append(ids, id)
		images = append(images, jpeg)
	}
	if len(images) == 0 {
		return nil, nil, errors.New("no images could be downloaded or prepared for analysis")
	}
	return ids, images, nil
}

// describe calls the provider up to vlm.retry_attempts times.
func (e *Enricher) describe(ctx context.Context, id int64, images [][]byte, ec ai.EventContext) (*ai.EventDescription, error) {
	attempts := max(1, e.vlm.RetryAttempts)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		desc, err := e.provider.DescribeEvent(ctx, images, ec)
		if err == nil {
			return desc, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		e.logf(ctx, database.LevelWarning, "Suggestion %d: %s attempt %d/%d failed: %v",
			id, e.provider.Name(), attempt, attempts, err)
		if attempt < attempts {
			if err := e.sleep(ctx, e.vlm.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", e.provider.Name(), attempts, lastErr)
}

func (e *Enricher) logf(ctx context.Context, level database.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err := e.store.Append(ctx, level, e.runID, msg); err != nil {
		log.Printf("Failed to write scan log: %v", err)
	}
}
