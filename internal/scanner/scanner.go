// Package scanner runs clustering over the photo library and stores the
// resulting candidates as suggestions. It also augments albums that already
// exist in the photo service with assets that were left out of them.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
)

// Mode selects which assets a scan looks at.
type Mode string

const (
	// ModeIncremental skips assets that any suggestion already references.
	ModeIncremental Mode = "incremental"
	// ModeFull clusters the whole library again.
	ModeFull Mode = "full"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIncremental, ModeFull:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown scan mode %q (expected incremental or full)", s)
}

// AssetSource reads assets and album envelopes from the photo library.
type AssetSource interface {
	FetchAssets(ctx context.Context, exclude []string, limit int) ([]clustering.Asset, error)
	AlbumEnvelopes(ctx context.Context) ([]clustering.AlbumEnvelope, error)
}

// ProgressInfo describes how far a scan has got
type ProgressInfo struct {
	Phase   string // "storing", "augmenting"
	Current int
	Total   int
}

type Options struct {
	Mode       Mode
	DryRun     bool               // cluster but store nothing
	OnProgress func(ProgressInfo) // optional
}

type Report struct {
	RunID       string
	Mode        Mode
	Assets      int
	Skipped     int
	Eventlets   int
	Candidates  int // candidates produced by clustering
	TooSmall    int // below scan.min_album_assets
	Stored      int
	Failed      int
	Suggestions []*database.StoredSuggestion
	Duration    time.Duration
}

// NewCandidates is the number of candidates a run produced for review. In a
// dry run nothing is stored, so the eligible candidates are counted instead.
func (r *Report) NewCandidates(dryRun bool) int {
	if dryRun {
		return r.Candidates - r.TooSmall
	}
	return r.Stored
}

type Scanner struct {
	store    database.Store
	source   AssetSource
	svc      *suggestion.Service
	engine   *clustering.Engine
	settings config.Settings
	newRunID func() string
}

func New(store database.Store, source AssetSource, settings config.Settings) *Scanner {
	return &Scanner{
		store:    store,
		source:   source,
		svc:      suggestion.NewService(store, settings.Defaults),
		engine:   clustering.NewEngine(clustering.ParamsFromConfig(settings.Clustering)),
		settings: settings,
		newRunID: uuid.NewString,
	}
}

// Scan fetches assets, clusters them and stores every candidate of at least
// scan.min_album_assets assets as a pending_enrichment suggestion. Failing to
// store a single candidate is logged and counted; the run fails only when no
// candidate could be stored at all.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Report, error) {
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	started := time.Now()
	report := &Report{RunID: s.newRunID(), Mode: opts.Mode}
	logf := s.logger(report.RunID)

	logf(ctx, database.LevelInfo, "Scan started in %s mode", opts.Mode)

	var exclude []string
	if opts.Mode == ModeIncremental {
		ids, err := s.store.ProcessedAssetIDs(ctx)
		if err != nil {
			logf(ctx, database.LevelError, "Reading processed assets failed: %v", err)
			return nil, fmt.Errorf("processed assets: %w", err)
		}
		exclude = ids
		logf(ctx, database.LevelInfo, "Excluding %d previously processed assets", len(exclude))
	}

	limit := s.settings.DevMode.AssetLimit()
	assets, err := s.source.FetchAssets(ctx, exclude, limit)
	if err != nil {
		logf(ctx, database.LevelError, "Fetching assets failed: %v", err)
		return nil, fmt.Errorf("fetch assets: %w", err)
	}
	report.Assets = len(assets)
	if limit > 0 {
		logf(ctx, database.LevelWarning, "Dev mode: asset fetch limited to %d", limit)
	}
	if len(assets) == 0 {
		logf(ctx, database.LevelInfo, "Scan complete. No new assets to process.")
		report.Duration = time.Since(started)
		return report, nil
	}
	logf(ctx, database.LevelInfo, "Fetched %d assets", len(assets))

	result, err := s.engine.Run(assets)
	if err != nil {
		logf(ctx, database.LevelError, "Clustering failed: %v", err)
		return nil, fmt.Errorf("clustering: %w", err)
	}
	report.Skipped = len(result.Skipped)
	report.Eventlets = len(result.Eventlets)
	report.Candidates = len(result.Candidates)
	for _, invalid := range result.Skipped {
		logf(ctx, database.LevelWarning, "Skipped %v", invalid)
	}
	logf(ctx, database.LevelInfo, "Clustering complete: %d eventlets, %d edges, %d candidates",
		len(result.Eventlets), result.EdgeCount, len(result.Candidates))

	svc := s.svc.WithRunID(report.RunID)
	minAssets := s.settings.Scan.MinAlbumAssets
	var lastErr error

	for i, c := range result.Candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{Phase: "storing", Current: i + 1, Total: len(result.Candidates)})
		}
		if c.Size() < minAssets {
			report.TooSmall++
			continue
		}
		if opts.DryRun {
			continue
		}

		logf(ctx, database.LevelProgress, "Processing candidate %d/%d...", i+1, len(result.Candidates))
		sg, err := svc.CreateFromCandidate(ctx, c, report.RunID)
		if err != nil {
			report.Failed++
			lastErr = err
			logf(ctx, database.LevelError, "Storing candidate %d failed: %v", i+1, err)
			continue
		}
		report.Stored++
		report.Suggestions = append(report.Suggestions, sg)
		logf(ctx, database.LevelInfo, "Stored suggestion %d: %q (%d strong, %d weak)",
			sg.ID, sg.Title, len(sg.StrongAssetIDs), len(sg.WeakAssetIDs))
	}

	if report.TooSmall > 0 {
		logf(ctx, database.LevelInfo, "Ignored %d candidates with fewer than %d assets", report.TooSmall, minAssets)
	}
	report.Duration = time.Since(started)

	if report.Failed > 0 && report.Stored == 0 {
		logf(ctx, database.LevelError, "Scan failed: no candidate could be stored")
		return report, fmt.Errorf("store candidates: %w", lastErr)
	}
	logf(ctx, database.LevelInfo, "Scan completed in %s: %d new suggestions", report.Duration.Round(time.Millisecond), report.Stored)
	return report, nil
}

// SyncReport summarises an album sync.
type SyncReport struct {
	RunID      string
	Albums     int
	Augmented  int // albums with at least one suggested addition
	Created    int
	Updated    int
	Invalid    int
	Additions  int
	Removed    int64 // suggestions of albums that no longer exist
	Duplicates int64
}

// SyncAlbums looks for library assets that belong to existing albums. An
// asset is a candidate addition when it is in no album, no suggestion and
// falls inside the time (and location) envelope of the album. Each asset is
// offered to at most one album. Malformed envelopes are skipped. Afterwards
// from_immich suggestions of deleted albums and duplicates are removed.
func (s *Scanner) SyncAlbums(ctx context.Context, dryRun bool, onProgress func(ProgressInfo)) (*SyncReport, error) {
	report := &SyncReport{RunID: s.newRunID()}
	logf := s.logger(report.RunID)
	logf(ctx, database.LevelInfo, "Album sync started")

	envelopes, err := s.source.AlbumEnvelopes(ctx)
	if err != nil {
		logf(ctx, database.LevelError, "Reading albums failed: %v", err)
		return nil, fmt.Errorf("album envelopes: %w", err)
	}
	report.Albums = len(envelopes)
	sortEnvelopes(envelopes)

	processed, err := s.store.ProcessedAssetIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("processed assets: %w", err)
	}
	assets, err := s.source.FetchAssets(ctx, nil, s.settings.DevMode.AssetLimit())
	if err != nil {
		logf(ctx, database.LevelError, "Fetching assets failed: %v", err)
		return nil, fmt.Errorf("fetch assets: %w", err)
	}
	pool := unallocated(assets)
	logf(ctx, database.LevelInfo, "%d albums, %d assets outside any album", len(envelopes), len(pool))

	claimed := make(map[string]struct{}, len(processed))
	for _, id := range processed {
		claimed[id] = struct{}{}
	}

	svc := s.svc.WithRunID(report.RunID)
	params := clustering.AugmentParams{
		Margin:       s.settings.Augment.Margin,
		RadiusMeters: s.settings.Augment.RadiusMeters,
	}
	albumIDs := make([]string, 0, len(envelopes))

	for i := range envelopes {
		env := &envelopes[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if onProgress != nil {
			onProgress(ProgressInfo{Phase: "augmenting", Current: i + 1, Total: len(envelopes)})
		}
		if env.AlbumID != "" {
			albumIDs = append(albumIDs, env.AlbumID)
		}

		existing, err := s.store.FindBySourceAlbum(ctx, env.AlbumID)
		if err != nil {
			return report, fmt.Errorf("find album suggestion: %w", err)
		}
		// the album's own pending additions may be offered again
		excluded := claimed
		if existing != nil && len(existing.AdditionalAssetIDs) > 0 {
			excluded = without(claimed, existing.AdditionalAssetIDs)
		}

		additions, err := clustering.Augment(env, pool, excluded, params)
		if err != nil {
			var source *clustering.AugmentationSourceError
			if errors.As(err, &source) {
				report.Invalid++
				logf(ctx, database.LevelWarning, "Skipping album: %v", err)
				continue
			}
			return report, err
		}
		for _, id := range additions {
			claimed[id] = struct{}{}
		}
		if len(additions) > 0 {
			report.Augmented++
			report.Additions += len(additions)
		}
		if len(additions) == 0 && existing == nil {
			continue
		}
		if dryRun {
			logf(ctx, database.LevelInfo, "Album %q: %d possible additions", env.Title, len(additions))
			continue
		}

		sg, created, err := svc.CreateFromAlbum(ctx, env, additions, report.RunID)
		if err != nil {
			var invalid *suggestion.InvalidTransitionError
			if errors.As(err, &invalid) {
				// reviewed in the meantime
				logf(ctx, database.LevelWarning, "Album %q: %v", env.Title, err)
				continue
			}
			return report, fmt.Errorf("album %s: %w", env.AlbumID, err)
		}
		if created {
			report.Created++
			logf(ctx, database.LevelInfo, "Album %q: suggestion %d with %d additions", env.Title, sg.ID, len(additions))
		} else {
			report.Updated++
		}
	}

	if dryRun {
		return report, nil
	}

	removed, err := s.store.DeleteFromImmichNotIn(ctx, albumIDs)
	if err != nil {
		return report, fmt.Errorf("remove suggestions of deleted albums: %w", err)
	}
	report.Removed = removed
	dups, err := s.store.RemoveDuplicateSourceAlbums(ctx)
	if err != nil {
		return report, fmt.Errorf("remove duplicate album suggestions: %w", err)
	}
	report.Duplicates = dups

	logf(ctx, database.LevelInfo, "Album sync complete: %d created, %d updated, %d removed, %d duplicates",
		report.Created, report.Updated, report.Removed, report.Duplicates)
	return report, nil
}

func (s *Scanner) logger(runID string) func(ctx context.Context, level database.LogLevel, format string, args ...any) {
	return func(ctx context.Context, level database.LogLevel, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if err := s.store.Append(context.WithoutCancel(ctx), level, runID, msg); err != nil {
			log.Printf("Failed to write scan log: %v", err)
		}
	}
}

// unallocated returns features of the assets that are in no album.
func unallocated(assets []clustering.Asset) []clustering.Feature {
	free := make([]clustering.Asset, 0, len(assets))
	for _, a := range assets {
		if len(a.AlbumIDs) == 0 {
			free = append(free, a)
		}
	}
	features, _ := clustering.ExtractFeatures(free)
	return features
}

func without(set map[string]struct{}, ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	for _, id := range ids {
		delete(out, id)
	}
	return out
}

// sortEnvelopes orders albums oldest first so that contested assets go to
// the same album on every run.
func sortEnvelopes(envs []clustering.AlbumEnvelope) {
	sort.SliceStable(envs, func(i, j int) bool {
		if !envs[i].MinDate.Equal(envs[j].MinDate) {
			return envs[i].MinDate.Before(envs[j].MinDate)
		}
		return envs[i].AlbumID < envs[j].AlbumID
	})
}
