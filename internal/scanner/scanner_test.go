package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/database/mock"
)

var baseTime = time.Date(2025, time.July, 12, 9, 0, 0, 0, time.UTC)

var testSettings = config.Settings{
	Clustering: config.ClusteringConfig{
		Stage1: config.Stage1Config{TimeWindow: time.Hour, DistanceMeters: 1000, MinSamples: 3},
		Stage2: config.Stage2Config{SimilarityThreshold: 0.95, MergeTimeWindow: 48 * time.Hour, Workers: 2},
	},
	Augment: config.AugmentConfig{Margin: 24 * time.Hour, RadiusMeters: 5000},
	Scan:    config.ScanConfig{MinAlbumAssets: 3},
	Defaults: config.DefaultsConfig{
		TitleTemplate: "Event from {date}",
		Description:   "A collection of photos from an event.",
	},
}

func ptr[T any](v T) *T { return &v }

func burst(prefix string, n int, start time.Time, lat, lon float64, emb ...float32) []clustering.Asset {
	var out []clustering.Asset
	for i := range n {
		out = append(out, clustering.Asset{
			ID:        fmt.Sprintf("%s-%02d", prefix, i),
			Timestamp: ptr(start.Add(time.Duration(i) * time.Minute)),
			Latitude:  ptr(lat),
			Longitude: ptr(lon),
			Embedding: emb,
		})
	}
	return out
}

type fakeSource struct {
	assets    []clustering.Asset
	envelopes []clustering.AlbumEnvelope
	err       error

	gotExclude [][]string
	gotLimit   []int
}

func (f *fakeSource) FetchAssets(ctx context.Context, exclude []string, limit int) ([]clustering.Asset, error) {
	f.gotExclude = append(f.gotExclude, exclude)
	f.gotLimit = append(f.gotLimit, limit)
	if f.err != nil {
		return nil, f.err
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []clustering.Asset
	for _, a := range f.assets {
		if !skip[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSource) AlbumEnvelopes(ctx context.Context) ([]clustering.AlbumEnvelope, error) {
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.envelopes), nil
}

// libraryAssets yields two events big enough to keep, one lone photo and one
// unusable record.
func libraryAssets() []clustering.Asset {
	assets := burst("beach", 5, baseTime, 43.55, 7.01, 1, 0, 0)
	assets = append(assets, burst("hike", 4, baseTime.Add(10*24*time.Hour), 47.0, 11.0, 0, 1, 0)...)
	assets = append(assets,
		clustering.Asset{ID: "solo", Timestamp: ptr(baseTime.Add(30 * 24 * time.Hour)), Embedding: []float32{0, 0, 1}},
		clustering.Asset{ID: "broken"},
	)
	return assets
}

func newTestScanner(store database.Store, source AssetSource) *Scanner {
	s := New(store, source, testSettings)
	n := 0
	s.newRunID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	return s
}

func TestScan_StoresCandidates(t *testing.T) {
	store := mock.NewMockStore()
	source := &fakeSource{assets: libraryAssets()}

	var progress []ProgressInfo
	report, err := newTestScanner(store, source).Scan(context.Background(), Options{
		Mode:       ModeFull,
		OnProgress: func(p ProgressInfo) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if report.Assets != 11 || report.Skipped != 1 {
		t.Errorf("Expected 11 assets with 1 skipped, got %d/%d", report.Assets, report.Skipped)
	}
	if report.Candidates != 3 || report.TooSmall != 1 || report.Stored != 2 {
		t.Errorf("Expected 3 candidates, 1 too small, 2 stored, got %+v", report)
	}
	if report.NewCandidates(false) != 2 {
		t.Errorf("Expected 2 new candidates, got %d", report.NewCandidates(false))
	}
	if len(progress) != 3 || progress[2].Total != 3 {
		t.Errorf("Expected 3 progress callbacks, got %+v", progress)
	}
	if source.gotExclude[0] != nil {
		t.Errorf("Full scan must not exclude assets, got %v", source.gotExclude[0])
	}

	list, _ := store.List(context.Background(), database.SuggestionFilter{SortBy: database.SortByEventStart})
	if len(list) != 2 {
		t.Fatalf("Expected 2 stored suggestions, got %d", len(list))
	}
	first := list[0]
	if first.Status != database.StatusPendingEnrichment {
		t.Errorf("Expected pending_enrichment, got %s", first.Status)
	}
	if first.Title != "Event from July 2025" || first.CoverAssetID != "beach-00" {
		t.Errorf("Unexpected defaults: title %q cover %q", first.Title, first.CoverAssetID)
	}
	if len(first.StrongAssetIDs) != 5 || len(first.WeakAssetIDs) != 0 {
		t.Errorf("Expected 5 strong assets, got %v / %v", first.StrongAssetIDs, first.WeakAssetIDs)
	}
	if first.RunID != "run-1" || len(first.GPSPoints) == 0 {
		t.Errorf("Expected run id and gps points, got %q / %v", first.RunID, first.GPSPoints)
	}

	logs := store.Logs()
	for _, l := range logs {
		if l.RunID != "run-1" {
			t.Errorf("Log entry %q without run id", l.Message)
		}
	}
	if !containsLog(logs, database.LevelWarning, "broken") {
		t.Error("Expected skipped asset to be logged")
	}
}

func TestScan_Incremental(t *testing.T) {
	store := mock.NewMockStore()
	store.AddSuggestion(database.StoredSuggestion{
		Status:         database.StatusRejected,
		StrongAssetIDs: []string{"beach-00", "beach-01", "beach-02", "beach-03", "beach-04"},
	})
	source := &fakeSource{assets: libraryAssets()}

	report, err := newTestScanner(store, source).Scan(context.Background(), Options{Mode: ModeIncremental})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(source.gotExclude[0]) != 5 {
		t.Errorf("Expected 5 excluded ids, got %v", source.gotExclude[0])
	}
	if report.Stored != 1 || report.Suggestions[0].StrongAssetIDs[0] != "hike-00" {
		t.Errorf("Expected only the hike to be stored, got %+v", report)
	}

	// nothing new the second time
	report, err = newTestScanner(store, source).Scan(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Mode != ModeIncremental || report.NewCandidates(false) != 0 {
		t.Errorf("Expected no new candidates, got %+v", report)
	}
}

func TestScan_DryRun(t *testing.T) {
	store := mock.NewMockStore()
	report, err := newTestScanner(store, &fakeSource{assets: libraryAssets()}).Scan(context.Background(), Options{Mode: ModeFull, DryRun: true})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Stored != 0 || report.NewCandidates(true) != 2 {
		t.Errorf("Expected 2 candidates and nothing stored, got %+v", report)
	}
	ids, _ := store.ProcessedAssetIDs(context.Background())
	if len(ids) != 0 {
		t.Errorf("Dry run stored assets %v", ids)
	}
}

func TestScan_DevModeLimit(t *testing.T) {
	settings := testSettings
	settings.DevMode = config.DevModeConfig{Enabled: true, SampleSize: 7}
	source := &fakeSource{}
	s := New(mock.NewMockStore(), source, settings)

	if _, err := s.Scan(context.Background(), Options{Mode: ModeFull}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if source.gotLimit[0] != 7 {
		t.Errorf("Expected limit 7, got %d", source.gotLimit[0])
	}
}

func TestScan_Errors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*mock.MockStore, *fakeSource)
		wantLevel database.LogLevel
	}{
		{
			name:      "asset source down",
			setup:     func(_ *mock.MockStore, src *fakeSource) { src.err = errors.New("connection refused") },
			wantLevel: database.LevelError,
		},
		{
			name:      "processed ids unreadable",
			setup:     func(store *mock.MockStore, _ *fakeSource) { store.ListError = errors.New("disk I/O error") },
			wantLevel: database.LevelError,
		},
		{
			name:      "every insert fails",
			setup:     func(store *mock.MockStore, _ *fakeSource) { store.InsertError = errors.New("database is locked") },
			wantLevel: database.LevelError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewMockStore()
			source := &fakeSource{assets: libraryAssets()}
			tt.setup(store, source)

			_, err := newTestScanner(store, source).Scan(context.Background(), Options{Mode: ModeIncremental})
			if err == nil {
				t.Fatal("Expected error")
			}
			if !containsLog(store.Logs(), tt.wantLevel, "") {
				t.Errorf("Expected an %s log entry", tt.wantLevel)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"incremental", "full"} {
		if m, err := ParseMode(s); err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, err)
		}
	}
	if _, err := ParseMode("quick"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func albumFixture() (*fakeSource, *mock.MockStore) {
	source := &fakeSource{
		assets: []clustering.Asset{
			{ID: "in1", Timestamp: ptr(baseTime), Latitude: ptr(50.0), Longitude: ptr(14.0), AlbumIDs: []string{"alb1"}},
			{ID: "near", Timestamp: ptr(baseTime.Add(3 * time.Hour)), Latitude: ptr(50.01), Longitude: ptr(14.01)},
			{ID: "far-away", Timestamp: ptr(baseTime.Add(time.Hour)), Latitude: ptr(40.0), Longitude: ptr(0.0)},
			{ID: "taken", Timestamp: ptr(baseTime.Add(time.Hour))},
			{ID: "late", Timestamp: ptr(baseTime.Add(30 * 24 * time.Hour))},
			{ID: "other-album", Timestamp: ptr(baseTime.Add(time.Hour)), AlbumIDs: []string{"alb9"}},
		},
		envelopes: []clustering.AlbumEnvelope{
			{
				AlbumID:  "alb1",
				Title:    "Prague",
				AssetIDs: []string{"in1"},
				MinDate:  baseTime,
				MaxDate:  baseTime.Add(2 * time.Hour),
				Location: &clustering.GeoPoint{Lat: 50, Lon: 14},
			},
			{AlbumID: "alb2", Title: "Undated"},
		},
	}

	store := mock.NewMockStore()
	store.AddSuggestion(database.StoredSuggestion{Status: database.StatusPending, StrongAssetIDs: []string{"taken"}})
	store.AddSuggestion(database.StoredSuggestion{
		Status:         database.StatusFromImmich,
		SourceAlbumID:  "gone",
		StrongAssetIDs: []string{"x"},
	})
	return source, store
}

func TestSyncAlbums(t *testing.T) {
	source, store := albumFixture()
	s := newTestScanner(store, source)

	report, err := s.SyncAlbums(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("SyncAlbums failed: %v", err)
	}
	if report.Albums != 2 || report.Invalid != 1 || report.Created != 1 || report.Removed != 1 {
		t.Errorf("Unexpected report %+v", report)
	}

	sg, _ := store.FindBySourceAlbum(context.Background(), "alb1")
	if sg == nil {
		t.Fatal("Expected a from_immich suggestion for alb1")
	}
	if !slices.Equal(sg.AdditionalAssetIDs, []string{"near"}) {
		t.Errorf("Expected [near] as addition, got %v", sg.AdditionalAssetIDs)
	}
	if sg.Title != "Prague" || sg.CoverAssetID != "in1" {
		t.Errorf("Unexpected album suggestion %+v", sg)
	}
	if gone, _ := store.FindBySourceAlbum(context.Background(), "gone"); gone != nil {
		t.Error("Expected suggestion of deleted album to be removed")
	}
	if !containsLog(store.Logs(), database.LevelWarning, "alb2") {
		t.Error("Expected the undated album to be logged")
	}

	// a second sync offers the same addition again without duplicating
	report, err = s.SyncAlbums(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("SyncAlbums failed: %v", err)
	}
	if report.Created != 0 || report.Updated != 1 || report.Additions != 1 {
		t.Errorf("Expected the suggestion to be kept, got %+v", report)
	}
	list, _ := store.List(context.Background(), database.SuggestionFilter{Statuses: []database.SuggestionStatus{database.StatusFromImmich}})
	if len(list) != 1 {
		t.Errorf("Expected one from_immich suggestion, got %d", len(list))
	}
}

func TestSyncAlbums_ContestedAsset(t *testing.T) {
	source := &fakeSource{
		assets: []clustering.Asset{
			{ID: "shared", Timestamp: ptr(baseTime.Add(20 * time.Hour))},
		},
		envelopes: []clustering.AlbumEnvelope{
			{AlbumID: "later", AssetIDs: []string{"l1"}, MinDate: baseTime.Add(40 * time.Hour), MaxDate: baseTime.Add(42 * time.Hour)},
			{AlbumID: "earlier", AssetIDs: []string{"e1"}, MinDate: baseTime, MaxDate: baseTime.Add(2 * time.Hour)},
		},
	}
	store := mock.NewMockStore()

	report, err := newTestScanner(store, source).SyncAlbums(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("SyncAlbums failed: %v", err)
	}
	if report.Created != 1 || report.Additions != 1 {
		t.Errorf("Expected one album to get the asset, got %+v", report)
	}
	if sg, _ := store.FindBySourceAlbum(context.Background(), "earlier"); sg == nil {
		t.Error("Expected the older album to win the shared asset")
	}
}

func TestSyncAlbums_DryRun(t *testing.T) {
	source, store := albumFixture()

	report, err := newTestScanner(store, source).SyncAlbums(context.Background(), true, nil)
	if err != nil {
		t.Fatalf("SyncAlbums failed: %v", err)
	}
	if report.Augmented != 1 || report.Created != 0 || report.Removed != 0 {
		t.Errorf("Unexpected dry-run report %+v", report)
	}
	if gone, _ := store.FindBySourceAlbum(context.Background(), "gone"); gone == nil {
		t.Error("Dry run must not delete suggestions")
	}
}

func containsLog(logs []database.ScanLogEntry, level database.LogLevel, substr string) bool {
	for _, l := range logs {
		if l.Level == level && strings.Contains(l.Message, substr) {
			return true
		}
	}
	return false
}
