// Package storetest holds a behavioural test suite shared by every
// database.Store implementation.
package storetest

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/database"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) database.Store

// Run executes the suite, each case against a fresh store.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s database.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"GetMissing", testGetMissing},
		{"List", testList},
		{"Transition", testTransition},
		{"TransitionUpdatesFieldsOnly", testTransitionSameStatus},
		{"ConcurrentTransition", testConcurrentTransition},
		{"ProcessedAssetIDs", testProcessedAssetIDs},
		{"SourceAlbums", testSourceAlbums},
		{"DeleteOpen", testDeleteOpen},
		{"ListStale", testListStale},
		{"ScanLogs", testScanLogs},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tc.fn(t, s)
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func newSuggestion(status database.SuggestionStatus, strong ...string) *database.StoredSuggestion {
	start := time.Date(2024, time.August, 3, 9, 30, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)
	return &database.StoredSuggestion{
		Status:         status,
		StrongAssetIDs: strong,
		WeakAssetIDs:   []string{},
		CoverAssetID:   strong[0],
		Title:          "Event from August 2024",
		Description:    "A collection of photos from an event.",
		EventStart:     &start,
		EventEnd:       &end,
		GPSPoints:      []clustering.GeoPoint{{Lat: 45.4642, Lon: 9.19}},
		RunID:          "run-1",
	}
}

func mustInsert(t *testing.T, s database.Store, sg *database.StoredSuggestion) int64 {
	t.Helper()
	if err := s.Insert(context.Background(), sg); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if sg.ID == 0 {
		t.Fatal("Insert did not assign an id")
	}
	return sg.ID
}

func mustGet(t *testing.T, s database.Store, id int64) *database.StoredSuggestion {
	t.Helper()
	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%d) failed: %v", id, err)
	}
	if got == nil {
		t.Fatalf("Get(%d) returned nil", id)
	}
	return got
}

func testInsertAndGet(t *testing.T, s database.Store) {
	in := newSuggestion(database.StatusPendingEnrichment, "a1", "a2")
	in.WeakAssetIDs = []string{"w1"}
	id := mustInsert(t, s, in)

	got := mustGet(t, s, id)
	if got.Status != database.StatusPendingEnrichment {
		t.Errorf("Expected status pending_enrichment, got %s", got.Status)
	}
	if !reflect.DeepEqual(got.StrongAssetIDs, []string{"a1", "a2"}) {
		t.Errorf("Unexpected strong ids %v", got.StrongAssetIDs)
	}
	if !reflect.DeepEqual(got.WeakAssetIDs, []string{"w1"}) {
		t.Errorf("Unexpected weak ids %v", got.WeakAssetIDs)
	}
	if len(got.AdditionalAssetIDs) != 0 {
		t.Errorf("Expected no additional ids, got %v", got.AdditionalAssetIDs)
	}
	if got.CoverAssetID != "a1" || got.Title != in.Title || got.Description != in.Description {
		t.Errorf("Unexpected details: %+v", got)
	}
	if got.EventStart == nil || !got.EventStart.Equal(*in.EventStart) {
		t.Errorf("Expected event start %v, got %v", in.EventStart, got.EventStart)
	}
	if got.EventEnd == nil || !got.EventEnd.Equal(*in.EventEnd) {
		t.Errorf("Expected event end %v, got %v", in.EventEnd, got.EventEnd)
	}
	if !reflect.DeepEqual(got.GPSPoints, in.GPSPoints) {
		t.Errorf("Expected gps %v, got %v", in.GPSPoints, got.GPSPoints)
	}
	if got.RunID != "run-1" {
		t.Errorf("Expected run id run-1, got %q", got.RunID)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func testGetMissing(t *testing.T, s database.Store) {
	got, err := s.Get(context.Background(), 424242)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing suggestion, got %+v", got)
	}
}

func testList(t *testing.T, s database.Store) {
	ctx := context.Background()
	small := mustInsert(t, s, newSuggestion(database.StatusPending, "s1"))
	big := mustInsert(t, s, newSuggestion(database.StatusPendingEnrichment, "b1", "b2", "b3"))
	mustInsert(t, s, newSuggestion(database.StatusApproved, "x1"))

	list, err := s.List(ctx, database.SuggestionFilter{
		Statuses:   database.OpenStatuses,
		SortBy:     database.SortByImageCount,
		Descending: true,
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 open suggestions, got %d", len(list))
	}
	if list[0].ID != big || list[1].ID != small {
		t.Errorf("Expected order [%d %d], got [%d %d]", big, small, list[0].ID, list[1].ID)
	}

	all, err := s.List(ctx, database.SuggestionFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected limit of 2, got %d", len(all))
	}
}

func testTransition(t *testing.T, s database.Store) {
	ctx := context.Background()
	id := mustInsert(t, s, newSuggestion(database.StatusPendingEnrichment, "a1"))

	ok, err := s.Transition(ctx, id, database.StatusPending, database.StatusApproved, nil)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if ok {
		t.Fatal("Transition from a stale status must not apply")
	}
	if got := mustGet(t, s, id); got.Status != database.StatusPendingEnrichment {
		t.Fatalf("Status changed to %s after failed compare", got.Status)
	}

	ok, err = s.Transition(ctx, id, database.StatusPendingEnrichment, database.StatusEnriching,
		&database.SuggestionUpdate{IncrementAttempts: true, EnrichmentError: ptr("")})
	if err != nil || !ok {
		t.Fatalf("Transition to enriching: ok=%v err=%v", ok, err)
	}

	ok, err = s.Transition(ctx, id, database.StatusEnriching, database.StatusPending, &database.SuggestionUpdate{
		Title:        ptr("Lake Como weekend"),
		Description:  ptr("Boats and villas."),
		Location:     ptr("Italy"),
		CoverAssetID: ptr("a1"),
	})
	if err != nil || !ok {
		t.Fatalf("Transition to pending: ok=%v err=%v", ok, err)
	}

	got := mustGet(t, s, id)
	if got.Status != database.StatusPending {
		t.Errorf("Expected pending, got %s", got.Status)
	}
	if got.Title != "Lake Como weekend" || got.Description != "Boats and villas." || got.Location != "Italy" {
		t.Errorf("Fields not applied: %+v", got)
	}
	if got.EnrichmentAttempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", got.EnrichmentAttempts)
	}
	if !reflect.DeepEqual(got.StrongAssetIDs, []string{"a1"}) {
		t.Errorf("Asset sets must not change, got %v", got.StrongAssetIDs)
	}
}

func testTransitionSameStatus(t *testing.T, s database.Store) {
	ctx := context.Background()
	sg := newSuggestion(database.StatusFromImmich, "a1")
	sg.SourceAlbumID = "album-1"
	sg.AdditionalAssetIDs = []string{"x1", "x2"}
	id := mustInsert(t, s, sg)

	ok, err := s.Transition(ctx, id, database.StatusFromImmich, database.StatusFromImmich, &database.SuggestionUpdate{
		AdditionalAssetIDs: ptr([]string{"x2"}),
	})
	if err != nil || !ok {
		t.Fatalf("Transition: ok=%v err=%v", ok, err)
	}

	got := mustGet(t, s, id)
	if got.Status != database.StatusFromImmich {
		t.Errorf("Expected from_immich, got %s", got.Status)
	}
	if !reflect.DeepEqual(got.AdditionalAssetIDs, []string{"x2"}) {
		t.Errorf("Expected additional [x2], got %v", got.AdditionalAssetIDs)
	}
	if got.Title != sg.Title {
		t.Errorf("Title must be untouched, got %q", got.Title)
	}
}

func testConcurrentTransition(t *testing.T, s database.Store) {
	ctx := context.Background()
	id := mustInsert(t, s, newSuggestion(database.StatusPendingEnrichment, "a1"))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Transition(ctx, id, database.StatusPendingEnrichment, database.StatusEnriching, nil)
			if err != nil {
				t.Errorf("Transition failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
}

func testProcessedAssetIDs(t *testing.T, s database.Store) {
	ctx := context.Background()
	a := newSuggestion(database.StatusPending, "a1", "a2")
	a.WeakAssetIDs = []string{"w1"}
	mustInsert(t, s, a)
	b := newSuggestion(database.StatusFromImmich, "a2")
	b.SourceAlbumID = "album-1"
	b.AdditionalAssetIDs = []string{"x1"}
	mustInsert(t, s, b)

	got, err := s.ProcessedAssetIDs(ctx)
	if err != nil {
		t.Fatalf("ProcessedAssetIDs failed: %v", err)
	}
	want := []string{"a1", "a2", "w1", "x1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ProcessedAssetIDs() = %v, want %v", got, want)
	}
}

func testSourceAlbums(t *testing.T, s database.Store) {
	ctx := context.Background()
	for _, album := range []string{"album-1", "album-1", "album-2"} {
		sg := newSuggestion(database.StatusFromImmich, "a1")
		sg.SourceAlbumID = album
		mustInsert(t, s, sg)
	}

	found, err := s.FindBySourceAlbum(ctx, "album-1")
	if err != nil {
		t.Fatalf("FindBySourceAlbum failed: %v", err)
	}
	if found == nil || found.SourceAlbumID != "album-1" {
		t.Fatalf("Expected suggestion for album-1, got %+v", found)
	}
	newest := found.ID

	removed, err := s.RemoveDuplicateSourceAlbums(ctx)
	if err != nil {
		t.Fatalf("RemoveDuplicateSourceAlbums failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 duplicate removed, got %d", removed)
	}
	if kept, _ := s.FindBySourceAlbum(ctx, "album-1"); kept == nil || kept.ID != newest {
		t.Errorf("Expected newest row %d to survive, got %+v", newest, kept)
	}

	deleted, err := s.DeleteFromImmichNotIn(ctx, []string{"album-2"})
	if err != nil {
		t.Fatalf("DeleteFromImmichNotIn failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
	if gone, _ := s.FindBySourceAlbum(ctx, "album-1"); gone != nil {
		t.Errorf("Expected album-1 suggestion to be deleted, got %+v", gone)
	}
	if missing, _ := s.FindBySourceAlbum(ctx, "album-3"); missing != nil {
		t.Errorf("Expected nil for unknown album, got %+v", missing)
	}
}

func testDeleteOpen(t *testing.T, s database.Store) {
	ctx := context.Background()
	mustInsert(t, s, newSuggestion(database.StatusPending, "a1"))
	mustInsert(t, s, newSuggestion(database.StatusEnrichmentFailed, "a2"))
	approved := mustInsert(t, s, newSuggestion(database.StatusApproved, "a3"))
	rejected := mustInsert(t, s, newSuggestion(database.StatusRejected, "a4"))

	n, err := s.DeleteOpen(ctx)
	if err != nil {
		t.Fatalf("DeleteOpen failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}

	list, err := s.List(ctx, database.SuggestionFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != approved || list[1].ID != rejected {
		t.Errorf("Expected only terminal suggestions to remain, got %+v", list)
	}
}

func testListStale(t *testing.T, s database.Store) {
	ctx := context.Background()
	id := mustInsert(t, s, newSuggestion(database.StatusPendingEnrichment, "a1"))
	if ok, err := s.Transition(ctx, id, database.StatusPendingEnrichment, database.StatusEnriching, nil); err != nil || !ok {
		t.Fatalf("Transition: ok=%v err=%v", ok, err)
	}

	stale, err := s.ListStale(ctx, database.StatusEnriching, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStale failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != id {
		t.Errorf("Expected suggestion %d to be stale, got %+v", id, stale)
	}

	fresh, err := s.ListStale(ctx, database.StatusEnriching, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStale failed: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("Expected no stale suggestions, got %d", len(fresh))
	}
}

func testScanLogs(t *testing.T, s database.Store) {
	ctx := context.Background()
	messages := []string{"scan started", "fetched 10 assets", "scan finished"}
	for _, m := range messages {
		if err := s.Append(ctx, database.LevelInfo, "run-7", m); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := s.Append(ctx, database.LevelWarning, "", "skipped asset"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	all, err := s.Since(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(all))
	}
	if all[0].Message != "scan started" || all[0].RunID != "run-7" || all[0].Level != database.LevelInfo {
		t.Errorf("Unexpected first entry %+v", all[0])
	}
	if all[3].Level != database.LevelWarning {
		t.Errorf("Expected WARNING, got %s", all[3].Level)
	}

	tail, err := s.Since(ctx, all[1].ID, 1)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(tail) != 1 || tail[0].Message != "scan finished" {
		t.Errorf("Expected only 'scan finished', got %+v", tail)
	}
}
