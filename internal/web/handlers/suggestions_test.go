package handlers

import (
	"context"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/enricher"
)

func seedSuggestions(env *testEnv) {
	start := time.Date(2025, time.August, 2, 10, 0, 0, 0, time.UTC)
	env.store.AddSuggestion(database.StoredSuggestion{
		ID:             1,
		Status:         database.StatusPending,
		Title:          "Summer in Nice",
		Description:    "Beach days.",
		StrongAssetIDs: []string{"s1", "s2"},
		WeakAssetIDs:   []string{"w1"},
		CoverAssetID:   "s1",
		EventStart:     &start,
	})
	env.store.AddSuggestion(database.StoredSuggestion{
		ID:             2,
		Status:         database.StatusPendingEnrichment,
		Title:          "Event from August 2025",
		Description:    "A collection of photos from an event.",
		StrongAssetIDs: []string{"a1", "a2", "a3", "a4"},
	})
	env.store.AddSuggestion(database.StoredSuggestion{
		ID:             3,
		Status:         database.StatusApproved,
		StrongAssetIDs: []string{"x1"},
	})
	env.store.AddSuggestion(database.StoredSuggestion{
		ID:                 4,
		Status:             database.StatusFromImmich,
		Title:              "Prague",
		SourceAlbumID:      "alb1",
		StrongAssetIDs:     []string{"p1"},
		AdditionalAssetIDs: []string{"n1", "n2"},
	})
}

func TestSuggestionsHandler_List(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	tests := []struct {
		name    string
		query   string
		wantIDs []int64
		status  int
	}{
		{"open by default", "", []int64{1, 2, 4}, http.StatusOK},
		{"all", "?status=all", []int64{1, 2, 3, 4}, http.StatusOK},
		{"status list", "?status=pending,approved", []int64{1, 3}, http.StatusOK},
		{"image count desc", "?sort=image_count&order=desc", []int64{2, 4, 1}, http.StatusOK},
		{"limit", "?limit=1", []int64{1}, http.StatusOK},
		{"unknown status", "?status=done", nil, http.StatusBadRequest},
		{"unknown sort", "?sort=title", nil, http.StatusBadRequest},
		{"bad order", "?order=up", nil, http.StatusBadRequest},
		{"bad limit", "?limit=-5", nil, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := do(t, env.handler.List, http.MethodGet, "/api/v1/suggestions"+tc.query, "", "")
			assertStatusCode(t, recorder, tc.status)
			if tc.status != http.StatusOK {
				return
			}

			var result []SuggestionResponse
			parseJSONResponse(t, recorder, &result)
			var ids []int64
			for _, s := range result {
				ids = append(ids, s.ID)
			}
			if !slices.Equal(ids, tc.wantIDs) {
				t.Errorf("expected ids %v, got %v", tc.wantIDs, ids)
			}
		})
	}
}

func TestSuggestionsHandler_Get(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	recorder := do(t, env.handler.Get, http.MethodGet, "/api/v1/suggestions/1", "1", "")
	assertStatusCode(t, recorder, http.StatusOK)

	var result SuggestionResponse
	parseJSONResponse(t, recorder, &result)
	if result.Status != "pending" || result.ImageCount != 3 || result.EventStart == nil {
		t.Errorf("unexpected suggestion %+v", result)
	}

	recorder = do(t, env.handler.Get, http.MethodGet, "/api/v1/suggestions/99", "99", "")
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestSuggestionsHandler_Enrich(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	recorder := do(t, env.handler.Enrich, http.MethodPost, "/api/v1/suggestions/2/enrich?timeout=30s", "2", "")
	assertStatusCode(t, recorder, http.StatusOK)
	var result SuggestionResponse
	parseJSONResponse(t, recorder, &result)
	if result.Status != "pending" || result.Title != "Summer in Nice" {
		t.Errorf("unexpected enriched suggestion %+v", result)
	}
	if env.enricher.timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %s", env.enricher.timeout)
	}

	// approved suggestions cannot be enriched
	recorder = do(t, env.handler.Enrich, http.MethodPost, "/api/v1/suggestions/3/enrich", "3", "")
	assertStatusCode(t, recorder, http.StatusConflict)

	recorder = do(t, env.handler.Enrich, http.MethodPost, "/api/v1/suggestions/2/enrich?timeout=soon", "2", "")
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestSuggestionsHandler_EnrichErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", &enricher.TimeoutError{ID: 2, Timeout: time.Minute}, http.StatusGatewayTimeout},
		{"service", &enricher.ServiceError{ID: 2, Err: errUnavailable}, http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			seedSuggestions(env)
			env.enricher.err = tc.err

			recorder := do(t, env.handler.Enrich, http.MethodPost, "/api/v1/suggestions/2/enrich", "2", "")
			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.err.Error())
		})
	}

	env := newTestEnv()
	h := NewSuggestionsHandler(env.svc, env.store, nil, nil)
	recorder := do(t, h.Enrich, http.MethodPost, "/api/v1/suggestions/2/enrich", "2", "")
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestSuggestionsHandler_Approve(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	recorder := do(t, env.handler.Approve, http.MethodPost, "/api/v1/suggestions/1/approve", "1",
		`{"weak_asset_ids":["w1"],"highlight_asset_ids":["s2"]}`)
	assertStatusCode(t, recorder, http.StatusOK)

	var result SuggestionResponse
	parseJSONResponse(t, recorder, &result)
	if result.Status != "approved" || result.CreatedAlbumID != "album-new" {
		t.Errorf("unexpected approved suggestion %+v", result)
	}
	if len(env.albums.created) != 1 || !slices.Equal(env.albums.created[0], []string{"s1", "s2", "w1"}) {
		t.Errorf("unexpected album assets %v", env.albums.created)
	}
	if env.albums.covers["album-new"] != "s1" || !slices.Equal(env.albums.favorites, []string{"s2"}) {
		t.Errorf("unexpected cover %v or favorites %v", env.albums.covers, env.albums.favorites)
	}

	// approving twice is a lifecycle conflict
	recorder = do(t, env.handler.Approve, http.MethodPost, "/api/v1/suggestions/1/approve", "1", "")
	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestSuggestionsHandler_ApproveFailures(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	recorder := do(t, env.handler.Approve, http.MethodPost, "/api/v1/suggestions/1/approve", "1", `{"weak_asset_ids":["s9"]}`)
	assertStatusCode(t, recorder, http.StatusBadRequest)

	recorder = do(t, env.handler.Approve, http.MethodPost, "/api/v1/suggestions/1/approve", "1", `{"weak_asset_ids":`)
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, errInvalidRequestBody)

	// the album write fails, the suggestion stays pending
	env.albums.createErr = errUnavailable
	recorder = do(t, env.handler.Approve, http.MethodPost, "/api/v1/suggestions/1/approve", "1", "")
	assertStatusCode(t, recorder, http.StatusInternalServerError)

	sg, _ := env.store.Get(context.Background(), 1)
	if sg.Status != database.StatusPending {
		t.Errorf("expected suggestion to stay pending, got %s", sg.Status)
	}
}

func TestSuggestionsHandler_AddAssets(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	recorder := do(t, env.handler.AddAssets, http.MethodPost, "/api/v1/suggestions/4/additions", "4", `{"asset_ids":["n2"]}`)
	assertStatusCode(t, recorder, http.StatusOK)

	var result SuggestionResponse
	parseJSONResponse(t, recorder, &result)
	if result.Status != "from_immich" || !slices.Equal(result.AdditionalAssetIDs, []string{"n1"}) {
		t.Errorf("unexpected suggestion after additions %+v", result)
	}
	if !slices.Equal(env.albums.added["alb1"], []string{"n2"}) {
		t.Errorf("unexpected album additions %v", env.albums.added)
	}

	recorder = do(t, env.handler.AddAssets, http.MethodPost, "/api/v1/suggestions/1/additions", "1", "")
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestSuggestionsHandler_Reject(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	recorder := do(t, env.handler.Reject, http.MethodPost, "/api/v1/suggestions/2/reject", "2", "")
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = do(t, env.handler.Reject, http.MethodPost, "/api/v1/suggestions/3/reject", "3", "")
	assertStatusCode(t, recorder, http.StatusConflict)

	sg, _ := env.store.Get(context.Background(), 3)
	if sg.Status != database.StatusApproved {
		t.Errorf("expected approved suggestion to stay approved, got %s", sg.Status)
	}
}

func TestSuggestionsHandler_UpdateTitleAndCover(t *testing.T) {
	env := newTestEnv()
	seedSuggestions(env)

	recorder := do(t, env.handler.UpdateTitle, http.MethodPut, "/api/v1/suggestions/1/title", "1", `{"title":"  Nice 2025 "}`)
	assertStatusCode(t, recorder, http.StatusOK)
	var result SuggestionResponse
	parseJSONResponse(t, recorder, &result)
	if result.Title != "Nice 2025" {
		t.Errorf("expected trimmed title, got %q", result.Title)
	}

	recorder = do(t, env.handler.UpdateTitle, http.MethodPut, "/api/v1/suggestions/1/title", "1", `{"title":""}`)
	assertStatusCode(t, recorder, http.StatusBadRequest)

	recorder = do(t, env.handler.UpdateCover, http.MethodPut, "/api/v1/suggestions/1/cover", "1", `{"asset_id":"w1"}`)
	assertStatusCode(t, recorder, http.StatusOK)
	parseJSONResponse(t, recorder, &result)
	if result.CoverAssetID != "w1" {
		t.Errorf("expected cover w1, got %q", result.CoverAssetID)
	}

	recorder = do(t, env.handler.UpdateCover, http.MethodPut, "/api/v1/suggestions/1/cover", "1", `{"asset_id":"zz"}`)
	assertStatusCode(t, recorder, http.StatusBadRequest)

	recorder = do(t, env.handler.UpdateCover, http.MethodPut, "/api/v1/suggestions/1/cover", "1", `{}`)
	assertStatusCode(t, recorder, http.StatusBadRequest)

	recorder = do(t, env.handler.UpdateTitle, http.MethodPut, "/api/v1/suggestions/3/title", "3", `{"title":"Late"}`)
	assertStatusCode(t, recorder, http.StatusConflict)
}
