package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/database/mock"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
)

var testDefaults = config.DefaultsConfig{
	TitleTemplate: "Event from {date}",
	Description:   "A collection of photos from an event.",
}

// fakeAlbums records album writes
type fakeAlbums struct {
	mu        sync.Mutex
	createErr error
	created   [][]string
	added     map[string][]string
	covers    map[string]string
	favorites []string
}

func newFakeAlbums() *fakeAlbums {
	return &fakeAlbums{added: map[string][]string{}, covers: map[string]string{}}
}

func (f *fakeAlbums) CreateAlbum(ctx context.Context, name, description string, assetIDs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, assetIDs)
	return "album-new", nil
}

func (f *fakeAlbums) AddAssetsToAlbum(ctx context.Context, albumID string, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[albumID] = append(f.added[albumID], assetIDs...)
	return nil
}

func (f *fakeAlbums) SetAlbumCover(ctx context.Context, albumID, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.covers[albumID] = assetID
	return nil
}

func (f *fakeAlbums) SetFavorite(ctx context.Context, assetIDs []string, favorite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favorites = append(f.favorites, assetIDs...)
	return nil
}

// fakeEnricher completes enrichment through the service without a model
type fakeEnricher struct {
	svc     *suggestion.Service
	err     error
	timeout time.Duration
}

func (f *fakeEnricher) Enrich(ctx context.Context, id int64, timeout time.Duration) (*database.StoredSuggestion, error) {
	f.timeout = timeout
	if f.err != nil {
		return nil, f.err
	}
	if _, err := f.svc.BeginEnrichment(ctx, id); err != nil {
		return nil, err
	}
	return f.svc.CompleteEnrichment(ctx, id, suggestion.EnrichmentResult{
		Title:       "Summer in Nice",
		Description: "Beach days on the Riviera.",
	})
}

type testEnv struct {
	store    *mock.MockStore
	svc      *suggestion.Service
	albums   *fakeAlbums
	enricher *fakeEnricher
	handler  *SuggestionsHandler
}

func newTestEnv() *testEnv {
	store := mock.NewMockStore()
	svc := suggestion.NewService(store, testDefaults)
	env := &testEnv{
		store:    store,
		svc:      svc,
		albums:   newFakeAlbums(),
		enricher: &fakeEnricher{svc: svc},
	}
	env.handler = NewSuggestionsHandler(svc, store, env.enricher, env.albums)
	return env
}

// do runs a handler method with the given id URL parameter and JSON body
func do(t *testing.T, h http.HandlerFunc, method, path, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if id != "" {
		req = requestWithChiParams(req, map[string]string{"id": id})
	}
	recorder := httptest.NewRecorder()
	h(recorder, req)
	return recorder
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

var errUnavailable = errors.New("request failed with status 503: immich is starting")
