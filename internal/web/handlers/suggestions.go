package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/constants"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/kozaktomas/album-suggester/internal/suggestion"
)

// Enricher runs the enrichment of a single suggestion.
type Enricher interface {
	Enrich(ctx context.Context, id int64, timeout time.Duration) (*database.StoredSuggestion, error)
}

// SuggestionsHandler handles suggestion review endpoints
type SuggestionsHandler struct {
	svc      *suggestion.Service
	store    database.SuggestionReader
	enricher Enricher               // nil disables POST /enrich
	albums   suggestion.AlbumWriter // nil disables approve and additions
}

// NewSuggestionsHandler creates a new suggestions handler
func NewSuggestionsHandler(svc *suggestion.Service, store database.SuggestionReader, enr Enricher, albums suggestion.AlbumWriter) *SuggestionsHandler {
	return &SuggestionsHandler{
		svc:      svc,
		store:    store,
		enricher: enr,
		albums:   albums,
	}
}

// SuggestionResponse represents a suggestion in API responses
type SuggestionResponse struct {
	ID                 int64                 `json:"id"`
	Status             string                `json:"status"`
	Title              string                `json:"title"`
	Description        string                `json:"description"`
	Location           string                `json:"location,omitempty"`
	CoverAssetID       string                `json:"cover_asset_id,omitempty"`
	StrongAssetIDs     []string              `json:"strong_asset_ids"`
	WeakAssetIDs       []string              `json:"weak_asset_ids"`
	AdditionalAssetIDs []string              `json:"additional_asset_ids,omitempty"`
	ImageCount         int                   `json:"image_count"`
	SourceAlbumID      string                `json:"source_album_id,omitempty"`
	CreatedAlbumID     string                `json:"created_album_id,omitempty"`
	EventStart         *time.Time            `json:"event_start,omitempty"`
	EventEnd           *time.Time            `json:"event_end,omitempty"`
	GPSPoints          []clustering.GeoPoint `json:"gps_points,omitempty"`
	EnrichmentError    string                `json:"enrichment_error,omitempty"`
	EnrichmentAttempts int                   `json:"enrichment_attempts"`
	RunID              string                `json:"run_id,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func suggestionToResponse(s *database.StoredSuggestion) SuggestionResponse {
	return SuggestionResponse{
		ID:                 s.ID,
		Status:             string(s.Status),
		Title:              s.Title,
		Description:        s.Description,
		Location:           s.Location,
		CoverAssetID:       s.CoverAssetID,
		StrongAssetIDs:     emptyIfNil(s.StrongAssetIDs),
		WeakAssetIDs:       emptyIfNil(s.WeakAssetIDs),
		AdditionalAssetIDs: s.AdditionalAssetIDs,
		ImageCount:         s.ImageCount(),
		SourceAlbumID:      s.SourceAlbumID,
		CreatedAlbumID:     s.CreatedAlbumID,
		EventStart:         s.EventStart,
		EventEnd:           s.EventEnd,
		GPSPoints:          s.GPSPoints,
		EnrichmentError:    s.EnrichmentError,
		EnrichmentAttempts: s.EnrichmentAttempts,
		RunID:              s.RunID,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

// parseFilter reads status, sort, order and limit query parameters. Without
// a status only suggestions still under review are listed; "all" lists every
// status.
func parseFilter(r *http.Request) (database.SuggestionFilter, error) {
	q := r.URL.Query()
	filter := database.SuggestionFilter{
		SortBy: database.SortByCreatedAt,
		Limit:  constants.DefaultHandlerPageSize,
	}

	switch status := q.Get("status"); status {
	case "":
		filter.Statuses = database.OpenStatuses
	case "all":
	default:
		for s := range strings.SplitSeq(status, ",") {
			st := database.SuggestionStatus(strings.TrimSpace(s))
			if !st.Valid() {
				return filter, fmt.Errorf("unknown status %q", st)
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	if sortBy := q.Get("sort"); sortBy != "" {
		switch sortBy {
		case database.SortByCreatedAt, database.SortByEventStart, database.SortByImageCount:
			filter.SortBy = sortBy
		default:
			return filter, fmt.Errorf("unknown sort key %q", sortBy)
		}
	}

	switch q.Get("order") {
	case "", "asc":
	case "desc":
		filter.Descending = true
	default:
		return filter, errors.New("order must be asc or desc")
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit must be a positive number")
		}
		filter.Limit = min(limit, constants.MaxHandlerPageSize)
	}
	return filter, nil
}

// List returns suggestions matching the query
func (h *SuggestionsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.store.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response := make([]SuggestionResponse, len(list))
	for i := range list {
		response[i] = suggestionToResponse(&list[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Get returns a single suggestion
func (h *SuggestionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	sg, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestionToResponse(sg))
}

// Enrich runs enrichment synchronously. An optional timeout query parameter
// (a Go duration) overrides the configured one.
func (h *SuggestionsHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	if h.enricher == nil {
		respondError(w, http.StatusServiceUnavailable, "enrichment is not configured")
		return
	}

	var timeout time.Duration
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}

	sg, err := h.enricher.Enrich(r.Context(), id, timeout)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestionToResponse(sg))
}

type approveRequest struct {
	WeakAssetIDs      []string `json:"weak_asset_ids"`
	HighlightAssetIDs []string `json:"highlight_asset_ids"`
}

// Approve creates the album and marks the suggestion approved
func (h *SuggestionsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	if h.albums == nil {
		respondError(w, http.StatusServiceUnavailable, "photo service is not configured")
		return
	}

	var req approveRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	sg, err := h.svc.Approve(r.Context(), id, suggestion.ApproveOptions{
		WeakAssetIDs: req.WeakAssetIDs,
		Highlights:   req.HighlightAssetIDs,
	}, h.albums)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestionToResponse(sg))
}

type additionsRequest struct {
	AssetIDs []string `json:"asset_ids"`
}

// AddAssets adds suggested assets to the existing album of a from_immich
// suggestion. Without asset_ids every suggested addition is added.
func (h *SuggestionsHandler) AddAssets(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	if h.albums == nil {
		respondError(w, http.StatusServiceUnavailable, "photo service is not configured")
		return
	}

	var req additionsRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	sg, err := h.svc.ApplyAdditions(r.Context(), id, req.AssetIDs, h.albums)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestionToResponse(sg))
}

// Reject marks the suggestion rejected
func (h *SuggestionsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	sg, err := h.svc.Reject(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestionToResponse(sg))
}

type titleRequest struct {
	Title string `json:"title"`
}

// UpdateTitle changes the title of a suggestion under review
func (h *SuggestionsHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	var req titleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sg, err := h.svc.SetTitle(r.Context(), id, req.Title)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestionToResponse(sg))
}

type coverRequest struct {
	AssetID string `json:"asset_id"`
}

// UpdateCover changes the cover asset of a suggestion under review
func (h *SuggestionsHandler) UpdateCover(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	var req coverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AssetID == "" {
		respondError(w, http.StatusBadRequest, "asset_id is required")
		return
	}
	sg, err := h.svc.SetCover(r.Context(), id, req.AssetID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestionToResponse(sg))
}
