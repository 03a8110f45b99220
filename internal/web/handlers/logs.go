package handlers

import (
	"net/http"
	"strconv"

	"github.com/kozaktomas/album-suggester/internal/constants"
	"github.com/kozaktomas/album-suggester/internal/database"
)

// LogsHandler serves the scan log
type LogsHandler struct {
	logs database.ScanLogReader
}

// NewLogsHandler creates a new logs handler
func NewLogsHandler(logs database.ScanLogReader) *LogsHandler {
	return &LogsHandler{logs: logs}
}

// LogsResponse is one page of the scan log. Clients poll with since=last_id.
type LogsResponse struct {
	Entries []database.ScanLogEntry `json:"entries"`
	LastID  int64                   `json:"last_id"`
}

// Since returns entries newer than the since query parameter, oldest first
func (h *LogsHandler) Since(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since int64
	if s := q.Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "since must be a non-negative number")
			return
		}
		since = v
	}
	limit := constants.DefaultLogLimit
	if l := q.Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = min(v, constants.MaxLogLimit)
	}

	entries, err := h.logs.Since(r.Context(), since, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := LogsResponse{Entries: entries, LastID: since}
	if resp.Entries == nil {
		resp.Entries = []database.ScanLogEntry{}
	}
	if n := len(entries); n > 0 {
		resp.LastID = entries[n-1].ID
	}
	respondJSON(w, http.StatusOK, resp)
}
