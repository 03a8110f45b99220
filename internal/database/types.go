package database

import (
	"sort"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
)

// SuggestionStatus is the lifecycle state of a suggestion.
type SuggestionStatus string

const (
	StatusPendingEnrichment SuggestionStatus = "pending_enrichment"
	StatusEnriching         SuggestionStatus = "enriching"
	StatusPending           SuggestionStatus = "pending"
	StatusEnrichmentFailed  SuggestionStatus = "enrichment_failed"
	StatusApproved          SuggestionStatus = "approved"
	StatusRejected          SuggestionStatus = "rejected"
	StatusFromImmich        SuggestionStatus = "from_immich"
)

// OpenStatuses are the statuses shown for review and removed by a purge.
var OpenStatuses = []SuggestionStatus{
	StatusPending,
	StatusPendingEnrichment,
	StatusEnriching,
	StatusEnrichmentFailed,
	StatusFromImmich,
}

// Valid reports whether s is a known status.
func (s SuggestionStatus) Valid() bool {
	switch s {
	case StatusPendingEnrichment, StatusEnriching, StatusPending, StatusEnrichmentFailed,
		StatusApproved, StatusRejected, StatusFromImmich:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s SuggestionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// StoredSuggestion is a persisted album suggestion.
type StoredSuggestion struct {
	ID                 int64
	Status             SuggestionStatus
	StrongAssetIDs     []string
	WeakAssetIDs       []string
	AdditionalAssetIDs []string // only for suggestions built from an existing album
	CoverAssetID       string
	Title              string
	Description        string
	Location           string
	SourceAlbumID      string // existing album the suggestion augments
	CreatedAlbumID     string // album created on approval
	EventStart         *time.Time
	EventEnd           *time.Time
	GPSPoints          []clustering.GeoPoint
	EnrichmentError    string
	EnrichmentAttempts int
	RunID              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ImageCount returns the number of assets referenced by the suggestion.
func (s *StoredSuggestion) ImageCount() int {
	return len(s.StrongAssetIDs) + len(s.WeakAssetIDs) + len(s.AdditionalAssetIDs)
}

// AssetIDs returns strong, weak and additional asset ids in that order.
func (s *StoredSuggestion) AssetIDs() []string {
	ids := make([]string, 0, s.ImageCount())
	ids = append(ids, s.StrongAssetIDs...)
	ids = append(ids, s.WeakAssetIDs...)
	return append(ids, s.AdditionalAssetIDs...)
}

// SuggestionUpdate carries the fields written together with a status change.
// Nil fields are left untouched.
type SuggestionUpdate struct {
	Title              *string
	Description        *string
	Location           *string
	CoverAssetID       *string
	CreatedAlbumID     *string
	EnrichmentError    *string
	AdditionalAssetIDs *[]string
	IncrementAttempts  bool
}

// Changed returns the names of the fields the update sets.
func (u *SuggestionUpdate) Changed() []string {
	if u == nil {
		return nil
	}
	var fields []string
	if u.Title != nil {
		fields = append(fields, "title")
	}
	if u.Description != nil {
		fields = append(fields, "description")
	}
	if u.Location != nil {
		fields = append(fields, "location")
	}
	if u.CoverAssetID != nil {
		fields = append(fields, "cover_asset_id")
	}
	if u.CreatedAlbumID != nil {
		fields = append(fields, "created_album_id")
	}
	if u.EnrichmentError != nil {
		fields = append(fields, "enrichment_error")
	}
	if u.AdditionalAssetIDs != nil {
		fields = append(fields, "additional_asset_ids")
	}
	if u.IncrementAttempts {
		fields = append(fields, "enrichment_attempts")
	}
	return fields
}

// Apply copies the set fields onto s.
func (u *SuggestionUpdate) Apply(s *StoredSuggestion) {
	if u == nil {
		return
	}
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.Description != nil {
		s.Description = *u.Description
	}
	if u.Location != nil {
		s.Location = *u.Location
	}
	if u.CoverAssetID != nil {
		s.CoverAssetID = *u.CoverAssetID
	}
	if u.CreatedAlbumID != nil {
		s.CreatedAlbumID = *u.CreatedAlbumID
	}
	if u.EnrichmentError != nil {
		s.EnrichmentError = *u.EnrichmentError
	}
	if u.AdditionalAssetIDs != nil {
		s.AdditionalAssetIDs = append([]string(nil), (*u.AdditionalAssetIDs)...)
	}
	if u.IncrementAttempts {
		s.EnrichmentAttempts++
	}
}

// Sort keys accepted by SuggestionFilter.SortBy.
const (
	SortByCreatedAt  = "created_at"
	SortByEventStart = "event_start_date"
	SortByImageCount = "image_count"
)

// SuggestionFilter selects suggestions for List.
type SuggestionFilter struct {
	Statuses   []SuggestionStatus // empty means all
	SortBy     string
	Descending bool
	Limit      int
}

// SortSuggestions orders suggestions by the given key. Ties and unknown keys
// fall back to id order.
func SortSuggestions(list []StoredSuggestion, by string, desc bool) {
	less := func(a, b *StoredSuggestion) int {
		switch by {
		case SortByEventStart:
			return compareTimes(a.EventStart, b.EventStart)
		case SortByImageCount:
			return a.ImageCount() - b.ImageCount()
		case SortByCreatedAt:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return 0
	}

	sort.SliceStable(list, func(i, j int) bool {
		c := less(&list[i], &list[j])
		if c == 0 {
			c = int(list[i].ID - list[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareTimes orders nil after every set time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// LogLevel is the severity of a scan log entry.
type LogLevel string

const (
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelProgress LogLevel = "PROGRESS"
)

// ScanLogEntry is one line of the append-only operational log.
type ScanLogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	RunID     string    `json:"run_id,omitempty"`
	Message   string    `json:"message"`
}
