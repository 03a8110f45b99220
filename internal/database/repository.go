package database

import (
	"context"
	"time"
)

// SuggestionReader provides read-only access to suggestions
type SuggestionReader interface {
	// Get retrieves a suggestion by id, returns nil if not found
	Get(ctx context.Context, id int64) (*StoredSuggestion, error)
	// List returns suggestions matching the filter
	List(ctx context.Context, filter SuggestionFilter) ([]StoredSuggestion, error)
	// ProcessedAssetIDs returns every asset id referenced by any suggestion
	ProcessedAssetIDs(ctx context.Context) ([]string, error)
	// FindBySourceAlbum returns the newest from_immich suggestion for an album, nil if none
	FindBySourceAlbum(ctx context.Context, albumID string) (*StoredSuggestion, error)
}

// SuggestionWriter provides write access to suggestions
type SuggestionWriter interface {
	SuggestionReader

	// Insert stores a new suggestion and sets its ID and timestamps
	Insert(ctx context.Context, s *StoredSuggestion) error

	// Transition moves a suggestion from one status to another and applies
	// the update in the same statement. It reports false without changing
	// anything when the stored status is not from. from == to updates the
	// fields only.
	Transition(ctx context.Context, id int64, from, to SuggestionStatus, upd *SuggestionUpdate) (bool, error)

	// ListStale returns suggestions in status whose last update is older than before
	ListStale(ctx context.Context, status SuggestionStatus, before time.Time) ([]StoredSuggestion, error)

	// DeleteFromImmichNotIn removes from_immich suggestions whose album id is not listed
	DeleteFromImmichNotIn(ctx context.Context, albumIDs []string) (int64, error)

	// RemoveDuplicateSourceAlbums keeps only the newest from_immich row per album
	RemoveDuplicateSourceAlbums(ctx context.Context) (int64, error)

	// DeleteOpen removes every suggestion in one of the open statuses
	DeleteOpen(ctx context.Context) (int64, error)
}

// ScanLogWriter appends to the operational log
type ScanLogWriter interface {
	Append(ctx context.Context, level LogLevel, runID, message string) error
}

// ScanLogReader reads the operational log
type ScanLogReader interface {
	// Since returns entries with id greater than afterID, oldest first
	Since(ctx context.Context, afterID int64, limit int) ([]ScanLogEntry, error)
}

// Store is a complete suggestion store backend
type Store interface {
	SuggestionWriter
	ScanLogWriter
	ScanLogReader
	Close() error
}
