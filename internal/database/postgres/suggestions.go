package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/database"
	"github.com/lib/pq"
)

var _ database.Store = (*Store)(nil)

const suggestionColumns = `
	id, status, strong_asset_ids, weak_asset_ids, additional_asset_ids,
	cover_asset_id, vlm_title, vlm_description, location, source_album_id,
	created_album_id, event_start_date, event_end_date, gps_points,
	enrichment_error, enrichment_attempts, run_id, created_at, updated_at`

// SuggestionRepository provides PostgreSQL-backed suggestion storage
type SuggestionRepository struct {
	pool *Pool
}

// NewSuggestionRepository creates a new SuggestionRepository
func NewSuggestionRepository(pool *Pool) *SuggestionRepository {
	return &SuggestionRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(row rowScanner) (*database.StoredSuggestion, error) {
	var s database.StoredSuggestion
	var status string
	var sourceAlbum sql.NullString
	var start, end sql.NullTime
	var gps []byte

	err := row.Scan(
		&s.ID,
		&status,
		pq.Array(&s.StrongAssetIDs),
		pq.Array(&s.WeakAssetIDs),
		pq.Array(&s.AdditionalAssetIDs),
		&s.CoverAssetID,
		&s.Title,
		&s.Description,
		&s.Location,
		&sourceAlbum,
		&s.CreatedAlbumID,
		&start,
		&end,
		&gps,
		&s.EnrichmentError,
		&s.EnrichmentAttempts,
		&s.RunID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = database.SuggestionStatus(status)
	s.SourceAlbumID = sourceAlbum.String
	if start.Valid {
		s.EventStart = &start.Time
	}
	if end.Valid {
		s.EventEnd = &end.Time
	}
	if len(gps) > 0 {
		if err := json.Unmarshal(gps, &s.GPSPoints); err != nil {
			return nil, fmt.Errorf("decode gps points of suggestion %d: %w", s.ID, err)
		}
	}
	return &s, nil
}

func scanSuggestions(rows *sql.Rows) ([]database.StoredSuggestion, error) {
	var list []database.StoredSuggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		list = append(list, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return list, nil
}

func encodeGPS(points []clustering.GeoPoint) (string, error) {
	if points == nil {
		points = []clustering.GeoPoint{}
	}
	b, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("encode gps points: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func optional(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// Insert stores a new suggestion
func (r *SuggestionRepository) Insert(ctx context.Context, s *database.StoredSuggestion) error {
	gps, err := encodeGPS(s.GPSPoints)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO suggestions (
			status, strong_asset_ids, weak_asset_ids, additional_asset_ids,
			cover_asset_id, vlm_title, vlm_description, location, source_album_id,
			created_album_id, event_start_date, event_end_date, gps_points,
			enrichment_error, enrichment_attempts, run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at
	`

	err = r.pool.QueryRow(ctx, query,
		string(s.Status),
		pq.Array(nonNil(s.StrongAssetIDs)),
		pq.Array(nonNil(s.WeakAssetIDs)),
		pq.Array(nonNil(s.AdditionalAssetIDs)),
		s.CoverAssetID,
		s.Title,
		s.Description,
		s.Location,
		nullString(s.SourceAlbumID),
		s.CreatedAlbumID,
		nullTime(s.EventStart),
		nullTime(s.EventEnd),
		gps,
		s.EnrichmentError,
		s.EnrichmentAttempts,
		s.RunID,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

// Get retrieves a suggestion by id, returns nil if not found
func (r *SuggestionRepository) Get(ctx context.Context, id int64) (*database.StoredSuggestion, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+suggestionColumns+" FROM suggestions WHERE id = $1", id)
	s, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return s, nil
}

// List returns suggestions matching the filter
func (r *SuggestionRepository) List(ctx context.Context, filter database.SuggestionFilter) ([]database.StoredSuggestion, error) {
	query := "SELECT " + suggestionColumns + " FROM suggestions"
	var args []any
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += " WHERE status = ANY($1)"
		args = append(args, pq.Array(statuses))
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	list, err := scanSuggestions(rows)
	if err != nil {
		return nil, err
	}

	database.SortSuggestions(list, filter.SortBy, filter.Descending)
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list, nil
}

// ProcessedAssetIDs returns every asset id referenced by any suggestion
func (r *SuggestionRepository) ProcessedAssetIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT asset_id FROM (
			SELECT unnest(strong_asset_ids) AS asset_id FROM suggestions
			UNION
			SELECT unnest(weak_asset_ids) FROM suggestions
			UNION
			SELECT unnest(additional_asset_ids) FROM suggestions
		) ids
		ORDER BY asset_id
	`)
	if err != nil {
		return nil, fmt.Errorf("get processed asset ids: %w", err)
	}
	ids, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("processed asset ids: %w", err)
	}
	return ids, nil
}

// FindBySourceAlbum returns the newest from_immich suggestion for an album
func (r *SuggestionRepository) FindBySourceAlbum(ctx context.Context, albumID string) (*database.StoredSuggestion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE source_album_id = $1 AND status = $2
		ORDER BY id DESC
		LIMIT 1
	`, albumID, string(database.StatusFromImmich))
	s, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find suggestion by album: %w", err)
	}
	return s, nil
}

// Transition is a compare-and-set on the status column
func (r *SuggestionRepository) Transition(ctx context.Context, id int64, from, to database.SuggestionStatus, upd *database.SuggestionUpdate) (bool, error) {
	if upd == nil {
		upd = &database.SuggestionUpdate{}
	}
	var additional any
	if upd.AdditionalAssetIDs != nil {
		additional = pq.Array(nonNil(*upd.AdditionalAssetIDs))
	}
	attempts := 0
	if upd.IncrementAttempts {
		attempts = 1
	}

	query := `
		UPDATE suggestions SET
			status = $3,
			vlm_title = COALESCE($4, vlm_title),
			vlm_description = COALESCE($5, vlm_description),
			location = COALESCE($6, location),
			cover_asset_id = COALESCE($7, cover_asset_id),
			created_album_id = COALESCE($8, created_album_id),
			enrichment_error = COALESCE($9, enrichment_error),
			additional_asset_ids = COALESCE($10, additional_asset_ids),
			enrichment_attempts = enrichment_attempts + $11,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.pool.Exec(ctx, query,
		id,
		string(from),
		string(to),
		optional(upd.Title),
		optional(upd.Description),
		optional(upd.Location),
		optional(upd.CoverAssetID),
		optional(upd.CreatedAlbumID),
		optional(upd.EnrichmentError),
		additional,
		attempts,
	)
	if err != nil {
		return false, fmt.Errorf("transition suggestion %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n == 1, nil
}

// ListStale returns suggestions stuck in status since before
func (r *SuggestionRepository) ListStale(ctx context.Context, status database.SuggestionStatus, before time.Time) ([]database.StoredSuggestion, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+suggestionColumns+" FROM suggestions WHERE status = $1 AND updated_at < $2 ORDER BY id",
		string(status), before)
	if err != nil {
		return nil, fmt.Errorf("list stale suggestions: %w", err)
	}
	defer rows.Close()
	return scanSuggestions(rows)
}

// DeleteFromImmichNotIn removes from_immich suggestions for albums that no longer exist
func (r *SuggestionRepository) DeleteFromImmichNotIn(ctx context.Context, albumIDs []string) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM suggestions
		WHERE status = $1 AND source_album_id IS NOT NULL AND NOT (source_album_id = ANY($2))
	`, string(database.StatusFromImmich), pq.Array(nonNil(albumIDs)))
	if err != nil {
		return 0, fmt.Errorf("delete stale album suggestions: %w", err)
	}
	return rowsAffected(result)
}

// RemoveDuplicateSourceAlbums keeps the highest id per source album
func (r *SuggestionRepository) RemoveDuplicateSourceAlbums(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM suggestions
		WHERE status = $1 AND source_album_id IS NOT NULL AND id NOT IN (
			SELECT MAX(id) FROM suggestions
			WHERE status = $1 AND source_album_id IS NOT NULL
			GROUP BY source_album_id
		)
	`, string(database.StatusFromImmich))
	if err != nil {
		return 0, fmt.Errorf("remove duplicate album suggestions: %w", err)
	}
	return rowsAffected(result)
}

// DeleteOpen removes all suggestions that are still under review
func (r *SuggestionRepository) DeleteOpen(ctx context.Context) (int64, error) {
	statuses := make([]string, len(database.OpenStatuses))
	for i, st := range database.OpenStatuses {
		statuses[i] = string(st)
	}
	result, err := r.pool.Exec(ctx, "DELETE FROM suggestions WHERE status = ANY($1)", pq.Array(statuses))
	if err != nil {
		return 0, fmt.Errorf("delete open suggestions: %w", err)
	}
	return rowsAffected(result)
}

func rowsAffected(result sql.Result) (int64, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}
