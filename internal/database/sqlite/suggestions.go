package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/album-suggester/internal/database"
)

const suggestionColumns = `
	id, status, strong_asset_ids, weak_asset_ids, additional_asset_ids,
	cover_asset_id, vlm_title, vlm_description, location, source_album_id,
	created_album_id, event_start_date, event_end_date, gps_points,
	enrichment_error, enrichment_attempts, run_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decodeIDs(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func scanSuggestion(row rowScanner) (*database.StoredSuggestion, error) {
	var s database.StoredSuggestion
	var status, strong, weak, additional, gps string
	var sourceAlbum sql.NullString
	var start, end sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&s.ID,
		&status,
		&strong,
		&weak,
		&additional,
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = database.SuggestionStatus(status)
	s.SourceAlbumID = sourceAlbum.String
	s.CreatedAt = fromNanos(createdAt)
	s.UpdatedAt = fromNanos(updatedAt)
	if start.Valid {
		t := fromNanos(start.Int64)
		s.EventStart = &t
	}
	if end.Valid {
		t := fromNanos(end.Int64)
		s.EventEnd = &t
	}

	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{strong, &s.StrongAssetIDs},
		{weak, &s.WeakAssetIDs},
		{additional, &s.AdditionalAssetIDs},
	} {
		if err := decodeIDs(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode asset ids of suggestion %d: %w", s.ID, err)
		}
	}
	if gps != "" {
		if err := json.Unmarshal([]byte(gps), &s.GPSPoints); err != nil {
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

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func optional(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// Insert stores a new suggestion
func (s *Store) Insert(ctx context.Context, sg *database.StoredSuggestion) error {
	var encoded [4]string
	var err error
	for i, v := range []any{sg.StrongAssetIDs, sg.WeakAssetIDs, sg.AdditionalAssetIDs, sg.GPSPoints} {
		if encoded[i], err = encodeJSON(v, "[]"); err != nil {
			return fmt.Errorf("encode suggestion: %w", err)
		}
	}

	var sourceAlbum sql.NullString
	if sg.SourceAlbumID != "" {
		sourceAlbum = sql.NullString{String: sg.SourceAlbumID, Valid: true}
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO suggestions (
			status, strong_asset_ids, weak_asset_ids, additional_asset_ids,
			cover_asset_id, vlm_title, vlm_description, location, source_album_id,
			created_album_id, event_start_date, event_end_date, gps_points,
			enrichment_error, enrichment_attempts, run_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(sg.Status),
		encoded[0],
		encoded[1],
		encoded[2],
		sg.CoverAssetID,
		sg.Title,
		sg.Description,
		sg.Location,
		sourceAlbum,
		sg.CreatedAlbumID,
		nullNanos(sg.EventStart),
		nullNanos(sg.EventEnd),
		encoded[3],
		sg.EnrichmentError,
		sg.EnrichmentAttempts,
		sg.RunID,
		toNanos(now),
		toNanos(now),
	)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting inserted id: %w", err)
	}
	sg.ID = id
	sg.CreatedAt = now
	sg.UpdatedAt = now
	return nil
}

// Get retrieves a suggestion by id, returns nil if not found
func (s *Store) Get(ctx context.Context, id int64) (*database.StoredSuggestion, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+suggestionColumns+" FROM suggestions WHERE id = ?", id)
	sg, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return sg, nil
}

func statusArgs(statuses []database.SuggestionStatus) []any {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return args
}

// List returns suggestions matching the filter
func (s *Store) List(ctx context.Context, filter database.SuggestionFilter) ([]database.StoredSuggestion, error) {
	query := "SELECT " + suggestionColumns + " FROM suggestions"
	var args []any
	if len(filter.Statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(filter.Statuses)) + ")"
		args = statusArgs(filter.Statuses)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *Store) ProcessedAssetIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.value FROM suggestions s, json_each(s.strong_asset_ids) j
		UNION
		SELECT j.value FROM suggestions s, json_each(s.weak_asset_ids) j
		UNION
		SELECT j.value FROM suggestions s, json_each(s.additional_asset_ids) j
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("get processed asset ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset ids: %w", err)
	}
	return ids, nil
}

// FindBySourceAlbum returns the newest from_immich suggestion for an album
func (s *Store) FindBySourceAlbum(ctx context.Context, albumID string) (*database.StoredSuggestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE source_album_id = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`, albumID, string(database.StatusFromImmich))
	sg, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find suggestion by album: %w", err)
	}
	return sg, nil
}

// Transition is a compare-and-set on the status column
func (s *Store) Transition(ctx context.Context, id int64, from, to database.SuggestionStatus, upd *database.SuggestionUpdate) (bool, error) {
	if upd == nil {
		upd = &database.SuggestionUpdate{}
	}
	var additional any
	if upd.AdditionalAssetIDs != nil {
		encoded, err := encodeJSON(*upd.AdditionalAssetIDs, "[]")
		if err != nil {
			return false, fmt.Errorf("encode additional assets: %w", err)
		}
		additional = encoded
	}
	attempts := 0
	if upd.IncrementAttempts {
		attempts = 1
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE suggestions SET
			status = ?,
			vlm_title = COALESCE(?, vlm_title),
			vlm_description = COALESCE(?, vlm_description),
			location = COALESCE(?, location),
			cover_asset_id = COALESCE(?, cover_asset_id),
			created_album_id = COALESCE(?, created_album_id),
			enrichment_error = COALESCE(?, enrichment_error),
			additional_asset_ids = COALESCE(?, additional_asset_ids),
			enrichment_attempts = enrichment_attempts + ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(to),
		optional(upd.Title),
		optional(upd.Description),
		optional(upd.Location),
		optional(upd.CoverAssetID),
		optional(upd.CreatedAlbumID),
		optional(upd.EnrichmentError),
		additional,
		attempts,
		toNanos(time.Now()),
		id,
		string(from),
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
func (s *Store) ListStale(ctx context.Context, status database.SuggestionStatus, before time.Time) ([]database.StoredSuggestion, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+suggestionColumns+" FROM suggestions WHERE status = ? AND updated_at < ? ORDER BY id",
		string(status), toNanos(before))
	if err != nil {
		return nil, fmt.Errorf("list stale suggestions: %w", err)
	}
	defer rows.Close()
	return scanSuggestions(rows)
}

// DeleteFromImmichNotIn removes from_immich suggestions for albums that no longer exist
func (s *Store) DeleteFromImmichNotIn(ctx context.Context, albumIDs []string) (int64, error) {
	query := "DELETE FROM suggestions WHERE status = ? AND source_album_id IS NOT NULL"
	args := []any{string(database.StatusFromImmich)}
	if len(albumIDs) > 0 {
		query += " AND source_album_id NOT IN (" + placeholders(len(albumIDs)) + ")"
		for _, id := range albumIDs {
			args = append(args, id)
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale album suggestions: %w", err)
	}
	return rowsAffected(result)
}

// RemoveDuplicateSourceAlbums keeps the highest id per source album
func (s *Store) RemoveDuplicateSourceAlbums(ctx context.Context) (int64, error) {
	status := string(database.StatusFromImmich)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM suggestions
		WHERE status = ? AND source_album_id IS NOT NULL AND id NOT IN (
			SELECT MAX(id) FROM suggestions
			WHERE status = ? AND source_album_id IS NOT NULL
			GROUP BY source_album_id
		)
	`, status, status)
	if err != nil {
		return 0, fmt.Errorf("remove duplicate album suggestions: %w", err)
	}
	return rowsAffected(result)
}

// DeleteOpen removes all suggestions that are still under review
func (s *Store) DeleteOpen(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM suggestions WHERE status IN ("+placeholders(len(database.OpenStatuses))+")",
		statusArgs(database.OpenStatuses)...)
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
