package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/album-suggester/internal/database"
)

// Append writes a log entry
func (s *Store) Append(ctx context.Context, level database.LogLevel, runID, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO scan_logs (timestamp, level, run_id, message) VALUES (?, ?, ?, ?)",
		toNanos(time.Now()), string(level), runID, message)
	if err != nil {
		return fmt.Errorf("append scan log: %w", err)
	}
	return nil
}

// Since returns entries newer than afterID, oldest first
func (s *Store) Since(ctx context.Context, afterID int64, limit int) ([]database.ScanLogEntry, error) {
	query := "SELECT id, timestamp, level, run_id, message FROM scan_logs WHERE id > ? ORDER BY id"
	args := []any{afterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read scan logs: %w", err)
	}
	defer rows.Close()

	var entries []database.ScanLogEntry
	for rows.Next() {
		var e database.ScanLogEntry
		var ts int64
		var level string
		if err := rows.Scan(&e.ID, &ts, &level, &e.RunID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Timestamp = fromNanos(ts)
		e.Level = database.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan logs: %w", err)
	}
	return entries, nil
}
