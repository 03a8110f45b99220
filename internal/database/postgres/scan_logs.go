package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/album-suggester/internal/database"
)

// ScanLogRepository provides PostgreSQL-backed scan log storage
type ScanLogRepository struct {
	pool *Pool
}

// NewScanLogRepository creates a new ScanLogRepository
func NewScanLogRepository(pool *Pool) *ScanLogRepository {
	return &ScanLogRepository{pool: pool}
}

// Append writes a log entry
func (r *ScanLogRepository) Append(ctx context.Context, level database.LogLevel, runID, message string) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO scan_logs (level, run_id, message) VALUES ($1, $2, $3)",
		string(level), runID, message)
	if err != nil {
		return fmt.Errorf("append scan log: %w", err)
	}
	return nil
}

// Since returns entries newer than afterID, oldest first
func (r *ScanLogRepository) Since(ctx context.Context, afterID int64, limit int) ([]database.ScanLogEntry, error) {
	query := "SELECT id, timestamp, level, run_id, message FROM scan_logs WHERE id > $1 ORDER BY id"
	args := []any{afterID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read scan logs: %w", err)
	}
	defer rows.Close()

	var entries []database.ScanLogEntry
	for rows.Next() {
		var e database.ScanLogEntry
		var level string
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.RunID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Level = database.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan logs: %w", err)
	}
	return entries, nil
}
