package repository

import (
	"database/sql"
	"fmt"
	"time"
)

// GetRateLimit reads the persisted window for one quota kind. A kind that
// has never acquired returns a zero window start and zero count.
func (s *Store) GetRateLimit(kind string) (time.Time, int, error) {
	var windowStart time.Time
	var count int

	err := s.db.QueryRow(
		"SELECT window_start, count FROM rate_limits WHERE kind = ?", kind,
	).Scan(&windowStart, &count)

	if err == sql.ErrNoRows {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to read rate limit state: %w", err)
	}

	return windowStart, count, nil
}

// SetRateLimit persists the window for one quota kind. Called before the
// guarded action so a crash can never under-count.
func (s *Store) SetRateLimit(kind string, windowStart time.Time, count int) error {
	_, err := s.db.Exec(`
		INSERT INTO rate_limits (kind, window_start, count) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET window_start = excluded.window_start, count = excluded.count
	`, kind, windowStart.UTC(), count)
	if err != nil {
		return fmt.Errorf("failed to persist rate limit state: %w", err)
	}
	return nil
}
