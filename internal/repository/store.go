// Package repository is the durable source of truth for the bot: the posting
// queue, the interaction log, rate-limit counters and the mention cursor all
// live in a single SQLite file so already-generated answers survive restarts.
package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database shared by the queue, the interaction log
// and the engine's persisted state.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (creating if needed) the database at dbPath.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; avoids SQLITE_BUSY under concurrent control-surface reads.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Store initialized", zap.String("db_path", dbPath))

	return s, nil
}

// migrate creates tables
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mention_id TEXT UNIQUE NOT NULL,
		response_text TEXT NOT NULL,
		conversation_id TEXT,
		priority INTEGER DEFAULT 0,
		retry_count INTEGER DEFAULT 0,
		queued_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_order ON queue(priority DESC, queued_at ASC);

	CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mention_id TEXT UNIQUE NOT NULL,
		mention_text TEXT NOT NULL,
		ai_response TEXT,
		reply_posted BOOLEAN DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);

	CREATE TABLE IF NOT EXISTS rate_limits (
		kind TEXT PRIMARY KEY,
		window_start DATETIME NOT NULL,
		count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS engine_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetState reads a persisted engine state value ("" when unset).
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM engine_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read engine state: %w", err)
	}
	return value, nil
}

// SetState upserts a persisted engine state value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO engine_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write engine state: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
