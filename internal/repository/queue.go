package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/models"
)

// Enqueue adds a response to the posting queue. Returns
// models.ErrDuplicateMention when the mention is already queued or already
// has an interaction record.
func (s *Store) Enqueue(resp *models.QueuedResponse) error {
	processed, err := s.HasProcessed(resp.MentionID)
	if err != nil {
		return err
	}
	if processed {
		return fmt.Errorf("mention %s: %w", resp.MentionID, models.ErrDuplicateMention)
	}

	_, err = s.db.Exec(`
		INSERT INTO queue (mention_id, response_text, conversation_id, priority, retry_count, queued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, resp.MentionID, resp.ResponseText, resp.ConversationID, resp.Priority, resp.RetryCount, resp.QueuedAt.UTC())

	if err != nil {
		// UNIQUE violation is the race-safe backstop for the check above.
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("mention %s: %w", resp.MentionID, models.ErrDuplicateMention)
		}
		return fmt.Errorf("failed to enqueue response: %w", err)
	}

	s.logger.Info("Response queued",
		zap.String("mention_id", resp.MentionID),
		zap.Int("priority", resp.Priority))

	return nil
}

// EnqueueWithInteraction inserts a queue row and its interaction record in
// one transaction, so a crash can never leave a queued response without the
// interaction that CompletePost later flips. Returns
// models.ErrDuplicateMention when the mention was already handled.
func (s *Store) EnqueueWithInteraction(resp *models.QueuedResponse, in *models.Interaction) error {
	processed, err := s.HasProcessed(resp.MentionID)
	if err != nil {
		return err
	}
	if processed {
		return fmt.Errorf("mention %s: %w", resp.MentionID, models.ErrDuplicateMention)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO queue (mention_id, response_text, conversation_id, priority, retry_count, queued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, resp.MentionID, resp.ResponseText, resp.ConversationID, resp.Priority, resp.RetryCount, resp.QueuedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("mention %s: %w", resp.MentionID, models.ErrDuplicateMention)
		}
		return fmt.Errorf("failed to enqueue response: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO interactions (mention_id, mention_text, ai_response, reply_posted, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, in.MentionID, in.MentionText, in.AIResponse, in.ReplyPosted, in.Timestamp.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("mention %s: %w", in.MentionID, models.ErrDuplicateMention)
		}
		return fmt.Errorf("failed to record interaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}

	in.ID, _ = result.LastInsertId()
	s.logger.Info("Response queued",
		zap.String("mention_id", resp.MentionID),
		zap.Int("priority", resp.Priority))

	return nil
}

// PeekNext returns the highest-priority pending response, earliest queued
// first on ties, or nil when the queue is empty.
func (s *Store) PeekNext() (*models.QueuedResponse, error) {
	row := s.db.QueryRow(`
		SELECT mention_id, response_text, conversation_id, priority, retry_count, queued_at
		FROM queue
		ORDER BY priority DESC, queued_at ASC
		LIMIT 1
	`)

	resp, err := scanQueued(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	return resp, nil
}

// Dequeue removes a response after a confirmed post (or a permanent failure).
func (s *Store) Dequeue(mentionID string) error {
	_, err := s.db.Exec("DELETE FROM queue WHERE mention_id = ?", mentionID)
	if err != nil {
		return fmt.Errorf("failed to dequeue response: %w", err)
	}
	return nil
}

// CompletePost atomically removes a response from the queue and flips its
// interaction's reply_posted flag. One transaction, so a crash can never
// leave a posted mention still pending (or a pending one marked posted).
func (s *Store) CompletePost(mentionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM queue WHERE mention_id = ?", mentionID); err != nil {
		return fmt.Errorf("failed to dequeue response: %w", err)
	}
	if _, err := tx.Exec("UPDATE interactions SET reply_posted = 1 WHERE mention_id = ?", mentionID); err != nil {
		return fmt.Errorf("failed to mark reply posted: %w", err)
	}

	return tx.Commit()
}

// IncrementRetry bumps the retry counter after a transient post failure and
// returns the new count.
func (s *Store) IncrementRetry(mentionID string) (int, error) {
	_, err := s.db.Exec("UPDATE queue SET retry_count = retry_count + 1 WHERE mention_id = ?", mentionID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}

	var count int
	err = s.db.QueryRow("SELECT retry_count FROM queue WHERE mention_id = ?", mentionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return count, nil
}

// ListQueue returns all pending responses in posting order.
func (s *Store) ListQueue() ([]*models.QueuedResponse, error) {
	rows, err := s.db.Query(`
		SELECT mention_id, response_text, conversation_id, priority, retry_count, queued_at
		FROM queue
		ORDER BY priority DESC, queued_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty queue serializes as [] rather than null.
	responses := []*models.QueuedResponse{}
	for rows.Next() {
		resp, err := scanQueued(rows)
		if err != nil {
			s.logger.Error("Failed to scan queued response", zap.Error(err))
			continue
		}
		responses = append(responses, resp)
	}

	return responses, nil
}

// QueueStats reports pending queue depth alongside the posted count from the
// interaction log.
func (s *Store) QueueStats() (models.QueueStats, error) {
	var stats models.QueueStats

	if err := s.db.QueryRow("SELECT COUNT(*) FROM queue").Scan(&stats.Pending); err != nil {
		return stats, fmt.Errorf("failed to count pending: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM interactions WHERE reply_posted = 1").Scan(&stats.Posted); err != nil {
		return stats, fmt.Errorf("failed to count posted: %w", err)
	}
	stats.Total = stats.Pending + stats.Posted

	return stats, nil
}

// ClearQueue discards all pending responses. Operator action.
func (s *Store) ClearQueue() (int, error) {
	result, err := s.db.Exec("DELETE FROM queue")
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}

	cleared, _ := result.RowsAffected()
	s.logger.Warn("Posting queue cleared", zap.Int64("removed", cleared))
	return int(cleared), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueued(row rowScanner) (*models.QueuedResponse, error) {
	resp := &models.QueuedResponse{}
	var queuedAt time.Time
	err := row.Scan(
		&resp.MentionID,
		&resp.ResponseText,
		&resp.ConversationID,
		&resp.Priority,
		&resp.RetryCount,
		&queuedAt,
	)
	if err != nil {
		return nil, err
	}
	resp.QueuedAt = queuedAt
	return resp, nil
}
