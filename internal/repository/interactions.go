package repository

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/models"
)

// RecordInteraction appends a terminal record for a processed mention.
func (s *Store) RecordInteraction(in *models.Interaction) error {
	result, err := s.db.Exec(`
		INSERT INTO interactions (mention_id, mention_text, ai_response, reply_posted, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, in.MentionID, in.MentionText, in.AIResponse, in.ReplyPosted, in.Timestamp.UTC())

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("mention %s: %w", in.MentionID, models.ErrDuplicateMention)
		}
		return fmt.Errorf("failed to record interaction: %w", err)
	}

	in.ID, _ = result.LastInsertId()
	return nil
}

// MarkReplyPosted flips the reply_posted flag after a confirmed post. The
// only mutation interactions ever receive.
func (s *Store) MarkReplyPosted(mentionID string) error {
	_, err := s.db.Exec("UPDATE interactions SET reply_posted = 1 WHERE mention_id = ?", mentionID)
	if err != nil {
		return fmt.Errorf("failed to mark reply posted: %w", err)
	}
	return nil
}

// HasProcessed reports whether a mention already has an interaction record
// or a pending queued response. Checked before any answer generation so each
// mention is handled at most once, across restarts included.
func (s *Store) HasProcessed(mentionID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM interactions WHERE mention_id = ?) +
			(SELECT COUNT(*) FROM queue WHERE mention_id = ?)
	`, mentionID, mentionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check processed mention: %w", err)
	}
	return n > 0, nil
}

// RecentInteractions returns the latest N interactions, newest first.
func (s *Store) RecentInteractions(limit int) ([]*models.Interaction, error) {
	rows, err := s.db.Query(`
		SELECT id, mention_id, mention_text, ai_response, reply_posted, created_at
		FROM interactions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty history serializes as [] rather than null.
	interactions := []*models.Interaction{}
	for rows.Next() {
		in := &models.Interaction{}
		err := rows.Scan(
			&in.ID,
			&in.MentionID,
			&in.MentionText,
			&in.AIResponse,
			&in.ReplyPosted,
			&in.Timestamp,
		)
		if err != nil {
			s.logger.Error("Failed to scan interaction", zap.Error(err))
			continue
		}
		interactions = append(interactions, in)
	}

	return interactions, nil
}

// ClearInteractions wipes the interaction log. Operator action.
func (s *Store) ClearInteractions() (int, error) {
	result, err := s.db.Exec("DELETE FROM interactions")
	if err != nil {
		return 0, fmt.Errorf("failed to clear interactions: %w", err)
	}

	cleared, _ := result.RowsAffected()
	s.logger.Warn("Interaction log cleared", zap.Int64("removed", cleared))
	return int(cleared), nil
}
