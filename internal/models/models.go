package models

import "time"

// Mention represents a single inbound tweet directed at the bot. Mentions are
// immutable once fetched; downstream stages reference them by ID.
type Mention struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueuedResponse is a generated answer waiting for a posting slot. At most
// one queued response exists per mention ID.
type QueuedResponse struct {
	MentionID      string    `json:"mention_id"`
	ResponseText   string    `json:"response_text"`
	ConversationID string    `json:"conversation_id"`
	Priority       int       `json:"priority"`
	RetryCount     int       `json:"retry_count"`
	QueuedAt       time.Time `json:"queued_at"`
}

// Interaction is the terminal record of a processed mention. Append-only;
// only ReplyPosted ever changes after creation.
type Interaction struct {
	ID          int64     `json:"id"`
	MentionID   string    `json:"mention_id"`
	MentionText string    `json:"mention_text"`
	AIResponse  string    `json:"ai_response"`
	ReplyPosted bool      `json:"reply_posted"`
	Timestamp   time.Time `json:"timestamp"`
}

// QueueStats summarizes the posting queue for the status API.
type QueueStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Posted  int `json:"posted"`
}

// BotStatus is the snapshot returned by the status endpoint.
type BotStatus struct {
	IsRunning           bool       `json:"is_running"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	UptimeSeconds       float64    `json:"uptime_seconds"`
	ErrorCount          int        `json:"error_count"`
	LastError           string     `json:"last_error,omitempty"`
	QueueStats          QueueStats `json:"queue_stats"`
	PostsRemainingToday int        `json:"posts_remaining_today"`
	LastSearchTime      *time.Time `json:"last_search_time,omitempty"`
	NextSearchTime      *time.Time `json:"next_search_time,omitempty"`
}
