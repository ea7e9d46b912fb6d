package domain

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one append-only history entry.
type ConversationMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryLedger records per-session messages in creation order.
type HistoryLedger interface {
	Append(ctx context.Context, sessionID string, role Role, content string) error
	Read(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error)
}

type Vote string

const (
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

func (v Vote) Valid() bool { return v == VoteUp || v == VoteDown }

type MessageFeedback struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	Vote      Vote      `json:"feedback"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionFeedback struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackLedger records votes on assistant messages and session ratings.
// RecordMessageFeedback fails with ErrMessageNotFound for unknown ids.
type FeedbackLedger interface {
	RecordMessageFeedback(ctx context.Context, messageID int64, vote Vote) error
	RecordSessionFeedback(ctx context.Context, sessionID string, rating int) error
}
