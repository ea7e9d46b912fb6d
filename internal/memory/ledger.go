package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docbot/internal/domain"
)

// Ledger is an in-process history and feedback ledger, used when no
// database is configured.
type Ledger struct {
	mu       sync.RWMutex
	nextID   int64
	messages []domain.ConversationMessage
	votes    []domain.MessageFeedback
	ratings  []domain.SessionFeedback
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Append(_ context.Context, sessionID string, role domain.Role, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.messages = append(l.messages, domain.ConversationMessage{
		ID:        l.nextID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Read returns the last limit messages of a session, oldest first. A
// non-positive limit returns all of them.
func (l *Ledger) Read(_ context.Context, sessionID string, limit int) ([]domain.ConversationMessage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []domain.ConversationMessage{}
	for _, m := range l.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (l *Ledger) RecordMessageFeedback(_ context.Context, messageID int64, vote domain.Vote) error {
	if !vote.Valid() {
		return fmt.Errorf("invalid feedback %q: want up or down", vote)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	found := false
	for _, m := range l.messages {
		if m.ID == messageID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("message %d: %w", messageID, domain.ErrMessageNotFound)
	}
	l.votes = append(l.votes, domain.MessageFeedback{
		ID:        int64(len(l.votes) + 1),
		MessageID: messageID,
		Vote:      vote,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (l *Ledger) RecordSessionFeedback(_ context.Context, sessionID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("invalid rating %d: want 1..5", rating)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ratings = append(l.ratings, domain.SessionFeedback{
		ID:        int64(len(l.ratings) + 1),
		SessionID: sessionID,
		Rating:    rating,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Votes returns a copy of the recorded message feedback.
func (l *Ledger) Votes() []domain.MessageFeedback {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.MessageFeedback(nil), l.votes...)
}

// Ratings returns a copy of the recorded session ratings.
func (l *Ledger) Ratings() []domain.SessionFeedback {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.SessionFeedback(nil), l.ratings...)
}
