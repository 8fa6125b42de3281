package core

import "time"

// Message is one entry in a session's thread. AuthorID names the authoring
// SessionAgent; nil means the human participant. ParentID, when set, must
// reference a message in the same session; parent links form a forest with
// no cycles. Seq is the strictly increasing per-session order assigned by
// the thread manager.
//
// RecipientID and Private support direct agent-to-agent messages: a private
// message is delivered only to clients interested in the recipient, a public
// one is broadcast to the whole session.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Content     string    `json:"content"`
	AuthorID    *string   `json:"author_id,omitempty"`
	ParentID    *string   `json:"parent_id,omitempty"`
	RecipientID *string   `json:"recipient_id,omitempty"`
	Private     bool      `json:"private,omitempty"`
	Seq         uint64    `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh id and creation time. The
// caller threads, addresses, and sequences it before persisting.
func NewMessage(sessionID, content string) Message {
	return Message{
		ID:        NewID(),
		SessionID: sessionID,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// IsHuman reports whether the message was authored by the human participant.
func (m Message) IsHuman() bool { return m.AuthorID == nil }

// IsRoot reports whether the message starts a thread.
func (m Message) IsRoot() bool { return m.ParentID == nil }
