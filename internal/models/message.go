package models

import "time"

// Message is a single text message inside a conversation. The sender is
// identified by role only; the conversation already pins the two participants.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderRole     Role      `db:"sender_role" json:"sender_role"`
	Content        string    `db:"content" json:"content"`
	Read           bool      `db:"is_read" json:"read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// SessionEvent is streamed to websocket clients whenever the session state
// they observe changes.
type SessionEvent struct {
	Type     string           `json:"type"`
	Snapshot *SessionSnapshot `json:"snapshot,omitempty"`
}

// SessionSnapshot is the published read-only view of one chat session.
type SessionSnapshot struct {
	ParticipantID string         `json:"participant_id"`
	Role          Role           `json:"role"`
	Conversations []Conversation `json:"conversations"`
	Conversation  *Conversation  `json:"conversation,omitempty"`
	Messages      []Message      `json:"messages"`
	Open          bool           `json:"open"`
	Loading       bool           `json:"loading"`
	Unassigned    bool           `json:"unassigned"`
}
