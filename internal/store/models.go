package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Conversation is the single channel between one user and the admin.
type Conversation struct {
	ID        string
	UserID    string
	AdminID   string
	CreatedAt time.Time
}

type MessageKind string

const (
	KindText MessageKind = "TEXT"
	KindFile MessageKind = "FILE"
)

// Message is immutable once stored apart from ReadAt.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Kind           MessageKind
	Content        string
	AttachmentURL  string
	Filename       string
	MediaType      string
	ClientToken    string
	CreatedAt      time.Time
	ReadAt         *time.Time
}

// ConversationSummary is one row of the admin's conversation list.
type ConversationSummary struct {
	Conversation
	User           User
	LastMessage    *Message
	UnreadCount    int
	LastActivityAt time.Time
}

// MessageHit is a search match resolved against the message table.
type MessageHit struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Kind           MessageKind
	Snippet        string
	CreatedAt      time.Time
}
