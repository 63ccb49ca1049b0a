package models

import "time"

// Sender roles recognised by the message flow.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession groups the messages of one conversation
type ChatSession struct {
	ID        int64
	Title     string
	Owner     string
	Favorite  bool
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// ChatMessage is a single persisted message within a session
type ChatMessage struct {
	ID        int64
	SessionID int64
	Sender    string
	Content   string
	Context   *string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// MessagePage is one page of a session's messages, ordered oldest first
type MessagePage struct {
	Messages      []ChatMessage
	Page          int
	Size          int
	TotalElements int64
}

// TotalPages returns the number of pages for the page size
func (p *MessagePage) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.TotalElements + int64(p.Size) - 1) / int64(p.Size))
}

// First reports whether this is the first page
func (p *MessagePage) First() bool {
	return p.Page == 0
}

// Last reports whether no page follows this one
func (p *MessagePage) Last() bool {
	return p.Page >= p.TotalPages()-1
}

// SessionUpdate holds the optional fields of a session update
type SessionUpdate struct {
	Title    *string
	Favorite *bool
}
