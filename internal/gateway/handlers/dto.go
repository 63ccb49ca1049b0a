package handlers

import (
	"time"

	"github.com/northbay/ragchat-gateway/internal/shared/models"
)

// SessionRequest is the body of session create and update calls
type SessionRequest struct {
	Title    *string `json:"title"`
	Owner    string  `json:"owner"`
	Favorite *bool   `json:"favorite"`
}

// MessageRequest is the body of the add-message call
type MessageRequest struct {
	Sender  string  `json:"sender"`
	Content string  `json:"content"`
	Context *string `json:"context,omitempty"`
}

type SessionResponse struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Owner     string  `json:"owner"`
	Favorite  bool    `json:"favorite"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt *string `json:"updatedAt"`
}

type MessageResponse struct {
	ID        int64   `json:"id"`
	SessionID int64   `json:"sessionId"`
	Sender    string  `json:"sender"`
	Content   string  `json:"content"`
	Context   *string `json:"context"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt *string `json:"updatedAt"`
}

// PageResponse wraps one page of messages
type PageResponse struct {
	Content       []MessageResponse `json:"content"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int64             `json:"totalElements"`
	TotalPages    int               `json:"totalPages"`
	First         bool              `json:"first"`
	Last          bool              `json:"last"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toSessionResponse(s *models.ChatSession) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Title:     s.Title,
		Owner:     s.Owner,
		Favorite:  s.Favorite,
		CreatedAt: formatTime(s.CreatedAt),
		UpdatedAt: formatOptionalTime(s.UpdatedAt),
	}
}

func toSessionResponses(sessions []models.ChatSession) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	return out
}

func toMessageResponse(m *models.ChatMessage) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		SessionID: m.SessionID,
		Sender:    m.Sender,
		Content:   m.Content,
		Context:   m.Context,
		CreatedAt: formatTime(m.CreatedAt),
		UpdatedAt: formatOptionalTime(m.UpdatedAt),
	}
}

func toPageResponse(p *models.MessagePage) PageResponse {
	content := make([]MessageResponse, 0, len(p.Messages))
	for i := range p.Messages {
		content = append(content, toMessageResponse(&p.Messages[i]))
	}
	return PageResponse{
		Content:       content,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages(),
		First:         p.First(),
		Last:          p.Last(),
	}
}
