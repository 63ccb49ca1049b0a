package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/northbay/ragchat-gateway/internal/gateway/providers"
	"github.com/northbay/ragchat-gateway/internal/shared/database"
	"github.com/northbay/ragchat-gateway/internal/shared/models"
)

// Field limits enforced on inbound messages
const (
	MaxContentLength = 2000
	MaxContextLength = 5000
	MaxTitleLength   = 255

	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 1 << 20 // Keeps page*size far from int overflow
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// ValidationError describes a rejected request field. It matches ErrInvalidInput.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Store is the persistence the service needs. *database.DB satisfies it.
type Store interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	FindSessionByID(ctx context.Context, id int64) (*models.ChatSession, error)
	ListSessions(ctx context.Context, owner string) ([]models.ChatSession, error)
	ListFavoriteSessions(ctx context.Context) ([]models.ChatSession, error)
	UpdateSession(ctx context.Context, session *models.ChatSession) error
	DeleteSession(ctx context.Context, id int64) error
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	FindMessagesBySession(ctx context.Context, sessionID int64, page, size int) (*models.MessagePage, error)
}

// Completer produces an assistant reply for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt string) providers.Outcome
	Model() string
}

// Service owns chat sessions and the message flow
type Service struct {
	store     Store
	completer Completer
	source    string
}

// NewService creates the chat service. source names the provider recorded
// in assistant message provenance.
func NewService(store Store, completer Completer, source string) *Service {
	if source == "" {
		source = providers.ProviderName
	}
	return &Service{store: store, completer: completer, source: source}
}

// NewMessage is an inbound message
type NewMessage struct {
	Sender  string
	Content string
	Context *string
}

// AddMessage persists msg in the session. A message from the user role is
// answered by the completer; on success the stored assistant reply is
// returned, otherwise the stored inbound message is.
func (s *Service) AddMessage(ctx context.Context, sessionID int64, in NewMessage) (*models.ChatMessage, error) {
	if err := validateMessage(in); err != nil {
		return nil, err
	}
	if _, err := s.findSession(ctx, sessionID); err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		SessionID: sessionID,
		Sender:    in.Sender,
		Content:   in.Content,
		Context:   in.Context,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	if !strings.EqualFold(msg.Sender, models.RoleUser) {
		return msg, nil
	}

	outcome := s.completer.Complete(ctx, msg.Content)
	if !outcome.OK() {
		log.Printf("Completion failed for session %d message %d: %v", sessionID, msg.ID, outcome.Failure())
		return msg, nil
	}

	provenance := s.provenance()
	reply := &models.ChatMessage{
		SessionID: sessionID,
		Sender:    models.RoleAssistant,
		Content:   outcome.Text(),
		Context:   &provenance,
	}
	if err := s.store.SaveMessage(ctx, reply); err != nil {
		log.Printf("Failed to save assistant reply for session %d: %v", sessionID, err)
		return msg, nil
	}

	return reply, nil
}

func (s *Service) provenance() string {
	b, _ := json.Marshal(struct {
		Source string `json:"source"`
		Model  string `json:"model"`
	}{Source: s.source, Model: s.completer.Model()})
	return string(b)
}

// GetMessages returns one page of a session's messages.
// A negative page becomes 0 and a non-positive size becomes DefaultPageSize.
func (s *Service) GetMessages(ctx context.Context, sessionID int64, page, size int) (*models.MessagePage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		return nil, invalid("size must be between 1 and %d", MaxPageSize)
	}
	if page > MaxPage {
		return nil, invalid("page must not exceed %d", MaxPage)
	}

	if _, err := s.findSession(ctx, sessionID); err != nil {
		return nil, err
	}

	result, err := s.store.FindMessagesBySession(ctx, sessionID, page, size)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return result, nil
}

// CreateSession stores a new, non-favorite session
func (s *Service) CreateSession(ctx context.Context, title, owner string) (*models.ChatSession, error) {
	title = strings.TrimSpace(title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	session := &models.ChatSession{Title: title, Owner: strings.TrimSpace(owner)}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session by ID
func (s *Service) GetSession(ctx context.Context, id int64) (*models.ChatSession, error) {
	return s.findSession(ctx, id)
}

// ListSessions returns the owner's sessions, or all sessions for an empty owner
func (s *Service) ListSessions(ctx context.Context, owner string) ([]models.ChatSession, error) {
	sessions, err := s.store.ListSessions(ctx, strings.TrimSpace(owner))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *Service) ListFavorites(ctx context.Context) ([]models.ChatSession, error) {
	sessions, err := s.store.ListFavoriteSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return sessions, nil
}

// UpdateSession applies the non-nil fields of update
func (s *Service) UpdateSession(ctx context.Context, id int64, update models.SessionUpdate) (*models.ChatSession, error) {
	if update.Title == nil && update.Favorite == nil {
		return nil, invalid("at least one of title or favorite is required")
	}

	session, err := s.findSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		session.Title = title
	}
	if update.Favorite != nil {
		session.Favorite = *update.Favorite
	}

	if err := s.store.UpdateSession(ctx, session); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session and its messages
func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	if err := s.store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) findSession(ctx context.Context, id int64) (*models.ChatSession, error) {
	session, err := s.store.FindSessionByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

func validateMessage(in NewMessage) error {
	if strings.TrimSpace(in.Sender) == "" {
		return invalid("sender is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return invalid("content is required")
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return invalid("content must not exceed %d characters", MaxContentLength)
	}
	if in.Context != nil && utf8.RuneCountInString(*in.Context) > MaxContextLength {
		return invalid("context must not exceed %d characters", MaxContextLength)
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return invalid("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return invalid("title must not exceed %d characters", MaxTitleLength)
	}
	return nil
}
