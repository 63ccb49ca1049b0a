package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/northbay/ragchat-gateway/internal/chat"
	"github.com/northbay/ragchat-gateway/internal/gateway/apierror"
	"github.com/northbay/ragchat-gateway/internal/gateway/gatekeeper"
	"github.com/northbay/ragchat-gateway/internal/shared/models"
)

// ChatHandler serves the session and message endpoints
type ChatHandler struct {
	service *chat.Service
}

func NewChatHandler(service *chat.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

// Routes mounts the handler under /sessions
func (h *ChatHandler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.HandleCreateSession)
		r.Get("/", h.HandleListSessions)
		r.Get("/favorites", h.HandleListFavorites)
		r.Patch("/{id}", h.HandleUpdateSession)
		r.Delete("/{id}", h.HandleDeleteSession)

		r.Post("/{id}/messages", h.HandleAddMessage)
		r.Get("/{id}/messages", h.HandleGetMessages)
	})
}

// HandleCreateSession handles POST /sessions
func (h *ChatHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	title := ""
	if req.Title != nil {
		title = *req.Title
	}

	session, err := h.service.CreateSession(r.Context(), title, req.Owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// HandleListSessions handles GET /sessions?owner=
func (h *ChatHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponses(sessions))
}

// HandleListFavorites handles GET /sessions/favorites
func (h *ChatHandler) HandleListFavorites(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListFavorites(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponses(sessions))
}

// HandleUpdateSession handles PATCH /sessions/{id}
func (h *ChatHandler) HandleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.service.UpdateSession(r.Context(), id, models.SessionUpdate{Title: req.Title, Favorite: req.Favorite})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// HandleDeleteSession handles DELETE /sessions/{id}
func (h *ChatHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteSession(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAddMessage handles POST /sessions/{id}/messages.
// Responds with the assistant reply, or with the stored message when no reply was produced.
func (h *ChatHandler) HandleAddMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.service.AddMessage(r.Context(), id, chat.NewMessage{
		Sender:  req.Sender,
		Content: req.Content,
		Context: req.Context,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// HandleGetMessages handles GET /sessions/{id}/messages?page=&size=
func (h *ChatHandler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page", 0)
	if err != nil || page < 0 || page > chat.MaxPage {
		apierror.Write(w, r, http.StatusBadRequest, apierror.CodeInvalidInput, fmt.Sprintf("page must be between 0 and %d", chat.MaxPage))
		return
	}
	size, err := queryInt(r, "size", chat.DefaultPageSize)
	if err != nil || size < 1 || size > chat.MaxPageSize {
		apierror.Write(w, r, http.StatusBadRequest, apierror.CodeInvalidInput, "size must be between 1 and 100")
		return
	}

	result, err := h.service.GetMessages(r.Context(), id, page, size)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result))
}

func sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apierror.Write(w, r, http.StatusBadRequest, apierror.CodeInvalidInput, "session id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierror.Write(w, r, http.StatusBadRequest, apierror.CodeInvalidInput, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		apierror.Write(w, r, http.StatusBadRequest, apierror.CodeInvalidInput, verr.Message)
	case errors.Is(err, chat.ErrSessionNotFound):
		apierror.Write(w, r, http.StatusNotFound, apierror.CodeSessionNotFound, "Chat session not found")
	default:
		log.Printf("[%s] %s %s failed: %v", gatekeeper.RequestIDFromContext(r.Context()), r.Method, r.URL.Path, err)
		apierror.Write(w, r, http.StatusInternalServerError, apierror.CodeInternal, apierror.GenericMessage)
	}
}
