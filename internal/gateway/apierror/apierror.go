package apierror

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error codes carried in the errorCode field
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeInternal        = "INTERNAL_ERROR"
)

// GenericMessage is returned for failures whose details stay in the server log
const GenericMessage = "An unexpected error occurred. Please contact support."

// Response is the JSON error envelope shared by every endpoint and the gatekeeper
type Response struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

// Write sends the error envelope with the given status
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Error:     http.StatusText(status),
		ErrorCode: code,
		Message:   message,
		Path:      r.URL.Path,
	})
}
