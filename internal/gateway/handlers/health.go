package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/northbay/ragchat-gateway/internal/gateway/apierror"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health
type HealthHandler struct {
	db    Pinger
	redis Pinger // Optional; only reported, never fails the check
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// WithRedis adds the statistics Redis to the health report
func (h *HealthHandler) WithRedis(redis Pinger) *HealthHandler {
	h.redis = redis
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "UP", "database": "UP"}
	if err := h.db.Ping(ctx); err != nil {
		log.Printf("Health check: database unreachable: %v", err)
		status = http.StatusServiceUnavailable
		body["status"] = "DOWN"
		body["database"] = "DOWN"
	}
	if h.redis != nil {
		body["redis"] = "UP"
		if err := h.redis.Ping(ctx); err != nil {
			log.Printf("Health check: redis unreachable: %v", err)
			body["redis"] = "DOWN"
		}
	}
	writeJSON(w, status, body)
}

// StatsSource exposes recorded gatekeeper outcomes
type StatsSource interface {
	AdmissionTotals(ctx context.Context) (map[string]int64, error)
}

// StatsHandler serves GET /gatekeeper/stats. A nil source means statistics are disabled.
type StatsHandler struct {
	source StatsSource
}

func NewStatsHandler(source StatsSource) *StatsHandler {
	return &StatsHandler{source: source}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false, "totals": map[string]int64{}})
		return
	}

	totals, err := h.source.AdmissionTotals(r.Context())
	if err != nil {
		log.Printf("Failed to read admission stats: %v", err)
		apierror.Write(w, r, http.StatusInternalServerError, apierror.CodeInternal, apierror.GenericMessage)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": true, "totals": totals})
}
