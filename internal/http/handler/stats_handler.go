package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/your-org/kraken-scalp-bot/internal/core"
	"github.com/your-org/kraken-scalp-bot/internal/monitor"
)

// StatsHandler serves rolling performance statistics and recommendations.
type StatsHandler struct {
	svc *core.Service
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc *core.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// ServeHTTP returns stats for the window given by the "window" query
// parameter (Go duration syntax, default 1h), plus current recommendations.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid window duration", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	payload := struct {
		Stats           monitor.Stats            `json:"stats"`
		Recommendations []monitor.Recommendation `json:"recommendations"`
	}{
		Stats:           h.svc.PerformanceSnapshot(window),
		Recommendations: h.svc.Recommendations(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode stats", http.StatusInternalServerError)
	}
}
