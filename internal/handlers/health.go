package handlers

import (
	"context"
	"net/http"
	"time"

	"warden/internal/middleware"
)

type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Ledger string `json:"ledger,omitempty"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health returns service health, uptime and, when the ledger is remote, its
// reachability.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	status := http.StatusOK
	if p, ok := s.Ledger.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Ledger = "ok"
		if err := p.Ping(ctx); err != nil {
			s.Log.WithError(err).Warn("Health: ledger unreachable")
			resp.Status = "degraded"
			resp.Ledger = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	middleware.WriteJSON(w, status, resp)
}
