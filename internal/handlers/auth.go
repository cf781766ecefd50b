package handlers

import (
	"net/http"
	"time"

	"warden/internal/middleware"
	"warden/internal/store"
)

type sessionRequest struct {
	User      string `json:"user" validate:"required,max=64"`
	TwoFactor *bool  `json:"two_factor,omitempty"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession issues a development session token. Account management is
// outside the simulator; any user name gets an account on first use.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "user is required", "invalid_request")
		return
	}

	_ = s.Accounts.Update(req.User, func(acct *store.Account) error {
		if req.TwoFactor != nil {
			acct.TwoFactor = *req.TwoFactor
		}
		return nil
	})

	now := s.Now()
	token, exp, err := middleware.IssueSession([]byte(s.Cfg.JWTSecret), req.User, s.Cfg.SessionTTL, now)
	if err != nil {
		s.Log.WithError(err).Error("CreateSession: sign failed")
		middleware.WriteError(w, http.StatusInternalServerError, "session unavailable", "internal")
		return
	}

	log := s.Log.WithField("user", req.User)
	if s.Cfg.TwoFactorCode == "" {
		log = log.WithField("code", s.Verifier.Codes.Current(req.User, now))
	}
	log.Debug("CreateSession: session issued")
	middleware.WriteJSON(w, http.StatusOK, sessionResponse{Token: token, ExpiresAt: exp})
}
