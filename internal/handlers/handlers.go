// Package handlers implements the mining API contract for the simulator.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"warden/internal/challenge"
	"warden/internal/config"
	"warden/internal/middleware"
	"warden/internal/ratelimit"
	"warden/internal/store"
)

type Server struct {
	Cfg      *config.ServerConfig
	Accounts *store.Accounts
	Ledger   store.Ledger
	Attempts *ratelimit.Attempts
	Verifier *challenge.Verifier
	Geo      *middleware.Geo
	MW       *middleware.Middleware
	Log      logrus.FieldLogger
	Now      func() time.Time

	validate *validator.Validate
	started  time.Time
}

// NewServer wires the simulator around cfg and ledger.
func NewServer(cfg *config.ServerConfig, ledger store.Ledger, geo *middleware.Geo, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		Cfg:      cfg,
		Accounts: store.NewAccounts(cfg.SessionHours),
		Ledger:   ledger,
		Attempts: &ratelimit.Attempts{Counter: ledger, Max: cfg.MaxCodeAttempts, Window: cfg.CodeLockout},
		Geo:      geo,
		MW:       middleware.New(cfg, log),
		Log:      log,
		Now:      time.Now,
		validate: validator.New(),
		started:  time.Now(),
	}
	s.Verifier = &challenge.Verifier{
		CodeKey: []byte(cfg.CodeKey),
		Secret:  []byte(cfg.JWTSecret),
		Codes:   challenge.Codes{Secret: []byte(cfg.JWTSecret), Fixed: cfg.TwoFactorCode},
		Nonces:  ledger,
		Now:     func() time.Time { return s.Now() },
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MW.RequestLog, s.MW.RateLimiter)

	r.Get("/health", s.Health)
	r.Post("/auth/session", s.CreateSession)

	r.Route("/mining", func(r chi.Router) {
		r.Use(s.MW.Session)
		r.Post("/check", s.Check)
		r.Get("/check-2fa-required", s.TwoFactorRequired)
		r.Post("/verify-2fa", s.VerifyTwoFactor)
		r.Post("/apply-reward", s.ApplyReward)
		r.Post("/stop", s.Stop)
		r.Get("/status", s.Status)
		r.Get("/fingerprint/devices", s.ListDevices)
		r.Delete("/fingerprint/devices/{hash}", s.RemoveDevice)
	})
	return r
}

// window is the length of one mining session.
func (s *Server) window(acct store.Account) time.Duration {
	return time.Duration(acct.SessionHours * float64(time.Hour))
}

// cooldownLeft is how long until acct may mine again.
func (s *Server) cooldownLeft(acct store.Account, now time.Time) time.Duration {
	if acct.LastMinedAt.IsZero() {
		return 0
	}
	if d := acct.LastMinedAt.Add(s.window(acct)).Sub(now); d > 0 {
		return d
	}
	return 0
}
