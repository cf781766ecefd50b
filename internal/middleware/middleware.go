package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"warden/internal/config"
	"warden/internal/types"
)

type contextKey string

const (
	userContextKey    contextKey = "user"
	requestContextKey contextKey = "request_id"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Middleware struct {
	Cfg *config.ServerConfig
	Log logrus.FieldLogger

	mu       sync.Mutex
	visitors map[string]*visitor
}

func New(cfg *config.ServerConfig, log logrus.FieldLogger) *Middleware {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Middleware{Cfg: cfg, Log: log, visitors: make(map[string]*visitor)}
}

// RequestLog tags each request with an ID and logs it.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		m.Log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"ip":         ClientIP(r),
		}).Debug("RequestLog: request")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestContextKey, id)))
	})
}

// RateLimiter applies a token bucket per client IP.
func (m *Middleware) RateLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !m.limiter(ip).Allow() {
			m.Log.WithField("ip", ip).Warn("RateLimiter: rate limit exceeded")
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) limiter(ip string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(m.Cfg.RateLimitRPS), m.Cfg.RateLimitBurst)}
		m.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// PruneVisitors forgets limiters idle for longer than idle.
func (m *Middleware) PruneVisitors(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ip, v := range m.visitors {
		if time.Since(v.lastSeen) > idle {
			delete(m.visitors, ip)
			n++
		}
	}
	return n
}

// Session requires a valid bearer session token and stores its subject.
func (m *Middleware) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			WriteError(w, http.StatusUnauthorized, "missing session", "session_expired")
			return
		}
		user, err := ParseSession([]byte(m.Cfg.JWTSecret), auth[7:])
		if err != nil {
			m.Log.WithField("ip", ClientIP(r)).WithError(err).Info("Session: rejected session token")
			WriteError(w, http.StatusUnauthorized, "session expired", "session_expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// User returns the account the request was authenticated as.
func User(ctx context.Context) string {
	u, _ := ctx.Value(userContextKey).(string)
	return u
}

// WithUser is used by tests that call handlers without the Session middleware.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// IssueSession signs a session token for user.
func IssueSession(secret []byte, user string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	})
	s, err := token.SignedString(secret)
	return s, exp, err
}

func ParseSession(secret []byte, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid session token")
	}
	return claims.Subject, nil
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg, code string) {
	WriteJSON(w, status, types.ErrorResponse{Error: msg, ErrorCode: code})
}
