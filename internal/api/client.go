package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"warden/internal/config"
	"warden/internal/types"
)

// Error codes the server attaches to session failures.
var sessionErrorCodes = map[string]bool{
	"session_expired": true,
	"invalid_session": true,
	"csrf_invalid":    true,
}

// Refresher obtains a new session token after the current one was rejected.
type Refresher func(ctx context.Context) (string, error)

// Client speaks the mining API contract.
type Client struct {
	http    *resty.Client
	codeKey []byte
	log     logrus.FieldLogger
	now     func() time.Time

	mu        sync.Mutex
	token     string
	refresher Refresher
}

func NewClient(cfg config.APIConfig, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("User-Agent", cfg.UserAgent).
			SetHeader("Accept", "application/json"),
		codeKey: []byte(cfg.CodeKey),
		log:     log,
		now:     time.Now,
		token:   cfg.SessionToken,
	}
}

func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) SetRefresher(r Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
}

// SetClock replaces the wall clock used for expiry checks and timestamps.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

type request struct {
	method  string
	path    string
	headers http.Header
	body    any
}

// send performs r and returns the response whatever its status. Only
// transport failures and session problems become errors here.
func (c *Client) send(ctx context.Context, r request) (*resty.Response, error) {
	token := c.SessionToken()
	if sessionLapsed(token, c.now()) {
		return nil, c.expire(ctx, "token lapsed before "+r.path)
	}

	req := c.http.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	if r.headers != nil {
		req.SetHeaderMultiValues(r.headers)
	}
	if r.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(r.body)
	}

	resp, err := req.Execute(r.method, r.path)
	if err != nil {
		c.log.WithFields(logrus.Fields{"path": r.path, "method": r.method}).WithError(err).Warn("Client: request failed")
		return nil, &StatusError{Err: err}
	}

	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		if code := errorBody(resp).ErrorCode; sessionErrorCodes[code] {
			return nil, c.expire(ctx, r.path+": "+code)
		}
	}
	return resp, nil
}

// expire refreshes the session token once and always aborts the operation.
func (c *Client) expire(ctx context.Context, reason string) error {
	c.mu.Lock()
	refresh := c.refresher
	c.mu.Unlock()

	log := c.log.WithField("reason", reason)
	if refresh == nil {
		log.Warn("Client: session expired")
		return ErrSessionExpired
	}
	token, err := refresh(ctx)
	if err != nil {
		log.WithError(err).Warn("Client: session refresh failed")
		return errors.Join(ErrSessionExpired, err)
	}
	c.SetSessionToken(token)
	log.Info("Client: session refreshed, operation aborted")
	return ErrSessionExpired
}

// sessionLapsed inspects the exp claim without verifying the signature. The
// server remains the judge; this only avoids a round trip doomed to fail.
func sessionLapsed(token string, now time.Time) bool {
	if token == "" || strings.Count(token, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

func errorBody(resp *resty.Response) types.ErrorResponse {
	var body types.ErrorResponse
	_ = json.Unmarshal(resp.Body(), &body)
	return body
}

// decode unmarshals a 2xx body into out, or maps the failure generically.
func (c *Client) decode(ctx context.Context, resp *resty.Response, out any) error {
	if !resp.IsSuccess() {
		return c.unexpected(ctx, resp)
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &StatusError{Code: resp.StatusCode(), Message: "malformed response", Err: err}
	}
	return nil
}

func (c *Client) unexpected(ctx context.Context, resp *resty.Response) error {
	body := errorBody(resp)
	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return c.expire(ctx, "unauthorized")
	case http.StatusTooManyRequests:
		return c.rateLimited(resp)
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &StatusError{Code: resp.StatusCode(), Message: msg}
}

func (c *Client) rateLimited(resp *resty.Response) *RateLimitError {
	var body types.VerifyResponse
	_ = json.Unmarshal(resp.Body(), &body)

	now := c.now()
	e := &RateLimitError{Remaining: time.Duration(body.RemainingTime) * time.Second}
	if body.BlockedUntil > 0 {
		e.BlockedUntil = time.UnixMilli(body.BlockedUntil)
	}
	switch {
	case e.Remaining == 0 && !e.BlockedUntil.IsZero():
		e.Remaining = e.BlockedUntil.Sub(now)
	case e.BlockedUntil.IsZero():
		e.BlockedUntil = now.Add(e.Remaining)
	}
	if e.Remaining < 0 {
		e.Remaining = 0
	}
	return e
}
