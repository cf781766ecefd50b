package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionExpired aborts an operation whose session token was rejected or
// had already lapsed. The caller should prompt for a retry; the request is
// never replayed with the stale token.
var ErrSessionExpired = errors.New("session expired")

// ErrTwoFactorNotSetup means the account must enrol a second factor first.
var ErrTwoFactorNotSetup = errors.New("two-factor authentication not set up")

// ErrMalformedCode rejects a code that is not six digits before it is sent.
var ErrMalformedCode = errors.New("verification code must be six digits")

// RateLimitError carries the server's block window for the 2FA channel.
type RateLimitError struct {
	BlockedUntil time.Time
	Remaining    time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.Remaining.Round(time.Second))
}

// InvalidCodeError reports a wrong second-factor code.
type InvalidCodeError struct {
	RemainingAttempts int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.RemainingAttempts)
}

// StatusError covers transport failures and responses the client cannot
// classify. Code is zero when no response arrived.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }
