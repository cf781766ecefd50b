package verification

import (
	"errors"
	"strings"
	"time"

	"warden/internal/types"
)

// Window is how long a verification token may back a reward claim.
const Window = 300_000 * time.Millisecond

// SuccessPhrase must appear in the message of a genuine verify-2fa success.
const SuccessPhrase = "2FA verification successful"

var (
	ErrTokenMissing     = errors.New("verification token missing")
	ErrSignatureMissing = errors.New("verification signature missing")
	ErrTokenExpired     = errors.New("verification token expired")
	ErrForgedResponse   = errors.New("verification response failed integrity check")
)

// Token is the short-lived capability that binds a completed second factor to
// exactly one reward claim.
type Token struct {
	Value     string
	Signature string
	IssuedAt  time.Time
}

// Validate reports why the token cannot back a claim at now, or nil.
func (t Token) Validate(now time.Time) error {
	return t.ValidateWithin(now, Window)
}

func (t Token) ValidateWithin(now time.Time, window time.Duration) error {
	if t.Value == "" {
		return ErrTokenMissing
	}
	if t.Signature == "" {
		return ErrSignatureMissing
	}
	if now.Sub(t.IssuedAt) >= window {
		return ErrTokenExpired
	}
	return nil
}

// Proof renders the token as the verification block of an apply-reward request.
func (t Token) Proof() types.VerificationProof {
	return types.VerificationProof{
		Token:     t.Value,
		Signature: t.Signature,
		Timestamp: t.IssuedAt.UnixMilli(),
	}
}

// CheckVerifyResponse turns an HTTP 200 verify-2fa body into a token. A body
// lacking any mark of a genuine success is treated as forged.
func CheckVerifyResponse(resp *types.VerifyResponse, issuedAt time.Time) (Token, error) {
	if resp == nil ||
		!strings.Contains(resp.Message, SuccessPhrase) ||
		!resp.IsValid ||
		resp.VerificationToken == "" ||
		resp.Signature == "" {
		return Token{}, ErrForgedResponse
	}
	return Token{Value: resp.VerificationToken, Signature: resp.Signature, IssuedAt: issuedAt}, nil
}
