// Package challenge checks second-factor submissions and issues the
// verification tokens that back reward claims.
package challenge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"warden/internal/types"
	"warden/internal/verification"
)

const (
	// Window bounds the age of a submitted timestamp and the life of a token.
	Window = verification.Window
	// Skew tolerates client clocks running slightly fast.
	Skew = time.Minute
)

var (
	ErrStaleTimestamp = errors.New("timestamp outside verification window")
	ErrDigestMismatch = errors.New("code digest mismatch")
	ErrWrongCode      = errors.New("invalid verification code")
	ErrReplay         = errors.New("already used")
	ErrBadSignature   = errors.New("verification signature mismatch")
	ErrWrongSubject   = errors.New("verification token issued to another account")
)

// Nonces claims single-use keys.
type Nonces interface {
	UseOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Claims bind a verification token to one account and one device.
type Claims struct {
	Device string `json:"dev"`
	jwt.RegisteredClaims
}

type Verifier struct {
	// CodeKey checks the client's code digest. Empty disables the check.
	CodeKey []byte
	Secret  []byte
	Codes   Codes
	Nonces  Nonces
	Now     func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

// Check validates a verify-2fa submission for user. The challenge nonce is
// consumed even when the code turns out wrong.
func (v *Verifier) Check(ctx context.Context, user string, req types.VerifyRequest) error {
	now := v.now()
	ts := time.UnixMilli(req.Timestamp)
	if now.Sub(ts) > Window || ts.After(now.Add(Skew)) {
		return fmt.Errorf("%w: %s", ErrStaleTimestamp, ts.UTC().Format(time.RFC3339))
	}
	if len(v.CodeKey) > 0 && !verification.CheckDigest(v.CodeKey, req.Code, req.Timestamp, req.CodeHash) {
		return ErrDigestMismatch
	}
	fresh, err := v.Nonces.UseOnce(ctx, "challenge:"+req.Challenge, Window+Skew)
	if err != nil {
		return err
	}
	if !fresh {
		return fmt.Errorf("challenge %w", ErrReplay)
	}
	if !v.Codes.Valid(user, req.Code, now) {
		return ErrWrongCode
	}
	return nil
}

// Issue mints a verification token for user on device and its detached
// signature.
func (v *Verifier) Issue(user, device string) (token, signature string, err error) {
	now := v.now()
	claims := Claims{
		Device: device,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Window)),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
	if err != nil {
		return "", "", err
	}
	return token, v.sign(token), nil
}

func (v *Verifier) sign(token string) string {
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write([]byte("verification|"))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Redeem accepts a token exactly once, inside its window, for its own account.
func (v *Verifier) Redeem(ctx context.Context, user string, proof types.VerificationProof) (*Claims, error) {
	want, _ := hex.DecodeString(v.sign(proof.Token))
	got, err := hex.DecodeString(proof.Signature)
	if err != nil || !hmac.Equal(want, got) {
		return nil, ErrBadSignature
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(proof.Token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.Secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, err
	}
	if claims.Subject != user {
		return nil, ErrWrongSubject
	}

	fresh, err := v.Nonces.UseOnce(ctx, "token:"+claims.ID, Window)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, fmt.Errorf("verification token %w", ErrReplay)
	}
	return claims, nil
}
