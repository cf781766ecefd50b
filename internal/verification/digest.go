package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// CodeDigest binds a second-factor code to the moment it was submitted. The
// server stays authoritative; the digest only makes a forged request costlier.
func CodeDigest(key []byte, code string, timestamp int64) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(code))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))

	return hex.EncodeToString(mac.Sum(nil))
}

// CheckDigest reports whether digest matches code and timestamp under key.
func CheckDigest(key []byte, code string, timestamp int64, digest string) bool {
	want, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(CodeDigest(key, code, timestamp))
	return hmac.Equal(got, want)
}

// NewChallenge returns a fresh single-use nonce to accompany a verification attempt.
func NewChallenge() string {
	return uuid.NewString()
}
