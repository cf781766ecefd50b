package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Hasher turns collector output into a signature. Secure selects SHA-256;
// otherwise a 32-bit rolling hash is used. Both are deterministic.
type Hasher struct {
	Secure bool
}

func (h Hasher) Sum(data []byte) string {
	if h.Secure {
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	return RollingHash(data)
}

func (h Hasher) String(s string) string {
	return h.Sum([]byte(s))
}

// RollingHash is the h*31+c string hash truncated to 32 bits, as 8 hex digits.
func RollingHash(data []byte) string {
	var h int32
	for _, b := range data {
		h = (h << 5) - h + int32(b)
	}
	return fmt.Sprintf("%08x", uint32(h))
}

// DayKey is the calendar-day salt mixed into day-scoped signatures.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
