package challenge

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"
)

// CodeStep is how long one generated second-factor code stays current.
const CodeStep = 30 * time.Second

// Codes decides which six-digit codes the simulator accepts for a user.
// A non-empty Fixed code is accepted for everyone, which keeps local
// development and scripted tests simple.
type Codes struct {
	Secret []byte
	Fixed  string
}

// Current returns the time-based code of user for the step containing t.
func (c Codes) Current(user string, t time.Time) string {
	return c.at(user, t.Unix()/int64(CodeStep/time.Second))
}

func (c Codes) at(user string, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha256.New, c.Secret)
	mac.Write([]byte(user))
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	off := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", bin%1_000_000)
}

// Valid accepts the fixed code, the current code or the previous one.
func (c Codes) Valid(user, code string, t time.Time) bool {
	if c.Fixed != "" && equal(code, c.Fixed) {
		return true
	}
	counter := t.Unix() / int64(CodeStep/time.Second)
	return equal(code, c.at(user, counter)) || equal(code, c.at(user, counter-1))
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
