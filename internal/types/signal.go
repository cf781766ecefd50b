package types

import (
	"encoding/json"
	"strings"
)

type SignalKind int

const (
	SignalHash SignalKind = iota
	SignalUnsupported
	SignalTimeout
	SignalError
)

// Wire sentinels for signals that carry no hash.
const (
	SentinelUnsupported = "not_supported"
	SentinelTimeout     = "timeout"
	SentinelError       = "error"
)

// Signal is the outcome of one fingerprint probe. Only SignalHash carries a hash;
// Reason is diagnostic and never leaves the process.
type Signal struct {
	Kind   SignalKind
	Hash   string
	Reason string
}

func Hashed(hash string) Signal               { return Signal{Kind: SignalHash, Hash: hash} }
func Unsupported(reason string) Signal        { return Signal{Kind: SignalUnsupported, Reason: reason} }
func TimedOut() Signal                        { return Signal{Kind: SignalTimeout, Reason: "budget exceeded"} }
func Failed(reason string) Signal             { return Signal{Kind: SignalError, Reason: reason} }
func (s Signal) OK() bool                     { return s.Kind == SignalHash && s.Hash != "" }
func (s Signal) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// String renders the wire form: the hash, or a sentinel.
func (s Signal) String() string {
	switch s.Kind {
	case SignalHash:
		return s.Hash
	case SignalUnsupported:
		return SentinelUnsupported
	case SignalTimeout:
		return SentinelTimeout
	default:
		return SentinelError
	}
}

func (s *Signal) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseSignal(raw)
	return nil
}

// ParseSignal reverses String. Facet-prefixed sentinels such as
// "timing_not_supported" decode like the bare ones.
func ParseSignal(raw string) Signal {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == SentinelUnsupported || strings.HasSuffix(raw, "_"+SentinelUnsupported):
		return Unsupported("")
	case raw == SentinelTimeout || strings.HasSuffix(raw, "_"+SentinelTimeout):
		return TimedOut()
	case raw == "" || raw == SentinelError || strings.HasSuffix(raw, "_"+SentinelError):
		return Failed("")
	default:
		return Hashed(raw)
	}
}
