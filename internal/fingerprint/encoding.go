package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"warden/internal/types"
)

const (
	HeaderCanvas      = "X-Fingerprint-Canvas"
	HeaderGraphics    = "X-Fingerprint-Graphics"
	HeaderAudio       = "X-Fingerprint-Audio"
	HeaderFonts       = "X-Fingerprint-Fonts"
	HeaderTiming      = "X-Fingerprint-Timing"
	HeaderEnvironment = "X-Fingerprint-Environment"
	HeaderAddresses   = "X-Fingerprint-Addresses"
	HeaderUserAgent   = "X-Fingerprint-User-Agent"
	HeaderCollectedAt = "X-Fingerprint-Collected-At"
	HeaderTamper      = "X-Fingerprint-Tamper"
)

// Headers encodes every facet as its own request header; structured facets are JSON.
func Headers(fp *types.Fingerprint, tampered bool) (http.Header, error) {
	env, err := json.Marshal(fp.Environment)
	if err != nil {
		return nil, fmt.Errorf("encode environment: %w", err)
	}
	addrs := fp.CandidateAddresses
	if addrs == nil {
		addrs = []string{}
	}
	addrJSON, err := json.Marshal(addrs)
	if err != nil {
		return nil, fmt.Errorf("encode addresses: %w", err)
	}

	h := http.Header{}
	h.Set(HeaderCanvas, fp.Canvas.String())
	h.Set(HeaderGraphics, fp.Graphics.String())
	h.Set(HeaderAudio, fp.Audio.String())
	h.Set(HeaderFonts, fp.Fonts.String())
	h.Set(HeaderTiming, fp.Timing.String())
	h.Set(HeaderEnvironment, string(env))
	h.Set(HeaderAddresses, string(addrJSON))
	h.Set(HeaderUserAgent, fp.UserAgent)
	h.Set(HeaderCollectedAt, fp.CollectedAt.UTC().Format(time.RFC3339Nano))
	h.Set(HeaderTamper, strconv.FormatBool(tampered))
	return h, nil
}

// Body is the JSON form of the same payload.
func Body(fp *types.Fingerprint, clientIP string, tampered bool) ([]byte, error) {
	return json.Marshal(types.CheckRequest{Fingerprint: *fp, ClientIP: clientIP, TamperDetected: tampered})
}

// DecodeHeaders rebuilds a payload from the header channel alone.
func DecodeHeaders(h http.Header) (*types.Fingerprint, bool, error) {
	if h.Get(HeaderCanvas) == "" {
		return nil, false, fmt.Errorf("missing %s", HeaderCanvas)
	}
	fp := &types.Fingerprint{
		Canvas:    types.ParseSignal(h.Get(HeaderCanvas)),
		Graphics:  types.ParseSignal(h.Get(HeaderGraphics)),
		Audio:     types.ParseSignal(h.Get(HeaderAudio)),
		Fonts:     types.ParseSignal(h.Get(HeaderFonts)),
		Timing:    types.ParseSignal(h.Get(HeaderTiming)),
		UserAgent: h.Get(HeaderUserAgent),
	}
	if raw := h.Get(HeaderEnvironment); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fp.Environment); err != nil {
			return nil, false, fmt.Errorf("decode environment: %w", err)
		}
	}
	fp.CandidateAddresses = []string{}
	if raw := h.Get(HeaderAddresses); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fp.CandidateAddresses); err != nil {
			return nil, false, fmt.Errorf("decode addresses: %w", err)
		}
	}
	if raw := h.Get(HeaderCollectedAt); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, false, fmt.Errorf("decode collected-at: %w", err)
		}
		fp.CollectedAt = at
	}
	tampered, _ := strconv.ParseBool(h.Get(HeaderTamper))
	return fp, tampered, nil
}

// DeviceHash identifies a device from its day-stable facets only, so the same
// device keeps one hash although canvas and timing signatures rotate daily.
func DeviceHash(fp *types.Fingerprint) string {
	parts := []string{
		fp.Graphics.String(),
		fp.Audio.String(),
		fp.Fonts.String(),
		strconv.Itoa(fp.Environment.Screen.Width) + "x" + strconv.Itoa(fp.Environment.Screen.Height),
		fp.Environment.Hardware.Platform,
		fp.Environment.Hardware.Arch,
		strconv.Itoa(fp.Environment.Hardware.Concurrency),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
