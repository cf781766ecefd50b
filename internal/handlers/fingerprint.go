package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"warden/internal/fingerprint"
	"warden/internal/types"
)

const maxCheckBody = 64 << 10

var errNoFingerprint = errors.New("no fingerprint in body or headers")

// readCheckRequest takes the fingerprint from the JSON body and falls back to
// the X-Fingerprint-* headers when the body carries none.
func readCheckRequest(r *http.Request) (*types.CheckRequest, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCheckBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var req types.CheckRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		if hasFacets(&req.Fingerprint) {
			return &req, nil
		}
	}

	fp, tampered, err := fingerprint.DecodeHeaders(r.Header)
	if err != nil {
		if len(raw) > 0 {
			return &req, nil
		}
		return nil, fmt.Errorf("%w: %v", errNoFingerprint, err)
	}
	req.Fingerprint = *fp
	req.TamperDetected = req.TamperDetected || tampered
	return &req, nil
}

// hasFacets reports whether the body carried signals. A decoded signal is
// never the zero value, even when it decodes to an error sentinel.
func hasFacets(fp *types.Fingerprint) bool {
	return fp.Canvas != (types.Signal{}) || fp.Graphics != (types.Signal{})
}
