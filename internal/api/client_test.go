package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warden/internal/config"
	"warden/internal/fingerprint"
	"warden/internal/types"
	"warden/internal/verification"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.APIConfig{
		BaseURL:      srv.URL,
		Timeout:      5 * time.Second,
		UserAgent:    "warden-test",
		SessionToken: "opaque-session",
		CodeKey:      "code-key",
	}, nil)
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sampleFingerprint() *types.Fingerprint {
	fp := &types.Fingerprint{
		Canvas:             types.Hashed("c0ffee"),
		Graphics:           types.Unsupported("no pipeline"),
		Audio:              types.TimedOut(),
		Fonts:              types.Hashed("f0f0"),
		Timing:             types.Failed("boom"),
		CandidateAddresses: []string{"192.0.2.10"},
		UserAgent:          "warden-test",
		CollectedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	fp.Environment.Hardware.Platform = "linux"
	return fp
}

func TestCheckSendsBothChannels(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mining/check" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer opaque-session" {
			t.Errorf("Authorization = %q", got)
		}
		fromHeaders, tampered, err := fingerprint.DecodeHeaders(r.Header)
		if err != nil {
			t.Fatalf("DecodeHeaders: %v", err)
		}
		var body types.CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if fromHeaders.Canvas != body.Canvas || fromHeaders.Audio != body.Audio || !tampered || !body.TamperDetected {
			t.Errorf("channels disagree: headers %+v body %+v", fromHeaders, body.Fingerprint)
		}
		if body.ClientIP != "198.51.100.7" {
			t.Errorf("clientIp = %q", body.ClientIP)
		}
		score := 91.0
		writeJSON(w, http.StatusForbidden, types.Verdict{
			Status:      types.StatusViolation,
			PenaltyType: types.PenaltyMiningBlock,
			RiskScore:   &score,
			Violations:  []string{"vpn_detected"},
		})
	})

	v, err := c.Check(context.Background(), sampleFingerprint(), "198.51.100.7", true)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != types.StatusViolation || v.PenaltyType != types.PenaltyMiningBlock || *v.RiskScore != 91 {
		t.Errorf("verdict = %+v", v)
	}
}

func TestCheckUnknownFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, types.ErrorResponse{Error: "upstream down"})
	})
	_, err := c.Check(context.Background(), sampleFingerprint(), "", false)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Message != "upstream down" {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckUnrecognisedVerdict(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	v, err := c.Check(context.Background(), sampleFingerprint(), "", false)
	var se *StatusError
	if v != nil || !errors.As(err, &se) || se.Code != http.StatusOK {
		t.Fatalf("Check = %+v, %v", v, err)
	}
}

func TestVerifyTwoFactorOutcomes(t *testing.T) {
	genuine := types.VerifyResponse{
		Message:           verification.SuccessPhrase,
		IsValid:           true,
		VerificationToken: "tok",
		Signature:         "sig",
	}
	forged := genuine
	forged.Message = "ok"

	tests := []struct {
		name   string
		status int
		body   any
		check  func(t *testing.T, tok verification.Token, err error)
	}{
		{"success", http.StatusOK, genuine, func(t *testing.T, tok verification.Token, err error) {
			if err != nil || tok.Value != "tok" || tok.Signature != "sig" {
				t.Errorf("tok = %+v, err = %v", tok, err)
			}
		}},
		{"forged success", http.StatusOK, forged, func(t *testing.T, _ verification.Token, err error) {
			if !errors.Is(err, verification.ErrForgedResponse) {
				t.Errorf("err = %v", err)
			}
		}},
		{"invalid code", http.StatusUnauthorized, types.VerifyResponse{Error: "invalid code", RemainingAttempts: 2}, func(t *testing.T, _ verification.Token, err error) {
			var ic *InvalidCodeError
			if !errors.As(err, &ic) || ic.RemainingAttempts != 2 {
				t.Errorf("err = %v", err)
			}
		}},
		{"not set up", http.StatusForbidden, types.ErrorResponse{Error: "2fa not enabled"}, func(t *testing.T, _ verification.Token, err error) {
			if !errors.Is(err, ErrTwoFactorNotSetup) {
				t.Errorf("err = %v", err)
			}
		}},
		{"rate limited", http.StatusTooManyRequests, types.VerifyResponse{RemainingTime: 120}, func(t *testing.T, _ verification.Token, err error) {
			var rl *RateLimitError
			if !errors.As(err, &rl) || rl.Remaining != 120*time.Second {
				t.Errorf("err = %v", err)
			}
		}},
		{"session expired", http.StatusUnauthorized, types.ErrorResponse{Error: "expired", ErrorCode: "session_expired"}, func(t *testing.T, _ verification.Token, err error) {
			if !errors.Is(err, ErrSessionExpired) {
				t.Errorf("err = %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req types.VerifyRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if !verification.CheckDigest([]byte("code-key"), req.Code, req.Timestamp, req.CodeHash) {
					t.Errorf("code digest does not verify")
				}
				if req.Challenge == "" {
					t.Errorf("challenge missing")
				}
				writeJSON(w, tt.status, tt.body)
			})
			tok, err := c.VerifyTwoFactor(context.Background(), "123456")
			tt.check(t, tok, err)
		})
	}
}

func TestVerifyTwoFactorRejectsMalformedCodeLocally(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})
	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if _, err := c.VerifyTwoFactor(context.Background(), code); !errors.Is(err, ErrMalformedCode) {
			t.Errorf("code %q: err = %v", code, err)
		}
	}
	if hits != 0 {
		t.Errorf("server saw %d requests", hits)
	}
}

func TestRateLimitFromBlockedUntil(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, types.VerifyResponse{BlockedUntil: now.Add(90 * time.Second).UnixMilli()})
	})
	c.SetClock(func() time.Time { return now })
	_, err := c.VerifyTwoFactor(context.Background(), "123456")
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Remaining != 90*time.Second {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionRejectedRefreshesOnceAndAborts(t *testing.T) {
	var hits, refreshes int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: "expired", ErrorCode: "session_expired"})
	})
	c.SetRefresher(func(context.Context) (string, error) {
		atomic.AddInt32(&refreshes, 1)
		return "fresh-session", nil
	})

	if _, err := c.Status(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v", err)
	}
	if hits != 1 || refreshes != 1 {
		t.Errorf("hits = %d, refreshes = %d; want one of each", hits, refreshes)
	}
	if c.SessionToken() != "fresh-session" {
		t.Errorf("token not replaced")
	}
}

func TestLapsedSessionNeverLeavesClient(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})
	lapsed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	c.SetSessionToken(lapsed)

	if _, err := c.Devices(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v", err)
	}
	if hits != 0 {
		t.Errorf("request sent with a lapsed session")
	}
}

func TestApplyRewardCarriesProof(t *testing.T) {
	issued := time.UnixMilli(1_700_000_000_000)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req types.RewardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Verification.Token != "tok" || req.Verification.Signature != "sig" || req.Verification.Timestamp != issued.UnixMilli() {
			t.Errorf("proof = %+v", req.Verification)
		}
		if req.MiningData.FingerprintHash != "abc" {
			t.Errorf("mining data = %+v", req.MiningData)
		}
		writeJSON(w, http.StatusOK, types.RewardResponse{Message: "ok", Reward: 1.5, Balance: 10})
	})

	out, err := c.ApplyReward(context.Background(), types.MiningData{FingerprintHash: "abc"},
		verification.Token{Value: "tok", Signature: "sig", IssuedAt: issued})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reward != 1.5 || out.Balance != 10 {
		t.Errorf("reward = %+v", out)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/mining/fingerprint/devices":
			writeJSON(w, http.StatusOK, types.DeviceList{
				Devices:    []types.DeviceRecord{{FingerprintHash: "a/b", IsCurrentDevice: true}},
				MaxDevices: 3,
			})
		case r.Method == http.MethodDelete && r.URL.EscapedPath() == "/mining/fingerprint/devices/a%2Fb":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	list, err := c.Devices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if list.MaxDevices != 3 || len(list.Devices) != 1 {
		t.Errorf("list = %+v", list)
	}
	if err := c.RemoveDevice(context.Background(), "a/b"); err != nil {
		t.Fatal(err)
	}
}

func TestTransportFailure(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := c.TwoFactorStatus(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 0 {
		t.Fatalf("err = %v", err)
	}
}
