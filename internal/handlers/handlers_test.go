package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"warden/internal/api"
	"warden/internal/config"
	"warden/internal/fingerprint"
	"warden/internal/middleware"
	"warden/internal/store"
	"warden/internal/types"
)

const (
	testSecret = "test-secret"
	testCode   = "246810"
	testKey    = "code-key"
)

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig().Server
	cfg.JWTSecret = testSecret
	cfg.CodeKey = testKey
	cfg.TwoFactorCode = testCode
	cfg.RateLimitRPS = 1000
	cfg.RateLimitBurst = 1000
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewServer(&cfg, store.NewMemory(), nil, nil)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func newTestClient(t *testing.T, srv *httptest.Server, user string) *api.Client {
	t.Helper()
	c := api.NewClient(config.APIConfig{
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
		UserAgent: "warden-test",
		CodeKey:   testKey,
	}, nil)
	if user != "" {
		if _, _, err := c.Session(context.Background(), user); err != nil {
			t.Fatalf("Session(%s): %v", user, err)
		}
	}
	return c
}

func cleanFingerprint(graphics string) *types.Fingerprint {
	fp := &types.Fingerprint{
		Canvas:             types.Hashed("c4a7"),
		Graphics:           types.Hashed(graphics),
		Audio:              types.Hashed("a0d1"),
		Fonts:              types.Hashed("f047"),
		Timing:             types.Hashed("71e5"),
		CandidateAddresses: []string{"192.0.2.10"},
		UserAgent:          "warden-test",
		CollectedAt:        time.Now().UTC(),
	}
	fp.Environment.Hardware.Platform = "linux"
	fp.Environment.Hardware.Concurrency = 8
	return fp
}

func TestMiningRoundTrip(t *testing.T) {
	_, srv := newTestServer(t, nil)
	c := newTestClient(t, srv, "alice")
	ctx := context.Background()

	st, err := c.TwoFactorStatus(ctx)
	if err != nil || !st.IsEnabled || st.RequireSetup {
		t.Fatalf("TwoFactorStatus = %+v, %v", st, err)
	}

	fp := cleanFingerprint("9a11")
	v, err := c.Check(ctx, fp, "", false)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Status != types.StatusSuccess || v.DailyMiningRate != 1.5 || v.PotentialReward != 1.5 {
		t.Fatalf("verdict = %+v", v)
	}

	tok, err := c.VerifyTwoFactor(ctx, testCode)
	if err != nil {
		t.Fatalf("VerifyTwoFactor: %v", err)
	}
	data := types.MiningData{FingerprintHash: fingerprint.DeviceHash(fp), DailyMiningRate: v.DailyMiningRate}
	reward, err := c.ApplyReward(ctx, data, tok)
	if err != nil {
		t.Fatalf("ApplyReward: %v", err)
	}
	if reward.Reward != 1.5 || reward.Balance != 1.5 {
		t.Errorf("reward = %+v", reward)
	}

	_, err = c.ApplyReward(ctx, data, tok)
	var se *api.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Errorf("replayed token: err = %v, want 403", err)
	}

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.CanMine || status.LastMinedAt == 0 || status.SessionHours != 24 {
		t.Errorf("status = %+v", status)
	}

	v, err = c.Check(ctx, fp, "", false)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if v.Status != types.StatusCooldown || v.RemainingSeconds < 86000 || v.RemainingSeconds > 86400 {
		t.Errorf("cooldown verdict = %+v", v)
	}
}

func TestApplyRewardRejectsOtherDevice(t *testing.T) {
	_, srv := newTestServer(t, nil)
	c := newTestClient(t, srv, "alice")
	ctx := context.Background()

	if _, err := c.Check(ctx, cleanFingerprint("9a11"), "", false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	tok, err := c.VerifyTwoFactor(ctx, testCode)
	if err != nil {
		t.Fatalf("VerifyTwoFactor: %v", err)
	}
	_, err = c.ApplyReward(ctx, types.MiningData{FingerprintHash: "elsewhere"}, tok)
	var se *api.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Errorf("err = %v, want 403", err)
	}
}

func TestVerifyTwoFactorLockout(t *testing.T) {
	_, srv := newTestServer(t, nil)
	c := newTestClient(t, srv, "alice")
	ctx := context.Background()

	for want := 4; want >= 1; want-- {
		_, err := c.VerifyTwoFactor(ctx, "111111")
		var ic *api.InvalidCodeError
		if !errors.As(err, &ic) || ic.RemainingAttempts != want {
			t.Fatalf("err = %v, want %d attempts remaining", err, want)
		}
	}

	_, err := c.VerifyTwoFactor(ctx, "111111")
	var rl *api.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("fifth failure: err = %v, want RateLimitError", err)
	}
	if rl.Remaining < 119*time.Second || rl.Remaining > 120*time.Second {
		t.Errorf("Remaining = %s", rl.Remaining)
	}

	if _, err := c.VerifyTwoFactor(ctx, testCode); !errors.As(err, &rl) {
		t.Errorf("correct code while locked: err = %v", err)
	}
}

func TestVerifyTwoFactorNotSetup(t *testing.T) {
	s, srv := newTestServer(t, nil)
	c := newTestClient(t, srv, "bob")
	_ = s.Accounts.Update("bob", func(acct *store.Account) error {
		acct.TwoFactor = false
		return nil
	})

	st, err := c.TwoFactorStatus(context.Background())
	if err != nil || st.IsEnabled || !st.RequireSetup {
		t.Fatalf("TwoFactorStatus = %+v, %v", st, err)
	}
	if _, err := c.VerifyTwoFactor(context.Background(), testCode); !errors.Is(err, api.ErrTwoFactorNotSetup) {
		t.Errorf("err = %v", err)
	}
}

func TestCheckVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*config.ServerConfig)
		tampered   bool
		wantStatus string
		wantTag    string
		penalties  []string
	}{
		{
			name:      "blacklisted address",
			mutate:    func(c *config.ServerConfig) { c.BlacklistedIPs = []string{"127.0.0.0/8"} },
			wantTag:   TagBlacklistedIP,
			penalties: []string{types.PenaltyPermanentBan},
		},
		{
			name:      "proxy address",
			mutate:    func(c *config.ServerConfig) { c.ProxyIPs = []string{"127.0.0.1"} },
			wantTag:   TagProxy,
			penalties: []string{types.PenaltyWarning, types.PenaltyMiningBlock},
		},
		{
			name:      "tampered client",
			tampered:  true,
			wantTag:   TagTamper,
			penalties: []string{types.PenaltyWarning, types.PenaltyMiningBlock},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newTestServer(t, tt.mutate)
			c := newTestClient(t, srv, "alice")
			for i, want := range tt.penalties {
				v, err := c.Check(context.Background(), cleanFingerprint("9a11"), "", tt.tampered)
				if err != nil {
					t.Fatalf("Check %d: %v", i, err)
				}
				if v.Status != types.StatusViolation || v.PenaltyType != want {
					t.Fatalf("Check %d: verdict = %+v, want %s", i, v, want)
				}
				if !contains(v.Violations, tt.wantTag) {
					t.Errorf("violations = %v, want %s", v.Violations, tt.wantTag)
				}
			}
		})
	}
}

func TestCheckDeviceRules(t *testing.T) {
	_, srv := newTestServer(t, func(c *config.ServerConfig) { c.MaxDevices = 1 })
	alice := newTestClient(t, srv, "alice")
	bob := newTestClient(t, srv, "bob")
	ctx := context.Background()

	if v, err := alice.Check(ctx, cleanFingerprint("9a11"), "", false); err != nil || v.Status != types.StatusSuccess {
		t.Fatalf("first device: %+v, %v", v, err)
	}
	v, err := alice.Check(ctx, cleanFingerprint("9a12"), "", false)
	if err != nil || v.PenaltyType != types.PenaltyMiningBlock || !contains(v.Violations, TagDeviceLimit) {
		t.Errorf("second device: %+v, %v", v, err)
	}
	v, err = bob.Check(ctx, cleanFingerprint("9a11"), "", false)
	if err != nil || v.PenaltyType != types.PenaltyMiningBlock || !contains(v.Violations, TagSharedDevice) {
		t.Errorf("shared device: %+v, %v", v, err)
	}
}

func TestCheckFromHeadersOnly(t *testing.T) {
	_, srv := newTestServer(t, nil)
	token, _, err := middleware.IssueSession([]byte(testSecret), "alice", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	h, err := fingerprint.Headers(cleanFingerprint("9a11"), false)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mining/check", nil)
	req.Header = h
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var v types.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || v.Status != types.StatusSuccess {
		t.Errorf("status %d, verdict %+v", resp.StatusCode, v)
	}
}

func TestDevices(t *testing.T) {
	_, srv := newTestServer(t, nil)
	c := newTestClient(t, srv, "alice")
	ctx := context.Background()

	first, second := cleanFingerprint("9a11"), cleanFingerprint("9a12")
	for _, fp := range []*types.Fingerprint{first, second} {
		if _, err := c.Check(ctx, fp, "", false); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}

	list, err := c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(list.Devices) != 2 || list.MaxDevices != 3 {
		t.Fatalf("list = %+v", list)
	}
	current := fingerprint.DeviceHash(second)
	for _, d := range list.Devices {
		if d.IsCurrentDevice != (d.FingerprintHash == current) {
			t.Errorf("device %s current = %v", d.DisplayID, d.IsCurrentDevice)
		}
	}

	var se *api.StatusError
	if err := c.RemoveDevice(ctx, current); !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Errorf("remove current: err = %v", err)
	}
	if err := c.RemoveDevice(ctx, "unknown"); !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("remove unknown: err = %v", err)
	}
	if err := c.RemoveDevice(ctx, fingerprint.DeviceHash(first)); err != nil {
		t.Errorf("remove other: %v", err)
	}
	if list, _ := c.Devices(ctx); len(list.Devices) != 1 {
		t.Errorf("devices after removal = %+v", list)
	}
}

func TestMissingSession(t *testing.T) {
	_, srv := newTestServer(t, nil)
	c := newTestClient(t, srv, "")
	if _, err := c.Status(context.Background()); !errors.Is(err, api.ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestStopClearsMining(t *testing.T) {
	_, srv := newTestServer(t, nil)
	c := newTestClient(t, srv, "alice")
	ctx := context.Background()

	if _, err := c.Check(ctx, cleanFingerprint("9a11"), "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.VerifyTwoFactor(ctx, testCode); err != nil {
		t.Fatal(err)
	}
	if st, _ := c.Status(ctx); st == nil || !st.IsMining {
		t.Fatalf("status before stop = %+v", st)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st, _ := c.Status(ctx); st == nil || st.IsMining {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" || body.Ledger != "" {
		t.Errorf("status %d, body %+v", resp.StatusCode, body)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
