package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"warden/internal/fingerprint"
	"warden/internal/types"
	"warden/internal/verification"
)

var validate = validator.New()

// Check submits a fingerprint for a verdict. Facets travel both as headers
// and in the body so either channel alone reconstructs the payload.
func (c *Client) Check(ctx context.Context, fp *types.Fingerprint, clientIP string, tampered bool) (*types.Verdict, error) {
	headers, err := fingerprint.Headers(fp, tampered)
	if err != nil {
		return nil, err
	}
	body, err := fingerprint.Body(fp, clientIP, tampered)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, request{method: http.MethodPost, path: "/mining/check", headers: headers, body: body})
	if err != nil {
		return nil, err
	}

	// Violations and cooldowns are modelled outcomes and may arrive with a
	// non-2xx status; anything carrying a known verdict status is a verdict.
	var verdict types.Verdict
	if json.Unmarshal(resp.Body(), &verdict) == nil && knownStatus(verdict.Status) {
		c.log.WithFields(logrus.Fields{
			"status":  verdict.Status,
			"penalty": verdict.PenaltyType,
			"http":    resp.StatusCode(),
		}).Debug("Check: verdict received")
		return &verdict, nil
	}
	if !resp.IsSuccess() {
		return nil, c.unexpected(ctx, resp)
	}
	return nil, &StatusError{Code: resp.StatusCode(), Message: "unrecognised verdict"}
}

func knownStatus(s string) bool {
	switch s {
	case types.StatusSuccess, types.StatusCooldown, types.StatusViolation:
		return true
	}
	return false
}

func (c *Client) TwoFactorStatus(ctx context.Context) (*types.TwoFactorStatus, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, path: "/mining/check-2fa-required"})
	if err != nil {
		return nil, err
	}
	var out types.TwoFactorStatus
	if err := c.decode(ctx, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTwoFactor submits a second-factor code. On success the returned
// token is stamped with the local time it was issued.
func (c *Client) VerifyTwoFactor(ctx context.Context, code string) (verification.Token, error) {
	now := c.now()
	body := types.VerifyRequest{
		Code:      code,
		Timestamp: now.UnixMilli(),
		CodeHash:  verification.CodeDigest(c.codeKey, code, now.UnixMilli()),
		Challenge: verification.NewChallenge(),
	}
	if err := validate.Struct(body); err != nil {
		return verification.Token{}, ErrMalformedCode
	}

	resp, err := c.send(ctx, request{method: http.MethodPost, path: "/mining/verify-2fa", body: body})
	if err != nil {
		return verification.Token{}, err
	}

	var out types.VerifyResponse
	_ = json.Unmarshal(resp.Body(), &out)

	switch resp.StatusCode() {
	case http.StatusOK:
		tok, err := verification.CheckVerifyResponse(&out, c.now())
		if err != nil {
			c.log.WithField("message", out.Message).Warn("VerifyTwoFactor: rejecting unverifiable success")
		}
		return tok, err
	case http.StatusUnauthorized:
		return verification.Token{}, &InvalidCodeError{RemainingAttempts: out.RemainingAttempts}
	case http.StatusForbidden:
		return verification.Token{}, ErrTwoFactorNotSetup
	case http.StatusTooManyRequests:
		return verification.Token{}, c.rateLimited(resp)
	}
	return verification.Token{}, c.decode(ctx, resp, nil)
}

// ApplyReward redeems a validated token for the pending claim.
func (c *Client) ApplyReward(ctx context.Context, data types.MiningData, tok verification.Token) (*types.RewardResponse, error) {
	body := types.RewardRequest{MiningData: data, Verification: tok.Proof()}
	resp, err := c.send(ctx, request{method: http.MethodPost, path: "/mining/apply-reward", body: body})
	if err != nil {
		return nil, err
	}
	var out types.RewardResponse
	if err := c.decode(ctx, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.send(ctx, request{method: http.MethodPost, path: "/mining/stop", body: struct{}{}})
	if err != nil {
		return err
	}
	return c.decode(ctx, resp, nil)
}

func (c *Client) Status(ctx context.Context) (*types.MiningStatus, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, path: "/mining/status"})
	if err != nil {
		return nil, err
	}
	var out types.MiningStatus
	if err := c.decode(ctx, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Devices(ctx context.Context) (*types.DeviceList, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, path: "/mining/fingerprint/devices"})
	if err != nil {
		return nil, err
	}
	var out types.DeviceList
	if err := c.decode(ctx, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveDevice(ctx context.Context, hash string) error {
	resp, err := c.send(ctx, request{method: http.MethodDelete, path: "/mining/fingerprint/devices/" + url.PathEscape(hash)})
	if err != nil {
		return err
	}
	return c.decode(ctx, resp, nil)
}

// Session obtains a development session token from the contract simulator.
func (c *Client) Session(ctx context.Context, user string) (string, time.Time, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"user": user}).
		Post("/auth/session")
	if err != nil {
		return "", time.Time{}, &StatusError{Err: err}
	}
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if !resp.IsSuccess() {
		return "", time.Time{}, &StatusError{Code: resp.StatusCode(), Message: errorBody(resp).Error}
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", time.Time{}, &StatusError{Code: resp.StatusCode(), Message: "malformed response", Err: err}
	}
	c.SetSessionToken(out.Token)
	return out.Token, out.ExpiresAt, nil
}
