package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/sirupsen/logrus"

	"warden/internal/fingerprint"
	"warden/internal/middleware"
	"warden/internal/store"
	"warden/internal/types"
)

// Check returns a verdict for the submitted fingerprint. Violations are
// answered with 403 and a verdict body.
func (s *Server) Check(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	req, err := readCheckRequest(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_fingerprint")
		return
	}

	now := s.Now()
	acct := s.Accounts.Snapshot(user)
	if left := s.cooldownLeft(acct, now); left > 0 {
		middleware.WriteJSON(w, http.StatusOK, types.Verdict{
			Status:           types.StatusCooldown,
			Message:          "Mining session already completed. Come back later.",
			RemainingSeconds: int64(math.Ceil(left.Seconds())),
		})
		return
	}

	remoteIP := middleware.ClientIP(r)
	hash := fingerprint.DeviceHash(&req.Fingerprint)
	owner, _ := s.Accounts.Owner(hash)
	a := s.assess(riskInput{
		Request:     req,
		RemoteIP:    remoteIP,
		Country:     s.Geo.Country(remoteIP),
		Owner:       owner,
		User:        user,
		KnownDevice: s.Accounts.HasDevice(user, hash),
		DeviceCount: s.Accounts.DeviceCount(user),
	})
	verdict := s.decide(a, acct.Warnings)

	log := s.Log.WithFields(logrus.Fields{
		"user":  user,
		"ip":    remoteIP,
		"score": a.Score,
		"hash":  hash[:12],
	})

	if verdict.Status == types.StatusViolation {
		if verdict.PenaltyType == types.PenaltyWarning {
			_ = s.Accounts.Update(user, func(acct *store.Account) error {
				acct.Warnings++
				return nil
			})
		}
		log.WithFields(logrus.Fields{
			"penalty":    verdict.PenaltyType,
			"violations": verdict.Violations,
		}).Warn("Check: security violation")
		middleware.WriteJSON(w, http.StatusForbidden, verdict)
		return
	}

	if !s.Accounts.Register(user, hash, deviceType(&req.Fingerprint), s.Cfg.MaxDevices, now) {
		score := 100.0
		middleware.WriteJSON(w, http.StatusForbidden, types.Verdict{
			Status:      types.StatusViolation,
			PenaltyType: types.PenaltyMiningBlock,
			RiskScore:   &score,
			Violations:  []string{TagDeviceLimit},
			Message:     "Device limit reached. Remove a device to mine here.",
		})
		return
	}

	rate := s.Cfg.DailyMiningRate * (1 + acct.BoostRate)
	verdict.DailyMiningRate = rate
	verdict.PotentialReward = rate * acct.SessionHours / 24
	verdict.MiningConditions = fmt.Sprintf("%.0fh session at %.2f per day", acct.SessionHours, rate)
	verdict.Message = "Device verified"
	log.Info("Check: device verified")
	middleware.WriteJSON(w, http.StatusOK, verdict)
}

func deviceType(fp *types.Fingerprint) string {
	if fp.Environment.Features["touch"] {
		return "mobile"
	}
	return "desktop"
}

func (s *Server) TwoFactorRequired(w http.ResponseWriter, r *http.Request) {
	acct := s.Accounts.Snapshot(middleware.User(r.Context()))
	middleware.WriteJSON(w, http.StatusOK, types.TwoFactorStatus{
		IsEnabled:    acct.TwoFactor,
		RequireSetup: !acct.TwoFactor,
	})
}

var (
	errDeviceMismatch = errors.New("claim does not match the verified device")
	errCooldown       = errors.New("mining session already completed")
)

// ApplyReward redeems a verification token for one session's reward.
// Verification failures answer 403 rather than 401 so clients do not mistake
// them for an expired session.
func (s *Server) ApplyReward(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	var req types.RewardRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "verification proof incomplete", "verification_invalid")
		return
	}

	log := s.Log.WithField("user", user)
	claims, err := s.Verifier.Redeem(r.Context(), user, req.Verification)
	if err != nil {
		log.WithError(err).Warn("ApplyReward: verification rejected")
		middleware.WriteError(w, http.StatusForbidden, "verification failed", "verification_invalid")
		return
	}

	now := s.Now()
	var resp types.RewardResponse
	err = s.Accounts.Update(user, func(acct *store.Account) error {
		if claims.Device != "" && req.MiningData.FingerprintHash != claims.Device {
			return errDeviceMismatch
		}
		if s.cooldownLeft(*acct, now) > 0 {
			return errCooldown
		}
		base := s.Cfg.DailyMiningRate * acct.SessionHours / 24
		reward := base * (1 + acct.BoostRate)
		acct.Balance += reward
		acct.LastMinedAt = now
		acct.Mining = false
		resp = types.RewardResponse{
			Message:    "Reward applied",
			Reward:     reward,
			BaseReward: base,
			Balance:    acct.Balance,
		}
		return nil
	})
	switch {
	case errors.Is(err, errDeviceMismatch):
		log.Warn("ApplyReward: device mismatch")
		middleware.WriteError(w, http.StatusForbidden, err.Error(), "device_mismatch")
		return
	case errors.Is(err, errCooldown):
		middleware.WriteError(w, http.StatusConflict, err.Error(), types.StatusCooldown)
		return
	case err != nil:
		middleware.WriteError(w, http.StatusInternalServerError, "reward failed", "internal")
		return
	}

	log.WithField("reward", resp.Reward).Info("ApplyReward: reward applied")
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) Stop(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	_ = s.Accounts.Update(user, func(acct *store.Account) error {
		acct.Mining = false
		return nil
	})
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "Mining stopped"})
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	acct := s.Accounts.Snapshot(middleware.User(r.Context()))
	st := types.MiningStatus{
		CanMine:      s.cooldownLeft(acct, s.Now()) == 0,
		IsMining:     acct.Mining,
		SessionHours: acct.SessionHours,
		IsBoosted:    acct.BoostRate > 0,
		BoostRate:    acct.BoostRate,
		Balance:      acct.Balance,
	}
	if !acct.LastMinedAt.IsZero() {
		st.LastMinedAt = acct.LastMinedAt.UnixMilli()
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}
