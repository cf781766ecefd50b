package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"warden/internal/challenge"
	"warden/internal/middleware"
	"warden/internal/store"
	"warden/internal/types"
	"warden/internal/verification"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCheckBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// VerifyTwoFactor checks a second-factor code and, on success, issues the
// verification token that gates apply-reward.
func (s *Server) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.User(ctx)
	log := s.Log.WithFields(logrus.Fields{"user": user, "ip": middleware.ClientIP(r)})

	var req types.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "malformed verification request", "invalid_request")
		return
	}

	acct := s.Accounts.Snapshot(user)
	if !acct.TwoFactor {
		middleware.WriteJSON(w, http.StatusForbidden, types.VerifyResponse{
			Error:     "two-factor authentication not set up",
			ErrorCode: "2fa_not_setup",
		})
		return
	}

	blocked, err := s.Attempts.Blocked(ctx, user)
	if err != nil {
		log.WithError(err).Error("VerifyTwoFactor: attempts lookup failed")
		middleware.WriteError(w, http.StatusInternalServerError, "verification unavailable", "internal")
		return
	}
	if blocked > 0 {
		s.writeBlocked(w, blocked)
		return
	}

	if err := s.Verifier.Check(ctx, user, req); err != nil {
		if errors.Is(err, challenge.ErrStaleTimestamp) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error(), "stale_timestamp")
			return
		}
		if !rejected(err) {
			log.WithError(err).Error("VerifyTwoFactor: challenge ledger failed")
			middleware.WriteError(w, http.StatusInternalServerError, "verification unavailable", "internal")
			return
		}
		left, ferr := s.Attempts.Fail(ctx, user)
		if ferr != nil {
			log.WithError(ferr).Error("VerifyTwoFactor: attempts update failed")
		}
		log.WithError(err).WithField("remaining_attempts", left).Warn("VerifyTwoFactor: code rejected")
		if left == 0 {
			blocked, _ := s.Attempts.Blocked(ctx, user)
			if blocked <= 0 {
				blocked = s.Cfg.CodeLockout
			}
			s.writeBlocked(w, blocked)
			return
		}
		middleware.WriteJSON(w, http.StatusUnauthorized, types.VerifyResponse{
			Error:             "invalid verification code",
			RemainingAttempts: left,
		})
		return
	}

	if err := s.Attempts.Succeed(ctx, user); err != nil {
		log.WithError(err).Warn("VerifyTwoFactor: attempts reset failed")
	}
	token, sig, err := s.Verifier.Issue(user, acct.CurrentHash)
	if err != nil {
		log.WithError(err).Error("VerifyTwoFactor: token issue failed")
		middleware.WriteError(w, http.StatusInternalServerError, "verification unavailable", "internal")
		return
	}
	_ = s.Accounts.Update(user, func(acct *store.Account) error {
		acct.Mining = true
		return nil
	})
	log.Info("VerifyTwoFactor: verification token issued")
	middleware.WriteJSON(w, http.StatusOK, types.VerifyResponse{
		Message:           verification.SuccessPhrase,
		IsValid:           true,
		VerificationToken: token,
		Signature:         sig,
	})
}

func (s *Server) writeBlocked(w http.ResponseWriter, d time.Duration) {
	secs := int64(math.Ceil(d.Seconds()))
	middleware.WriteJSON(w, http.StatusTooManyRequests, types.VerifyResponse{
		Error:         "too many attempts",
		ErrorCode:     "too_many_attempts",
		RemainingTime: secs,
		BlockedUntil:  s.Now().UnixMilli() + secs*1000,
	})
}

// rejected reports whether err is a verdict on the submission rather than an
// infrastructure failure.
func rejected(err error) bool {
	return errors.Is(err, challenge.ErrWrongCode) ||
		errors.Is(err, challenge.ErrDigestMismatch) ||
		errors.Is(err, challenge.ErrReplay)
}
