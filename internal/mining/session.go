package mining

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"warden/internal/api"
	"warden/internal/config"
	"warden/internal/fingerprint"
	"warden/internal/ratelimit"
	"warden/internal/types"
	"warden/internal/verdict"
	"warden/internal/verification"
)

var (
	ErrWrongPhase = errors.New("operation not allowed in current phase")
	ErrLocked     = errors.New("code submission locked")
	// ErrNoVerdict covers a check that returned neither a verdict nor an error.
	ErrNoVerdict = errors.New("security check returned no verdict")
)

// Messages shown to the user on aborted flows.
const (
	MsgSessionExpired    = "Your session has expired. Please sign in again and retry."
	MsgVerificationStale = "Your verification has expired. Please verify again."
	MsgRetry             = "Something went wrong. Please try again."
	MsgSetupRequired     = "Two-factor authentication must be enabled before you can mine."
	MsgVerifyFailed      = "Verification could not be confirmed. Please try again."
)

// API is the slice of the mining contract the session drives.
type API interface {
	TwoFactorStatus(ctx context.Context) (*types.TwoFactorStatus, error)
	Check(ctx context.Context, fp *types.Fingerprint, clientIP string, tampered bool) (*types.Verdict, error)
	VerifyTwoFactor(ctx context.Context, code string) (verification.Token, error)
	ApplyReward(ctx context.Context, data types.MiningData, tok verification.Token) (*types.RewardResponse, error)
	Status(ctx context.Context) (*types.MiningStatus, error)
	Stop(ctx context.Context) error
}

// Fingerprinter produces the payload and the tamper flag.
type Fingerprinter interface {
	Collect(ctx context.Context) (*types.Fingerprint, bool)
}

// Observer receives every state change. It runs with the session locked and
// must not call back into the session.
type Observer func(Snapshot)

type Options struct {
	API           API
	Fingerprinter Fingerprinter
	Config        config.MiningConfig
	Log           logrus.FieldLogger
	Now           func() time.Time
	// ClientIP overrides the address resolved from the fingerprint.
	ClientIP string
	Observer Observer
}

// Snapshot is a read-only view of the session for rendering.
type Snapshot struct {
	Phase             Phase
	Screen            verdict.Screen
	Progress          int
	Message           string
	Verdict           *types.Verdict
	Explanations      []verdict.Explanation
	RemainingAttempts int
	LockoutSeconds    int
	CooldownRemaining time.Duration
	HoursRemaining    int
	Reward            *types.RewardResponse
	Status            *types.MiningStatus
}

// Session is the mining state machine. Every transition happens inside one
// of its methods; the Runner only supplies the clock ticks.
type Session struct {
	opts Options
	log  logrus.FieldLogger

	mu                sync.Mutex
	phase             Phase
	ticks             int
	message           string
	verdict           *types.Verdict
	claim             *types.MiningData
	vault             verification.Vault
	lockout           ratelimit.Lockout
	remainingAttempts int
	successUntil      time.Time
	cooldownUntil     time.Time
	reward            *types.RewardResponse
	status            *types.MiningStatus
}

func NewSession(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Config.Ticks <= 0 {
		opts.Config.Ticks = 10
	}
	if opts.Config.TokenTTL <= 0 || opts.Config.TokenTTL > verification.Window {
		opts.Config.TokenTTL = verification.Window
	}
	return &Session{opts: opts, log: opts.Log, phase: PhaseIdle}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.opts.Now())
}

func (s *Session) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Phase:             s.phase,
		Progress:          s.ticks * 100 / s.opts.Config.Ticks,
		Message:           s.message,
		Verdict:           s.verdict,
		RemainingAttempts: s.remainingAttempts,
		LockoutSeconds:    s.lockout.Seconds(now),
		Reward:            s.reward,
		Status:            s.status,
	}
	if s.verdict != nil {
		snap.Screen = verdict.Classify(s.verdict, s.opts.Config.HighRiskThreshold)
		snap.Explanations = verdict.ExplainVerdict(s.verdict)
	}
	if d := s.cooldownUntil.Sub(now); d > 0 {
		snap.CooldownRemaining = d
		snap.HoursRemaining = int(math.Ceil(d.Hours()))
	}
	return snap
}

func (s *Session) enter(p Phase) {
	s.log.WithFields(logrus.Fields{"from": s.phase, "to": p}).Debug("Session: transition")
	s.phase = p
	s.notify()
}

func (s *Session) notify() {
	if s.opts.Observer != nil {
		s.opts.Observer(s.snapshot(s.opts.Now()))
	}
}

// reset abandons the flow. The pending claim and any verification token are
// dropped so nothing stale can be redeemed later.
func (s *Session) reset(msg string) {
	s.claim = nil
	s.vault.Clear()
	s.ticks = 0
	s.message = msg
	s.enter(PhaseIdle)
}

// fail aborts the flow after an API error the user cannot act on in place.
func (s *Session) fail(op string, err error) {
	log := s.log.WithField("op", op).WithError(err)
	switch {
	case errors.Is(err, api.ErrSessionExpired):
		log.Warn("Session: authentication failed, resetting")
		s.reset(MsgSessionExpired)
	case errors.Is(err, context.Canceled):
		s.reset("")
	default:
		log.Error("Session: operation failed")
		s.reset(MsgRetry)
	}
}

// Start runs the security check. It ends in 2fa_verify on a clean verdict,
// or in the view the verdict or the 2FA status calls for.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.canStart() {
		return fmt.Errorf("%w: start during %s", ErrWrongPhase, s.phase)
	}
	s.message = ""
	s.verdict = nil
	s.reward = nil
	s.remainingAttempts = 0
	s.enter(PhaseSecurityChecking)

	tfa, err := s.opts.API.TwoFactorStatus(ctx)
	if err != nil {
		s.fail("check-2fa-required", err)
		return err
	}
	if !tfa.IsEnabled || tfa.RequireSetup {
		s.message = MsgSetupRequired
		s.enter(PhaseTwoFactorSetup)
		return nil
	}

	fp, tampered := s.opts.Fingerprinter.Collect(ctx)
	if tampered {
		s.log.Warn("Start: collector integrity check failed, reporting to server")
	}
	v, err := s.opts.API.Check(ctx, fp, s.clientIP(fp), tampered)
	if err != nil {
		s.fail("check", err)
		return err
	}
	if v == nil {
		s.fail("check", ErrNoVerdict)
		return ErrNoVerdict
	}
	s.route(ctx, fp, v)
	return nil
}

func (s *Session) route(ctx context.Context, fp *types.Fingerprint, v *types.Verdict) {
	s.verdict = v
	s.message = v.Message
	now := s.opts.Now()

	switch verdict.Classify(v, s.opts.Config.HighRiskThreshold) {
	case verdict.ScreenClean:
		s.claim = &types.MiningData{
			FingerprintHash:  fingerprint.DeviceHash(fp),
			DailyMiningRate:  v.DailyMiningRate,
			PotentialReward:  v.PotentialReward,
			MiningConditions: v.MiningConditions,
		}
		s.enter(PhaseTwoFactorVerify)
	case verdict.ScreenCooldown:
		s.cooldownUntil = now.Add(time.Duration(v.RemainingSeconds) * time.Second)
		s.enter(PhaseCooldown)
	case verdict.ScreenWarning:
		s.enter(PhaseWarned)
	case verdict.ScreenBanned:
		s.enter(PhaseBanned)
	case verdict.ScreenBlocked:
		// Stats stay visible on the blocked view; only mining is disabled.
		if err := s.refresh(ctx); err != nil {
			s.log.WithError(err).Warn("route: status refresh for blocked view failed")
		}
		s.enter(PhaseMiningBlocked)
	default:
		s.enter(PhaseSecurityViolation)
	}
}

// clientIP prefers the configured address, then the first public candidate.
func (s *Session) clientIP(fp *types.Fingerprint) string {
	if s.opts.ClientIP != "" {
		return s.opts.ClientIP
	}
	for _, raw := range fp.CandidateAddresses {
		addr, err := netip.ParseAddr(raw)
		if err == nil && addr.IsGlobalUnicast() && !addr.IsPrivate() {
			return addr.String()
		}
	}
	return ""
}

// SubmitCode verifies a second-factor code and, once a valid token is held,
// starts the mining countdown.
func (s *Session) SubmitCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseTwoFactorVerify || s.claim == nil {
		return fmt.Errorf("%w: submit code during %s", ErrWrongPhase, s.phase)
	}
	now := s.opts.Now()
	if s.lockout.Locked(now) {
		return fmt.Errorf("%w for %ds", ErrLocked, s.lockout.Seconds(now))
	}

	tok, err := s.opts.API.VerifyTwoFactor(ctx, code)
	var rl *api.RateLimitError
	var bad *api.InvalidCodeError
	switch {
	case err == nil:
	case errors.As(err, &rl):
		if rl.Remaining > 0 {
			s.lockout.Lock(now, rl.Remaining)
		} else {
			s.lockout.LockUntil(rl.BlockedUntil)
		}
		s.message = rl.Error()
		s.notify()
		return err
	case errors.As(err, &bad):
		s.remainingAttempts = bad.RemainingAttempts
		s.message = bad.Error()
		s.notify()
		return err
	case errors.Is(err, api.ErrMalformedCode):
		s.message = err.Error()
		s.notify()
		return err
	case errors.Is(err, api.ErrTwoFactorNotSetup):
		s.claim = nil
		s.message = MsgSetupRequired
		s.enter(PhaseTwoFactorSetup)
		return err
	case errors.Is(err, verification.ErrForgedResponse):
		s.message = MsgVerifyFailed
		s.notify()
		return err
	default:
		s.fail("verify-2fa", err)
		return err
	}

	if err := tok.ValidateWithin(s.opts.Now(), s.opts.Config.TokenTTL); err != nil {
		s.message = MsgVerifyFailed
		s.notify()
		return err
	}
	s.vault.Put(tok)
	s.lockout.Reset()
	s.remainingAttempts = 0
	s.message = ""
	s.ticks = 0
	s.enter(PhaseMiningAnimation)
	s.enter(PhaseMiningActive)
	return nil
}

// Tick advances the time-driven phases by one tick interval.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now()

	switch s.phase {
	case PhaseMiningActive:
		s.ticks++
		if s.ticks < s.opts.Config.Ticks {
			s.notify()
			return
		}
		s.notify()
		s.claimReward(ctx)
	case PhaseSuccessDisplay:
		if now.Before(s.successUntil) {
			return
		}
		if s.cooldownUntil.After(now) && (s.status == nil || !s.status.CanMine) {
			s.enter(PhaseCooldown)
			return
		}
		s.enter(PhaseIdle)
	case PhaseCooldown:
		if !s.cooldownUntil.After(now) {
			s.enter(PhaseIdle)
			return
		}
		s.notify()
	case PhaseTwoFactorVerify:
		// Keep publishing until the countdown has shown zero.
		if s.lockout.Locked(now.Add(-time.Second)) {
			s.notify()
		}
	}
}

// claimReward submits the pending claim exactly once. The token leaves the
// vault before the request, so it cannot be reused whatever the outcome.
func (s *Session) claimReward(ctx context.Context) {
	s.enter(PhaseRewardClaim)
	claim := s.claim
	s.claim = nil
	tok, ok := s.vault.Take()

	if claim == nil || !ok {
		s.reset(MsgVerificationStale)
		return
	}
	if err := tok.ValidateWithin(s.opts.Now(), s.opts.Config.TokenTTL); err != nil {
		s.log.WithError(err).Warn("claimReward: token rejected before submission")
		s.reset(MsgVerificationStale)
		return
	}

	reward, err := s.opts.API.ApplyReward(ctx, *claim, tok)
	if err != nil {
		s.fail("apply-reward", err)
		return
	}
	s.reward = reward
	s.ticks = 0
	s.message = reward.Message

	if err := s.refresh(ctx); err != nil {
		s.log.WithError(err).Warn("claimReward: status refresh failed")
	}
	s.successUntil = s.opts.Now().Add(s.opts.Config.SuccessDwell)
	s.enter(PhaseSuccessDisplay)
}

// Refresh reconciles cooldown accounting with the server.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(ctx); err != nil {
		if errors.Is(err, api.ErrSessionExpired) {
			s.fail("status", err)
		}
		return err
	}
	if s.phase == PhaseCooldown && !s.cooldownUntil.After(s.opts.Now()) {
		s.enter(PhaseIdle)
		return nil
	}
	s.notify()
	return nil
}

func (s *Session) refresh(ctx context.Context) error {
	st, err := s.opts.API.Status(ctx)
	if err != nil {
		return err
	}
	s.status = st
	s.cooldownUntil = CooldownEnd(st)
	if st.CanMine {
		s.cooldownUntil = time.Time{}
	}
	return nil
}

// CooldownEnd is when the current mining session window closes.
func CooldownEnd(st *types.MiningStatus) time.Time {
	if st == nil || st.LastMinedAt == 0 {
		return time.Time{}
	}
	window := time.Duration(st.SessionHours * float64(time.Hour))
	return time.UnixMilli(st.LastMinedAt).Add(window)
}

// Stop ends mining on the server and drops any in-flight claim.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.opts.API.Stop(ctx)
	if errors.Is(err, api.ErrSessionExpired) {
		s.fail("stop", err)
		return err
	}
	if s.phase.Terminal() && s.phase != PhaseTwoFactorSetup {
		return err
	}
	s.reset("")
	return err
}

// Dismiss leaves an informational view and returns to idle.
func (s *Session) Dismiss() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseCooldown, PhaseSuccessDisplay, PhaseTwoFactorVerify, PhaseTwoFactorSetup:
		s.reset("")
		return nil
	}
	return fmt.Errorf("%w: dismiss during %s", ErrWrongPhase, s.phase)
}
