package mining

// Phase is a state of the mining session.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseSecurityChecking  Phase = "security_checking"
	PhaseTwoFactorSetup    Phase = "2fa_setup_required"
	PhaseTwoFactorVerify   Phase = "2fa_verify"
	PhaseMiningAnimation   Phase = "mining_animation"
	PhaseMiningActive      Phase = "mining_active"
	PhaseRewardClaim       Phase = "reward_claim"
	PhaseSuccessDisplay    Phase = "success_display"
	PhaseCooldown          Phase = "cooldown"
	PhaseMiningBlocked     Phase = "mining_blocked"
	PhaseBanned            Phase = "banned"
	PhaseWarned            Phase = "warned"
	PhaseSecurityViolation Phase = "violation"
)

// Terminal phases are left only through an outside change: completing 2FA
// setup, or a support decision on a penalty.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseTwoFactorSetup, PhaseMiningBlocked, PhaseBanned, PhaseWarned, PhaseSecurityViolation:
		return true
	}
	return false
}

// canStart lists the phases a user-initiated start may leave.
func (p Phase) canStart() bool {
	switch p {
	case PhaseIdle, PhaseTwoFactorSetup:
		return true
	}
	return false
}
