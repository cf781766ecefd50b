package verdict

import "warden/internal/types"

// Screen is the view a verdict sends the user to.
type Screen string

const (
	ScreenClean     Screen = "clean"
	ScreenCooldown  Screen = "cooldown"
	ScreenWarning   Screen = "warning"
	ScreenBanned    Screen = "banned"
	ScreenBlocked   Screen = "mining_blocked"
	ScreenViolation Screen = "violation"
)

// Classify routes a verdict. A mining block only gets the lighter blocked
// view when the risk score is strictly above threshold; a block without a
// score gets the full violation screen.
func Classify(v *types.Verdict, threshold float64) Screen {
	switch v.Status {
	case types.StatusSuccess:
		return ScreenClean
	case types.StatusCooldown:
		return ScreenCooldown
	}

	switch v.PenaltyType {
	case types.PenaltyWarning:
		return ScreenWarning
	case types.PenaltyPermanentBan, types.PenaltyPermanentBanAfterWarning:
		return ScreenBanned
	case types.PenaltyMiningBlock:
		if v.RiskScore != nil && *v.RiskScore > threshold {
			return ScreenBlocked
		}
	}
	return ScreenViolation
}
