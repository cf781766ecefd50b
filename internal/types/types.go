package types

import "time"

// Fingerprint is the composite device identity produced once per mining attempt.
type Fingerprint struct {
	Canvas             Signal      `json:"canvasSignature"`
	Graphics           Signal      `json:"graphicsSignature"`
	Audio              Signal      `json:"audioSignature"`
	Fonts              Signal      `json:"fontSignature"`
	Timing             Signal      `json:"timingSignature"`
	Environment        Environment `json:"environment"`
	CandidateAddresses []string    `json:"candidateAddresses"`
	UserAgent          string      `json:"userAgent"`
	CollectedAt        time.Time   `json:"collectedAt"`
}

type Environment struct {
	Screen struct {
		Width      int     `json:"width"`
		Height     int     `json:"height"`
		ColorDepth int     `json:"colorDepth"`
		PixelRatio float64 `json:"pixelRatio"`
	} `json:"screen"`
	Hardware struct {
		Concurrency int     `json:"concurrency"`
		MemoryGB    float64 `json:"memoryGb"`
		Platform    string  `json:"platform"`
		Arch        string  `json:"arch"`
	} `json:"hardware"`
	Language  string          `json:"language"`
	Languages []string        `json:"languages"`
	Timezone  string          `json:"timezone"`
	TZOffset  int             `json:"timezoneOffset"`
	Features  map[string]bool `json:"features"`
}

// CheckRequest is the body of POST /mining/check.
type CheckRequest struct {
	Fingerprint
	ClientIP       string `json:"clientIp"`
	TamperDetected bool   `json:"tamperDetected"`
}

// Verdict is the server's classification of a fingerprint submission.
// It is never computed locally.
type Verdict struct {
	Status      string         `json:"status"`
	PenaltyType string         `json:"penalty_type,omitempty"`
	RiskScore   *float64       `json:"risk_score,omitempty"`
	Violations  []string       `json:"violations,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Message     string         `json:"message,omitempty"`

	// Present on success.
	DailyMiningRate  float64 `json:"daily_mining_rate,omitempty"`
	PotentialReward  float64 `json:"potential_reward,omitempty"`
	MiningConditions string  `json:"mining_conditions,omitempty"`

	// Present on mining_cooldown.
	RemainingSeconds int64 `json:"remaining_seconds,omitempty"`
}

const (
	StatusSuccess   = "success"
	StatusCooldown  = "mining_cooldown"
	StatusViolation = "security_violation"
)

const (
	PenaltyNone                     = "none"
	PenaltyWarning                  = "warning"
	PenaltyMiningBlock              = "mining_block"
	PenaltyPermanentBan             = "permanent_ban"
	PenaltyPermanentBanAfterWarning = "permanent_ban_after_warning"
)

type TwoFactorStatus struct {
	IsEnabled    bool `json:"is_2fa_enabled"`
	RequireSetup bool `json:"require_2fa_setup"`
}

type VerifyRequest struct {
	Code      string `json:"code" validate:"required,len=6,numeric"`
	Timestamp int64  `json:"timestamp" validate:"required"`
	CodeHash  string `json:"codeHash" validate:"required,hexadecimal"`
	Challenge string `json:"challenge" validate:"required"`
}

type VerifyResponse struct {
	Message           string `json:"message,omitempty"`
	IsValid           bool   `json:"is_valid"`
	VerificationToken string `json:"verification_token,omitempty"`
	Signature         string `json:"signature,omitempty"`
	RemainingAttempts int    `json:"remaining_attempts,omitempty"`
	BlockedUntil      int64  `json:"blocked_until,omitempty"`
	RemainingTime     int64  `json:"remaining_time,omitempty"`
	Error             string `json:"error,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
}

// MiningData is the pending claim carried from a clean verdict to apply-reward.
type MiningData struct {
	FingerprintHash  string  `json:"fingerprint_hash"`
	DailyMiningRate  float64 `json:"daily_mining_rate"`
	PotentialReward  float64 `json:"potential_reward"`
	MiningConditions string  `json:"mining_conditions"`
}

type VerificationProof struct {
	Token     string `json:"token" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	Timestamp int64  `json:"timestamp" validate:"required"`
}

type RewardRequest struct {
	MiningData   MiningData        `json:"mining_data"`
	Verification VerificationProof `json:"verification"`
}

type RewardResponse struct {
	Message    string  `json:"message"`
	Reward     float64 `json:"reward"`
	BaseReward float64 `json:"base_reward"`
	Balance    float64 `json:"balance"`
}

type MiningStatus struct {
	CanMine      bool    `json:"can_mine"`
	IsMining     bool    `json:"is_mining"`
	LastMinedAt  int64   `json:"last_mined_at,omitempty"` // unix millis
	SessionHours float64 `json:"mining_session_hours"`
	IsBoosted    bool    `json:"is_boosted"`
	BoostRate    float64 `json:"boost_rate,omitempty"`
	Balance      float64 `json:"balance"`
}

// DeviceRecord is server-owned and read-only for the client.
type DeviceRecord struct {
	FingerprintHash string    `json:"fingerprint_hash"`
	DisplayID       string    `json:"display_id"`
	DeviceType      string    `json:"device_type"`
	LastSeen        time.Time `json:"last_seen"`
	IsCurrentDevice bool      `json:"is_current_device"`
}

type DeviceList struct {
	Devices    []DeviceRecord `json:"devices"`
	MaxDevices int            `json:"max_devices"`
}

// ErrorResponse is the generic error body returned by the mining API.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}
