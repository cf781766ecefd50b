package handlers

import (
	"net"
	"strings"

	"warden/internal/types"
)

// Violation tags the simulator can raise.
const (
	TagBlacklistedIP = "blacklisted_ip"
	TagBannedGeo     = "banned_geo_location"
	TagProxy         = "proxy_detected"
	TagTamper        = "tamper_detected"
	TagIncomplete    = "fingerprint_incomplete"
	TagDeviceLimit   = "device_limit_exceeded"
	TagSharedDevice  = "shared_device"
)

// assessment is the simulator's reading of one check request.
type assessment struct {
	Score      int
	Violations []string
	Details    map[string]any
	Banned     bool
}

func (a *assessment) add(tag string, weight int) {
	a.Score += weight
	for _, v := range a.Violations {
		if v == tag {
			return
		}
	}
	a.Violations = append(a.Violations, tag)
}

type riskInput struct {
	Request     *types.CheckRequest
	RemoteIP    string
	Country     string
	Owner       string
	User        string
	KnownDevice bool
	DeviceCount int
}

// assess scores a check request with the configured suspicion weights. The
// rules are a stand-in for a real risk engine, enough to drive every verdict
// the client has to handle.
func (s *Server) assess(in riskInput) assessment {
	w := s.Cfg.SuspicionWeights
	a := assessment{Details: map[string]any{}}

	ips := []string{in.RemoteIP}
	if in.Request.ClientIP != "" && in.Request.ClientIP != in.RemoteIP {
		ips = append(ips, in.Request.ClientIP)
	}
	for _, ip := range ips {
		if matchAny(ip, s.Cfg.BlacklistedIPs) {
			a.add(TagBlacklistedIP, w["blacklisted_ip"])
			a.Details["blacklisted_ip"] = ip
			a.Banned = true
		}
		if matchAny(ip, s.Cfg.ProxyIPs) {
			a.add(TagProxy, w["proxy_ip"])
			a.Details["proxy_ip"] = ip
		}
	}

	if in.Country != "" {
		for _, banned := range s.Cfg.BannedGeoLocations {
			if strings.EqualFold(in.Country, banned) {
				a.add(TagBannedGeo, w["banned_geo"])
				a.Details["country"] = in.Country
			}
		}
	}

	if in.Request.TamperDetected {
		a.add(TagTamper, w["tamper_detected"])
	}

	fp := in.Request.Fingerprint
	missing := []string{}
	for name, sig := range map[string]types.Signal{
		"canvas":   fp.Canvas,
		"graphics": fp.Graphics,
		"audio":    fp.Audio,
		"fonts":    fp.Fonts,
		"timing":   fp.Timing,
	} {
		if !sig.OK() {
			missing = append(missing, name)
			a.Score += w["missing_signal"]
		}
	}
	if len(missing) >= 3 {
		a.add(TagIncomplete, 0)
		a.Details["missing_signals"] = len(missing)
	}
	if len(fp.CandidateAddresses) == 0 {
		a.Score += w["no_candidate_addr"]
	}

	if in.Owner != "" && in.Owner != in.User {
		a.add(TagSharedDevice, w["shared_device"])
	}
	if !in.KnownDevice && in.DeviceCount >= s.Cfg.MaxDevices {
		a.add(TagDeviceLimit, w["device_limit"])
		a.Details["max_devices"] = s.Cfg.MaxDevices
	}

	if a.Score > 100 {
		a.Score = 100
	}
	return a
}

// matchAny reports whether ip equals an entry or falls in a CIDR entry.
func matchAny(ip string, list []string) bool {
	parsed := net.ParseIP(ip)
	for _, entry := range list {
		if entry == ip {
			return true
		}
		if !strings.Contains(entry, "/") || parsed == nil {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil && ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

// decide turns an assessment into a verdict. warnings is how many warnings
// the account has already received.
func (s *Server) decide(a assessment, warnings int) types.Verdict {
	score := float64(a.Score)
	v := types.Verdict{
		Status:     types.StatusViolation,
		RiskScore:  &score,
		Violations: a.Violations,
		Details:    a.Details,
	}
	switch {
	case a.Banned && warnings > 0:
		v.PenaltyType = types.PenaltyPermanentBanAfterWarning
		v.Message = "Mining has been permanently disabled for this account."
	case a.Banned:
		v.PenaltyType = types.PenaltyPermanentBan
		v.Message = "Mining has been permanently disabled for this account."
	case score >= s.Cfg.BlockThreshold:
		v.PenaltyType = types.PenaltyMiningBlock
		v.Message = "Mining is blocked for this device."
	case score >= s.Cfg.WarnThreshold && len(a.Violations) > 0:
		if warnings > 0 {
			v.PenaltyType = types.PenaltyMiningBlock
			v.Message = "Mining is blocked after a previous warning."
		} else {
			v.PenaltyType = types.PenaltyWarning
			v.Message = "Suspicious activity detected. Further violations will block mining."
		}
	default:
		return types.Verdict{Status: types.StatusSuccess, RiskScore: &score, PenaltyType: types.PenaltyNone}
	}
	return v
}
