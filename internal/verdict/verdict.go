// Package verdict turns server verdicts into something a person can act on.
// It never changes a verdict, it only describes one.
package verdict

import (
	"fmt"
	"strings"

	"warden/internal/types"
)

// Explanation is the display content for one violation tag.
type Explanation struct {
	Tag         string
	Description string
	Explanation string
	Remediation string

	// Network marks VPN, proxy and relay related findings.
	Network bool
	// LikelyFalsePositive is set when the conflicting origin was a loopback address.
	LikelyFalsePositive bool
}

type entry struct {
	description, explanation, remediation string
}

var catalog = map[string]entry{
	"multiple_accounts": {
		"Multiple accounts detected",
		"This device has been used to mine from more than one account.",
		"Mine from a single account per device. Contact support if the device is shared legitimately.",
	},
	"shared_device": {
		"Device linked to another account",
		"The device fingerprint matches a device already registered to a different account.",
		"Remove the device from the other account, or contact support to have the link reviewed.",
	},
	"device_limit_exceeded": {
		"Too many devices",
		"Your account has reached the maximum number of devices allowed to mine.",
		"Remove a device you no longer use from the device list, then try again.",
	},
	"ip_conflict": {
		"Network address shared with other accounts",
		"Your network address has recently been used by other mining accounts.",
		"Mine from your usual home or mobile network rather than a shared one.",
	},
	"blacklisted_ip": {
		"Blocked network address",
		"Your network address is on a list of addresses known for abuse.",
		"Switch to a different network. If you believe this is wrong, contact support with your address.",
	},
	"banned_geo_location": {
		"Region not supported",
		"Mining is not available from the region your connection appears to originate from.",
		"Mining can only be used from supported regions.",
	},
	"tamper_detected": {
		"Client integrity check failed",
		"The app's fingerprint collectors did not match the ones it was built with.",
		"Reinstall the app from an official source and disable extensions that modify it.",
	},
	"automation_detected": {
		"Automated activity detected",
		"The timing of your requests looks like a script rather than a person.",
		"Stop any automation tools and start mining manually.",
	},
	"fingerprint_incomplete": {
		"Device check incomplete",
		"Too few device signals could be collected to recognise this device.",
		"Allow the app the permissions it requests and try again.",
	},
	"timezone_mismatch": {
		"Location mismatch",
		"Your device clock and your network location point to different regions.",
		"Set your device to the correct time zone, or disconnect from remote networks.",
	},
	"rapid_requests": {
		"Too many attempts",
		"Mining was attempted many times in a short period.",
		"Wait a few minutes before trying again.",
	},
}

var networkEntry = entry{
	"VPN or proxy detected",
	"Your connection is routed through a VPN, proxy or anonymising relay, which hides the network your device is really on.",
	"Disconnect from the VPN or proxy and start mining again from your normal connection.",
}

var fallback = entry{
	"Security check failed",
	"Our security checks flagged this mining attempt.",
	"Try again later. If the problem persists, contact support.",
}

// Explain describes a single tag. Details may carry the offending addresses.
func Explain(tag string, details map[string]any) Explanation {
	key := normalize(tag)
	e, ok := catalog[key]
	network := isNetworkTag(key)
	switch {
	case network:
		e = networkEntry
	case !ok:
		e = fallback
	}

	out := Explanation{
		Tag:         tag,
		Description: e.description,
		Explanation: e.explanation,
		Remediation: e.remediation,
		Network:     network,
	}
	if (key == "ip_conflict" || network) && loopbackOrigin(details) {
		out.LikelyFalsePositive = true
		out.Explanation = "The conflicting address was a loopback address (localhost), which usually means a local development or security tool rather than another person."
		out.Remediation = "This is likely a false positive. Close local proxies or developer tools and try again, or contact support."
	}
	return out
}

// ExplainVerdict describes every violation of v once, in the server's order.
func ExplainVerdict(v *types.Verdict) []Explanation {
	if v == nil || len(v.Violations) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(v.Violations))
	out := make([]Explanation, 0, len(v.Violations))
	for _, tag := range v.Violations {
		key := normalize(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Explain(tag, v.Details))
	}
	return out
}

func normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(tag)
}

func isNetworkTag(key string) bool {
	for _, marker := range []string{"vpn", "proxy", "tor_", "relay", "datacenter"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return key == "tor"
}

func loopbackOrigin(details map[string]any) bool {
	for _, v := range details {
		if containsLoopback(v) {
			return true
		}
	}
	return false
}

func containsLoopback(v any) bool {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(t)
		return strings.Contains(s, "localhost") || strings.HasPrefix(s, "127.") || s == "::1" || strings.Contains(s, "[::1]")
	case []any:
		for _, item := range t {
			if containsLoopback(item) {
				return true
			}
		}
	case []string:
		for _, item := range t {
			if containsLoopback(item) {
				return true
			}
		}
	case fmt.Stringer:
		return containsLoopback(t.String())
	}
	return false
}
