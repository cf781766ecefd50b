package device

import (
	"time"

	"github.com/sirupsen/logrus"

	"warden/internal/config"
	"warden/internal/fingerprint"
)

// trustedDigest may be pinned at build time:
//
//	go build -ldflags "-X warden/internal/device.trustedDigest=<digest>"
var trustedDigest string

// shippedManifest declares the provider types this binary is built with. The
// default trusted digest comes from this list, not from the live providers,
// so a provider swapped in at construction no longer attests itself.
var shippedManifest = map[string]string{
	"canvas":   "*fingerprint.CanvasCollector",
	"graphics": "*fingerprint.GraphicsCollector",
	"audio":    "*fingerprint.AudioCollector",
	"fonts":    "*fingerprint.FontCollector",
	"timing":   "*fingerprint.TimingCollector",
	"network":  "*fingerprint.NetworkCollector",
	"host":     "device.RuntimeHost",
}

// NewProviders wires the software capability providers into a provider set.
func NewProviders(cfg config.CollectionConfig, agent string, log logrus.FieldLogger) *fingerprint.Providers {
	hasher := fingerprint.Hasher{Secure: cfg.SecureDigest}
	host := RuntimeHost{Agent: agent}
	dirs := cfg.FontDirs
	if len(dirs) == 0 {
		dirs = DefaultFontDirs()
	}

	p := &fingerprint.Providers{
		Canvas:   &fingerprint.CanvasCollector{Surfaces: Raster{}, Hasher: hasher, Now: time.Now},
		Graphics: &fingerprint.GraphicsCollector{Pipeline: SoftwarePipeline{}, Hasher: hasher},
		Audio:    &fingerprint.AudioCollector{Pipeline: SynthAudio{}, Hasher: hasher},
		Fonts:    &fingerprint.FontCollector{Measurer: &SystemFonts{Dirs: dirs, Log: log}, Hasher: hasher},
		Timing:   &fingerprint.TimingCollector{Host: host, Hasher: hasher, Now: time.Now},
		Network:  &fingerprint.NetworkCollector{Connector: PeerGatherer{}, Servers: cfg.STUNServers, Log: log},
		Host:     host,
	}
	if cfg.DisableNetwork {
		p.Network = &fingerprint.NetworkCollector{Servers: cfg.STUNServers, Log: log}
	}
	return p
}

// TrustedDigest is the attestation digest of the provider set this binary ships.
func TrustedDigest() string {
	if trustedDigest != "" {
		return trustedDigest
	}
	return fingerprint.DigestOf(shippedManifest)
}

// NewAggregator builds an aggregator over the shipped providers with the
// configured budgets.
func NewAggregator(cfg config.CollectionConfig, agent string, log logrus.FieldLogger) *fingerprint.Aggregator {
	trusted := cfg.TrustedDigest
	if trusted == "" {
		trusted = TrustedDigest()
	}
	return fingerprint.NewAggregator(NewProviders(cfg, agent, log), fingerprint.Options{
		DefaultBudget: cfg.DefaultBudget,
		Budgets: map[string]time.Duration{
			"audio":   cfg.AudioBudget,
			"network": cfg.NetworkBudget,
		},
		TrustedDigest: trusted,
		Log:           log,
	})
}
