package fingerprint

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"warden/internal/types"
)

type Options struct {
	DefaultBudget time.Duration
	// Budgets overrides DefaultBudget per collector name.
	Budgets map[string]time.Duration
	// TrustedDigest is the attestation digest expected for the provider set.
	TrustedDigest string
	Now           func() time.Time
	Log           logrus.FieldLogger
}

type Aggregator struct {
	live        *Providers
	attestation Attestation
	opts        Options
}

// NewAggregator seals p. Later changes to p are detected by the integrity check.
func NewAggregator(p *Providers, opts Options) *Aggregator {
	if opts.DefaultBudget <= 0 {
		opts.DefaultBudget = 3 * time.Second
	}
	if p == nil {
		p = &Providers{}
	}
	return &Aggregator{live: p, attestation: Seal(p), opts: opts}
}

func (a *Aggregator) Attestation() Attestation { return a.attestation }

// Tampered reports whether the live provider set fails its attestation.
func (a *Aggregator) Tampered() bool {
	return !a.attestation.Verify(a.live, a.opts.TrustedDigest)
}

func (a *Aggregator) budget(name string) time.Duration {
	if d, ok := a.opts.Budgets[name]; ok && d > 0 {
		return d
	}
	return a.opts.DefaultBudget
}

// Collect runs every collector concurrently and merges the settled results.
// It never fails: an absent collector yields Unsupported, an overrun Timeout.
func (a *Aggregator) Collect(ctx context.Context) (*types.Fingerprint, bool) {
	log := logger(a.opts.Log)
	tampered := a.Tampered()
	if tampered {
		log.Warn("Collect: provider attestation failed, submission will be flagged")
	}

	p := a.live
	fp := &types.Fingerprint{CandidateAddresses: []string{}}
	signals := []struct {
		name string
		c    Collector
		dst  *types.Signal
	}{
		{"canvas", p.Canvas, &fp.Canvas},
		{"graphics", p.Graphics, &fp.Graphics},
		{"audio", p.Audio, &fp.Audio},
		{"fonts", p.Fonts, &fp.Fonts},
		{"timing", p.Timing, &fp.Timing},
	}

	var wg sync.WaitGroup
	for _, s := range signals {
		if isNil(s.c) {
			*s.dst = types.Unsupported("collector not provided")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			*s.dst = settle(ctx, s.c, a.budget(s.name))
			log.WithFields(logrus.Fields{
				"collector": s.name,
				"kind":      s.dst.String(),
				"elapsed":   time.Since(started),
			}).Debug("Collect: collector settled")
		}()
	}

	if !isNil(p.Network) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fp.CandidateAddresses = discover(ctx, p.Network, a.budget("network"))
		}()
	}

	// Synchronous environment facts are gathered while the probes run.
	fp.Environment = environment(p)
	if !isNil(p.Host) {
		fp.UserAgent = p.Host.UserAgent()
	}

	wg.Wait()
	fp.CollectedAt = now(a.opts.Now).UTC()
	return fp, tampered
}

func environment(p *Providers) types.Environment {
	var env types.Environment
	if !isNil(p.Host) {
		env = p.Host.Environment()
	}
	features := make(map[string]bool, len(env.Features)+5)
	for k, v := range env.Features {
		features[k] = v
	}
	env.Features = features
	env.Features["canvas"] = !isNil(p.Canvas)
	env.Features["graphics"] = !isNil(p.Graphics)
	env.Features["audio"] = !isNil(p.Audio)
	env.Features["fonts"] = !isNil(p.Fonts)
	env.Features["peer_connection"] = !isNil(p.Network)
	if env.Languages == nil {
		env.Languages = []string{}
	}
	return env
}
