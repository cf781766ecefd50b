package fingerprint

import (
	"context"
	"testing"
	"time"

	"warden/internal/types"
)

func fullProviders() *Providers {
	return &Providers{
		Canvas:   &staticCollector{name: "canvas", sig: types.Hashed("c1")},
		Graphics: &staticCollector{name: "graphics", sig: types.Hashed("g1")},
		Audio:    &staticCollector{name: "audio", sig: types.Unsupported("no audio")},
		Fonts:    &staticCollector{name: "fonts", sig: types.Hashed("f1")},
		Timing:   &staticCollector{name: "timing", sig: types.Hashed("t1")},
		Network:  &NetworkCollector{Connector: &fakeConnector{session: closedSession("candidate:1 1 udp 2122260223 192.168.1.20 54321 typ host")}},
		Host:     fakeHost{},
	}
}

func closedSession(lines ...string) *fakeSession {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return &fakeSession{lines: ch}
}

func TestAggregator_EveryFacetPresentWithoutProviders(t *testing.T) {
	for name, p := range map[string]*Providers{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			agg := NewAggregator(p, Options{})
			fp, tampered := agg.Collect(context.Background())
			if fp == nil {
				t.Fatalf("expected a payload")
			}
			for facet, sig := range map[string]types.Signal{
				"canvas": fp.Canvas, "graphics": fp.Graphics, "audio": fp.Audio, "fonts": fp.Fonts, "timing": fp.Timing,
			} {
				if sig.String() != types.SentinelUnsupported {
					t.Fatalf("%s: expected %q, got %q", facet, types.SentinelUnsupported, sig)
				}
			}
			if fp.CandidateAddresses == nil {
				t.Fatalf("expected non-nil candidate address set")
			}
			if fp.Environment.Features == nil {
				t.Fatalf("expected feature map to be populated")
			}
			if !tampered {
				t.Fatalf("expected an incomplete provider set to fail attestation")
			}
		})
	}
}

func TestAggregator_PanicAndTimeoutBecomeSentinels(t *testing.T) {
	p := fullProviders()
	p.Canvas = panicCollector{}
	p.Audio = &slowCollector{delay: 500 * time.Millisecond}

	agg := NewAggregator(p, Options{
		DefaultBudget: time.Second,
		Budgets:       map[string]time.Duration{"audio": 20 * time.Millisecond},
	})

	start := time.Now()
	fp, _ := agg.Collect(context.Background())
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("slow collector held the batch for %v", elapsed)
	}
	if fp.Canvas.String() != types.SentinelError {
		t.Fatalf("expected error sentinel for panicking collector, got %q", fp.Canvas)
	}
	if fp.Audio.String() != types.SentinelTimeout {
		t.Fatalf("expected timeout sentinel, got %q", fp.Audio)
	}
	if fp.Graphics.String() != "g1" || fp.Timing.String() != "t1" {
		t.Fatalf("healthy collectors were affected: %+v", fp)
	}
}

func TestAggregator_MergesEnvironmentAndAddresses(t *testing.T) {
	p := fullProviders()
	agg := NewAggregator(p, Options{TrustedDigest: ManifestDigest(p)})

	fp, tampered := agg.Collect(context.Background())
	if tampered {
		t.Fatalf("expected sealed provider set to verify")
	}
	if fp.UserAgent != "warden-test/1.0" {
		t.Fatalf("user agent not merged: %q", fp.UserAgent)
	}
	if fp.Environment.Screen.Width != 1920 || !fp.Environment.Features["canvas"] {
		t.Fatalf("environment not merged: %+v", fp.Environment)
	}
	if len(fp.CandidateAddresses) != 1 || fp.CandidateAddresses[0] != "192.168.1.20" {
		t.Fatalf("unexpected addresses: %v", fp.CandidateAddresses)
	}
	if fp.CollectedAt.IsZero() {
		t.Fatalf("expected collection timestamp")
	}
}

func TestAggregator_DetectsSwappedProvider(t *testing.T) {
	p := fullProviders()
	agg := NewAggregator(p, Options{TrustedDigest: ManifestDigest(p)})

	p.Canvas = &staticCollector{name: "canvas", sig: types.Hashed("forged")}
	if _, tampered := agg.Collect(context.Background()); !tampered {
		t.Fatalf("expected replaced collector to be reported as tampering")
	}
}
