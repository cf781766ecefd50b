package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"time"

	"warden/internal/types"
)

// ErrUnsupported is returned by a capability provider that cannot serve on this host.
var ErrUnsupported = errors.New("capability not supported")

// Collector derives one fingerprint facet. Implementations must honour ctx.
type Collector interface {
	Name() string
	Collect(ctx context.Context) types.Signal
}

// AddressCollector harvests candidate network addresses.
type AddressCollector interface {
	Name() string
	Discover(ctx context.Context) []string
}

type Point struct{ X, Y float64 }

// Surface is an off-screen 2D drawing target.
type Surface interface {
	FillRect(x, y, w, h float64, c color.Color)
	FillGradient(x, y, w, h float64, from, to color.Color)
	FillCircle(cx, cy, r float64, c color.Color)
	FillText(text, font string, x, y, angle float64, c color.Color)
	StrokeBezier(p0, p1, p2, p3 Point, width float64, c color.Color)
	Blend(x, y int, c color.NRGBA)
	Export() ([]byte, error)
}

type SurfaceFactory interface {
	NewSurface(w, h int) (Surface, error)
}

type GraphicsPipeline interface {
	// DebugInfo reports the unmasked vendor and renderer when the pipeline exposes them.
	DebugInfo() (vendor, renderer string, ok bool)
	Limit(name string) (int, bool)
	Extensions() []string
	RenderTriangle(w, h int, vertices [6]float32) ([]byte, error)
}

type AudioGraph interface {
	// Snapshot drives a muted oscillator at freq through an analyser and
	// returns the frequency bins once the first frame is available.
	Snapshot(ctx context.Context, freq float64) ([]float32, error)
	Close() error
}

type AudioPipeline interface {
	NewGraph() (AudioGraph, error)
}

type TextMeasurer interface {
	// Measure lays out text with the first resolvable family in the stack.
	Measure(text string, families []string, size float64) (w, h float64, err error)
}

type PeerConnector interface {
	Open(ctx context.Context, servers []string) (PeerSession, error)
}

// PeerSession yields raw ICE candidate lines; the channel closes when gathering completes.
type PeerSession interface {
	Candidates() <-chan string
	Close() error
}

// Host exposes the passive, synchronous environment facts.
type Host interface {
	Environment() types.Environment
	UserAgent() string
}

// settle runs c under budget and always returns a signal: panics become
// SignalError and an exceeded budget becomes SignalTimeout.
func settle(ctx context.Context, c Collector, budget time.Duration) types.Signal {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan types.Signal, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.Failed(fmt.Sprint(r))
			}
		}()
		done <- c.Collect(ctx)
	}()

	select {
	case sig := <-done:
		return sig
	case <-ctx.Done():
		return types.TimedOut()
	}
}

// discoverGrace lets a collector hand back what it gathered after its own deadline fired.
const discoverGrace = 250 * time.Millisecond

func discover(ctx context.Context, c AddressCollector, budget time.Duration) (addrs []string) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	hard := time.NewTimer(budget + discoverGrace)
	defer hard.Stop()

	done := make(chan []string, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- []string{}
			}
		}()
		done <- c.Discover(ctx)
	}()

	select {
	case addrs = <-done:
	case <-hard.C:
	}
	if addrs == nil {
		addrs = []string{}
	}
	return addrs
}
