package fingerprint

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"warden/internal/types"
)

func TestCanvasCollector_PerturbationFollowsDay(t *testing.T) {
	f := &recordingFactory{}
	day := func(d int) func() time.Time {
		return func() time.Time { return time.Date(2026, 10, d, 12, 0, 0, 0, time.UTC) }
	}

	c := &CanvasCollector{Surfaces: f, Hasher: Hasher{Secure: true}, Now: day(16)}
	first := c.Collect(context.Background())
	if f.last.blendC.A != perturbationAlpha {
		t.Fatalf("expected near-invisible alpha, got %d", f.last.blendC.A)
	}
	if again := c.Collect(context.Background()); again != first {
		t.Fatalf("expected same-day signature to repeat")
	}

	c.Now = day(17)
	if next := c.Collect(context.Background()); next == first {
		t.Fatalf("expected a different day to move the perturbation pixel")
	}
}

func TestPerturbationPoint_DistinctPerDay(t *testing.T) {
	seen := map[[2]int]int{}
	for d := 1; d <= 31; d++ {
		x, y := perturbationPoint(d)
		if x < 0 || x >= CanvasWidth || y < 0 || y >= CanvasHeight {
			t.Fatalf("day %d: point (%d,%d) outside surface", d, x, y)
		}
		if prev, dup := seen[[2]int{x, y}]; dup {
			t.Fatalf("days %d and %d share a perturbation point", prev, d)
		}
		seen[[2]int{x, y}] = d
	}
}

type unsupportedFactory struct{}

func (unsupportedFactory) NewSurface(int, int) (Surface, error) { return nil, ErrUnsupported }

func TestCanvasCollector_Unsupported(t *testing.T) {
	for _, c := range []*CanvasCollector{{}, {Surfaces: unsupportedFactory{}}} {
		if sig := c.Collect(context.Background()); sig.Kind != types.SignalUnsupported {
			t.Fatalf("expected unsupported, got %v", sig)
		}
	}
}

type fakeGraph struct {
	block  bool
	bins   []float32
	closed *atomic.Int32
}

func (g *fakeGraph) Snapshot(ctx context.Context, freq float64) ([]float32, error) {
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.bins, nil
}

func (g *fakeGraph) Close() error { g.closed.Add(1); return nil }

type fakeAudio struct{ graph *fakeGraph }

func (a *fakeAudio) NewGraph() (AudioGraph, error) { return a.graph, nil }

func TestAudioCollector_ReleasesGraphOnEveryPath(t *testing.T) {
	var closed atomic.Int32

	ok := &AudioCollector{Pipeline: &fakeAudio{graph: &fakeGraph{bins: []float32{-100.5, -98.25}, closed: &closed}}, Hasher: Hasher{Secure: true}}
	if sig := ok.Collect(context.Background()); !sig.OK() {
		t.Fatalf("expected hash, got %v", sig)
	}

	slow := &AudioCollector{Pipeline: &fakeAudio{graph: &fakeGraph{block: true, closed: &closed}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if sig := slow.Collect(ctx); sig.Kind != types.SignalTimeout {
		t.Fatalf("expected timeout, got %v", sig)
	}

	empty := &AudioCollector{Pipeline: &fakeAudio{graph: &fakeGraph{closed: &closed}}}
	if sig := empty.Collect(context.Background()); sig.Kind != types.SignalError {
		t.Fatalf("expected error for empty snapshot, got %v", sig)
	}

	if closed.Load() != 3 {
		t.Fatalf("expected graph closed on all 3 paths, got %d", closed.Load())
	}
}

// tableMeasurer knows the widths of a few families; unknown families fall through the stack.
type tableMeasurer map[string]float64

func (m tableMeasurer) Measure(text string, families []string, size float64) (float64, float64, error) {
	for _, f := range families {
		if w, ok := m[f]; ok {
			return w, size, nil
		}
	}
	return 0, 0, errors.New("no family resolved")
}

func TestFontCollector_DetectsFontsDifferingFromEveryBaseline(t *testing.T) {
	m := tableMeasurer{
		"monospace":  600,
		"sans-serif": 520,
		"serif":      500,
		"Arial":      530,
		// Same width as the serif baseline, so it cannot be told apart there.
		"Georgia": 500,
	}
	f := &FontCollector{Measurer: m, Catalog: []string{"Arial", "Georgia", "Missing"}}
	present, err := f.Present(context.Background())
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	if len(present) != 1 || present[0] != "Arial" {
		t.Fatalf("unexpected fonts: %v", present)
	}

	sig := f.Collect(context.Background())
	if sig.Hash != f.Hasher.String("Arial") {
		t.Fatalf("expected hash of pipe-joined list, got %v", sig)
	}
}

func TestNetworkCollector_DedupesAndCloses(t *testing.T) {
	sess := closedSession(
		"candidate:1 1 udp 2122260223 192.168.1.20 54321 typ host",
		"candidate:2 1 udp 1686052607 203.0.113.7 40000 typ srflx raddr 192.168.1.20 rport 54321",
		"candidate:3 1 udp 2122194687 fe80:0000:0000:0000:1c2d:3e4f:5a6b:7c8d 54322 typ host",
	)
	n := &NetworkCollector{Connector: &fakeConnector{session: sess}}
	got := n.Discover(context.Background())
	want := []string{"192.168.1.20", "203.0.113.7", "fe80:0000:0000:0000:1c2d:3e4f:5a6b:7c8d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !sess.closed.Load() {
		t.Fatalf("expected peer session to be closed")
	}
}

func TestNetworkCollector_ClosesOnTimeout(t *testing.T) {
	sess := &fakeSession{lines: make(chan string)}
	n := &NetworkCollector{Connector: &fakeConnector{session: sess}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if got := n.Discover(ctx); got == nil || len(got) != 0 {
		t.Fatalf("expected empty, non-nil set, got %v", got)
	}
	if !sess.closed.Load() {
		t.Fatalf("expected peer session to be closed after the deadline")
	}
}

func TestNetworkCollector_OpenFailureYieldsEmptySet(t *testing.T) {
	n := &NetworkCollector{Connector: &fakeConnector{err: errors.New("blocked")}}
	if got := n.Discover(context.Background()); got == nil || len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}
