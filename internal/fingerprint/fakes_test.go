package fingerprint

import (
	"context"
	"image/color"
	"sync/atomic"
	"time"

	"warden/internal/types"
)

type staticCollector struct {
	name string
	sig  types.Signal
}

func (s *staticCollector) Name() string                         { return s.name }
func (s *staticCollector) Collect(context.Context) types.Signal { return s.sig }

type panicCollector struct{}

func (panicCollector) Name() string                         { return "panic" }
func (panicCollector) Collect(context.Context) types.Signal { panic("probe exploded") }

type slowCollector struct{ delay time.Duration }

func (s *slowCollector) Name() string { return "slow" }
func (s *slowCollector) Collect(ctx context.Context) types.Signal {
	time.Sleep(s.delay)
	return types.Hashed("late")
}

type fakeHost struct{}

func (fakeHost) UserAgent() string { return "warden-test/1.0" }
func (fakeHost) Environment() types.Environment {
	var env types.Environment
	env.Screen.Width, env.Screen.Height = 1920, 1080
	env.Hardware.Concurrency = 8
	env.Hardware.MemoryGB = 16
	env.Hardware.Platform = "linux"
	env.Timezone = "UTC"
	env.Features = map[string]bool{"touch": false}
	return env
}

type fakeSession struct {
	lines  chan string
	closed atomic.Bool
}

func (f *fakeSession) Candidates() <-chan string { return f.lines }
func (f *fakeSession) Close() error              { f.closed.Store(true); return nil }

type fakeConnector struct {
	session *fakeSession
	err     error
}

func (f *fakeConnector) Open(context.Context, []string) (PeerSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type recordingSurface struct {
	ops     int
	blendAt [2]int
	blendC  color.NRGBA
}

func (r *recordingSurface) FillRect(x, y, w, h float64, c color.Color)                 { r.ops++ }
func (r *recordingSurface) FillGradient(x, y, w, h float64, from, to color.Color)      { r.ops++ }
func (r *recordingSurface) FillCircle(cx, cy, rad float64, c color.Color)              { r.ops++ }
func (r *recordingSurface) FillText(text, font string, x, y, a float64, c color.Color) { r.ops++ }
func (r *recordingSurface) StrokeBezier(p0, p1, p2, p3 Point, w float64, c color.Color) {
	r.ops++
}
func (r *recordingSurface) Blend(x, y int, c color.NRGBA) {
	r.blendAt = [2]int{x, y}
	r.blendC = c
}
func (r *recordingSurface) Export() ([]byte, error) {
	return []byte{byte(r.ops), byte(r.blendAt[0]), byte(r.blendAt[1]), r.blendC.A}, nil
}

type recordingFactory struct{ last *recordingSurface }

func (f *recordingFactory) NewSurface(w, h int) (Surface, error) {
	f.last = &recordingSurface{}
	return f.last, nil
}
