package device

import (
	"context"
	"errors"
	"math"
	"sync"

	"warden/internal/fingerprint"
)

const (
	sampleRate = 44100
	fftSize    = 2048
)

var errGraphClosed = errors.New("audio graph closed")

// SynthAudio renders the oscillator-to-analyser graph in software.
type SynthAudio struct{}

func (SynthAudio) NewGraph() (fingerprint.AudioGraph, error) {
	return &synthGraph{}, nil
}

type synthGraph struct {
	mu     sync.Mutex
	closed bool
}

// Snapshot computes one analyser frame of a triangle oscillator. The output
// gain is zero, so only the analyser tap observes the signal.
func (g *synthGraph) Snapshot(ctx context.Context, freq float64) ([]float32, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, errGraphClosed
	}

	samples := make([]float64, fftSize)
	for i := range samples {
		phase := math.Mod(float64(i)*freq/sampleRate, 1)
		samples[i] = (4*math.Abs(phase-0.5) - 1) * blackman(i, fftSize)
	}

	cos, sin := make([]float64, fftSize), make([]float64, fftSize)
	for i := range cos {
		sin[i], cos[i] = math.Sincos(2 * math.Pi * float64(i) / fftSize)
	}

	bins := make([]float32, fftSize/2)
	for k := range bins {
		if k%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var re, im float64
		for n, x := range samples {
			idx := (k * n) % fftSize
			re += x * cos[idx]
			im -= x * sin[idx]
		}
		mag := math.Hypot(re, im) / fftSize
		if mag < 1e-10 {
			mag = 1e-10
		}
		bins[k] = float32(20 * math.Log10(mag))
	}
	return bins, nil
}

func (g *synthGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func blackman(i, n int) float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	x := 2 * math.Pi * float64(i) / float64(n)
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
}
