package fingerprint

import (
	"context"
	"math"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"warden/internal/types"
)

// Measurements are the raw timing facts, in milliseconds where applicable.
type Measurements struct {
	Float           float64
	Integer         float64
	Churn           float64
	Sort            float64
	TimerResolution float64
	Concurrency     int
	MemoryGB        float64
}

type TimingCollector struct {
	Host   Host
	Hasher Hasher
	Now    func() time.Time
}

func (t *TimingCollector) Name() string { return "timing" }

func (t *TimingCollector) Collect(ctx context.Context) types.Signal {
	m, err := Measure(ctx)
	if err != nil {
		return types.TimedOut()
	}
	if t.Host != nil {
		env := t.Host.Environment()
		m.Concurrency = env.Hardware.Concurrency
		m.MemoryGB = env.Hardware.MemoryGB
	}
	return types.Hashed(TimingSignature(m, DayKey(now(t.Now)), t.Hasher))
}

// TimingSignature rounds every measurement to 2 decimals and salts with dayKey.
func TimingSignature(m Measurements, dayKey string, h Hasher) string {
	fields := []string{
		round2(m.Float),
		round2(m.Integer),
		round2(m.Churn),
		round2(m.Sort),
		round2(m.TimerResolution),
		strconv.Itoa(m.Concurrency),
		round2(m.MemoryGB),
		dayKey,
	}
	return h.String(strings.Join(fields, "|"))
}

func round2(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

// Measure runs the four fixed workloads and probes timer resolution.
func Measure(ctx context.Context) (Measurements, error) {
	var m Measurements
	var sink float64
	workloads := []struct {
		dst *float64
		run func() float64
	}{
		{&m.Float, floatWorkload},
		{&m.Integer, integerWorkload},
		{&m.Churn, churnWorkload},
		{&m.Sort, sortWorkload},
	}
	for _, w := range workloads {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		start := time.Now()
		sink += w.run()
		*w.dst = millis(time.Since(start))
	}
	runtime.KeepAlive(sink)
	m.TimerResolution = timerResolution()
	return m, nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func floatWorkload() float64 {
	var acc float64
	for i := 1; i <= 100_000; i++ {
		x := float64(i)
		acc += math.Sin(x) * math.Cos(x) * math.Sqrt(x)
	}
	return acc
}

func integerWorkload() float64 {
	var acc int64
	for i := int64(0); i < 1_000_000; i++ {
		acc += (i * i) % 7
	}
	return float64(acc)
}

type node struct {
	id       int
	children []*node
}

// churnWorkload builds and tears down a node tree, the host analogue of DOM churn.
func churnWorkload() float64 {
	root := &node{}
	index := make(map[int]*node, 1000)
	for i := 0; i < 1000; i++ {
		n := &node{id: i}
		parent := root
		if i > 0 {
			parent = index[i/4]
		}
		parent.children = append(parent.children, n)
		index[i] = n
	}
	for i := 999; i >= 0; i -= 2 {
		delete(index, i)
	}
	return float64(len(index) + len(root.children))
}

func sortWorkload() float64 {
	values := make([]float64, 100_000)
	seed := uint32(2166136261)
	for i := range values {
		seed = seed*1664525 + 1013904223
		values[i] = float64(seed) / math.MaxUint32
	}
	slices.Sort(values)
	return values[len(values)/2]
}

// timerResolution is the smallest positive step of the monotonic clock, in ms.
func timerResolution() float64 {
	best := time.Duration(math.MaxInt64)
	for i := 0; i < 1000; i++ {
		a := time.Now()
		b := time.Now()
		for b.Sub(a) == 0 {
			b = time.Now()
		}
		if d := b.Sub(a); d < best {
			best = d
		}
	}
	return millis(best)
}
