package fingerprint

import (
	"context"
	"sync"
	"testing"
)

func TestTimingSignature_DayKeyChangesHash(t *testing.T) {
	m := Measurements{Float: 3.14159, Integer: 2.5, Churn: 0.42, Sort: 7.1, TimerResolution: 0.01, Concurrency: 8, MemoryGB: 16}
	h := Hasher{Secure: true}

	day1 := TimingSignature(m, "2026-10-15", h)
	day2 := TimingSignature(m, "2026-10-16", h)
	if day1 == day2 {
		t.Fatalf("expected different signatures for different day keys")
	}
	if again := TimingSignature(m, "2026-10-15", h); again != day1 {
		t.Fatalf("expected same-day signature to be stable")
	}
}

func TestTimingSignature_RoundingCollapsesNearEqualTimings(t *testing.T) {
	h := Hasher{Secure: true}
	a := Measurements{Float: 1.234, Integer: 5.001, Churn: 0.1, Sort: 2}
	b := Measurements{Float: 1.2349, Integer: 4.9951, Churn: 0.1049, Sort: 2.004}
	if TimingSignature(a, "d", h) != TimingSignature(b, "d", h) {
		t.Fatalf("expected measurements equal at 2 decimals to hash identically")
	}

	c := a
	c.Float = 1.236
	if TimingSignature(a, "d", h) == TimingSignature(c, "d", h) {
		t.Fatalf("expected a change at the second decimal to alter the hash")
	}
}

func TestTimingCollector_ProducesHash(t *testing.T) {
	c := &TimingCollector{Host: fakeHost{}, Hasher: Hasher{Secure: true}}
	sig := c.Collect(context.Background())
	if !sig.OK() {
		t.Fatalf("expected a hash, got %v (%s)", sig, sig.Reason)
	}
}

func TestMeasure_ConcurrentCallsShareNoState(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := Measure(context.Background())
			if err == nil && m.Float < 0 {
				t.Errorf("negative float workload time: %v", m.Float)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Measure: %v", err)
		}
	}
}

func TestTimingCollector_CancelledContextTimesOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &TimingCollector{Hasher: Hasher{}}
	if sig := c.Collect(ctx); sig.String() != "timeout" {
		t.Fatalf("expected timeout sentinel, got %s", sig)
	}
}
