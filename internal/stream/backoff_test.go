package stream

import (
	"testing"
	"time"
)

func TestBackoffPolicy_Next(t *testing.T) {
	p := DefaultBackoffPolicy()
	base := time.Date(2019, 4, 11, 0, 0, 0, 0, time.UTC)

	steps := []struct {
		at           time.Duration
		wantWait     time.Duration
		wantInterval time.Duration
		wantBurst    int
	}{
		{0, 0, time.Second, 0},
		{3 * time.Second, 0, time.Second, 1},
		{7 * time.Second, 2 * time.Second, 2 * time.Second, 2},
		{9 * time.Second, 4 * time.Second, 4 * time.Second, 3},
		{40 * time.Second, 0, time.Second, 0},
	}

	var b Backoff
	for i, s := range steps {
		var wait time.Duration
		b, wait = p.Next(b, base.Add(s.at))
		if wait != s.wantWait {
			t.Errorf("step %d (t=%v): wait = %v, want %v", i, s.at, wait, s.wantWait)
		}
		if b.Interval != s.wantInterval {
			t.Errorf("step %d (t=%v): interval = %v, want %v", i, s.at, b.Interval, s.wantInterval)
		}
		if b.BurstCount != s.wantBurst {
			t.Errorf("step %d (t=%v): burst = %d, want %d", i, s.at, b.BurstCount, s.wantBurst)
		}
		if !b.LastDisconnect.Equal(base.Add(s.at)) {
			t.Errorf("step %d: LastDisconnect = %v", i, b.LastDisconnect)
		}
	}
}

func TestBackoffPolicy_CapsAtMax(t *testing.T) {
	p := DefaultBackoffPolicy()
	now := time.Date(2019, 4, 11, 0, 0, 0, 0, time.UTC)

	var (
		b    Backoff
		wait time.Duration
	)
	for i := 0; i < 12; i++ {
		b, wait = p.Next(b, now)
		now = now.Add(time.Second)
	}
	if wait != p.Max || b.Interval != p.Max {
		t.Errorf("wait = %v, interval = %v, want capped at %v", wait, b.Interval, p.Max)
	}
}

func TestBackoffPolicy_ThresholdIsInclusive(t *testing.T) {
	p := DefaultBackoffPolicy()
	now := time.Date(2019, 4, 11, 0, 0, 0, 0, time.UTC)

	b, _ := p.Next(Backoff{}, now)
	b, _ = p.Next(b, now.Add(5*time.Second))
	if b.BurstCount != 1 {
		t.Errorf("BurstCount = %d, want 1 at exactly the threshold", b.BurstCount)
	}
	b, _ = p.Next(b, now.Add(10*time.Second+time.Nanosecond))
	if b.BurstCount != 0 {
		t.Errorf("BurstCount = %d, want reset past the threshold", b.BurstCount)
	}
}
