package stream

import "time"

// BackoffPolicy controls reconnect pacing. Disconnects closer together than
// Threshold form a burst; inside a burst the first reconnect is immediate and
// each later one waits twice as long as the previous, up to Max. A calm
// disconnect resets the wait to Min.
type BackoffPolicy struct {
	Threshold time.Duration
	Min       time.Duration
	Max       time.Duration
}

// DefaultBackoffPolicy returns the 5s / 1s / 60s policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Threshold: 5 * time.Second,
		Min:       time.Second,
		Max:       60 * time.Second,
	}
}

// Backoff is the reconnect state carried between connections.
type Backoff struct {
	LastDisconnect  time.Time
	HasDisconnected bool
	Interval        time.Duration
	BurstCount      int
}

// Next records a disconnect observed at now and returns the new state and
// how long to wait before reconnecting.
func (p BackoffPolicy) Next(b Backoff, now time.Time) (Backoff, time.Duration) {
	var wait time.Duration
	if b.HasDisconnected && now.Sub(b.LastDisconnect) <= p.Threshold {
		if b.BurstCount != 0 {
			if b.Interval < p.Min {
				b.Interval = p.Min
			}
			b.Interval = min(2*b.Interval, p.Max)
			wait = b.Interval
		}
		b.BurstCount++
	} else {
		b.Interval = p.Min
		b.BurstCount = 0
	}
	b.LastDisconnect = now
	b.HasDisconnected = true
	return b, wait
}
