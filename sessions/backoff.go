package sessions

import (
	"math"
	"time"
)

// Policy is the reconnect policy: a pure mapping from attempt count to
// delay, with a cap and a give-up threshold. Deliberately deterministic
// (no jitter) so delay growth is monotonic and exactly testable.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int

	// RestartDelay is the fixed delay used when the remote side requests a
	// restart; it never grows and does not count against MaxAttempts.
	RestartDelay time.Duration
}

// DefaultPolicy mirrors the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    2 * time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
		MaxAttempts:  5,
		RestartDelay: time.Second,
	}
}

// Delay returns min(BaseDelay * Multiplier^attempts, MaxDelay).
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts))
	if d < 0 || d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether the tenant has used up its retry budget and the
// session must surface a permanent failure instead of scheduling another
// attempt.
func (p Policy) Exhausted(attempts int) bool {
	return attempts > p.MaxAttempts
}
