package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDelayGrowth(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: time.Minute, MaxAttempts: 5}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 32 * time.Second},
		{5, time.Minute}, // capped
		{6, time.Minute},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, p.Delay(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestPolicyDelayNonDecreasing(t *testing.T) {
	p := DefaultPolicy()
	prev := time.Duration(0)
	for n := 0; n < 50; n++ {
		d := p.Delay(n)
		require.GreaterOrEqual(t, d, prev, "delay shrank at attempt %d", n)
		require.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
}

func TestPolicyDelayNegativeAttempts(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, p.BaseDelay, p.Delay(-3))
}

func TestPolicyExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 5}
	assert.False(t, p.Exhausted(4))
	assert.False(t, p.Exhausted(5))
	assert.True(t, p.Exhausted(6))
}
