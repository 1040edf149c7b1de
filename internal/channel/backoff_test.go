package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_ConstantByDefault(t *testing.T) {
	p, err := newPolicy(5*time.Second, BackoffOptions{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, 5*time.Second, p.NextBackOff())
	}
}

func TestPolicy_ExponentialIsCappedAndResets(t *testing.T) {
	p, err := newPolicy(5*time.Second, BackoffOptions{Exponential: true, Max: 30 * time.Second, Multiplier: 2})
	require.NoError(t, err)

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		assert.InDelta(t, float64(w), float64(p.NextBackOff()), float64(time.Millisecond), "attempt %d", i+1)
	}

	p.Reset()
	assert.InDelta(t, float64(5*time.Second), float64(p.NextBackOff()), float64(time.Millisecond))
}

func TestPolicy_JitterStaysInBounds(t *testing.T) {
	p, err := newPolicy(time.Second, BackoffOptions{Exponential: true, Max: 8 * time.Second, Jitter: 0.5})
	require.NoError(t, err)

	base := time.Second
	for i := 0; i < 8; i++ {
		got := p.NextBackOff()
		assert.GreaterOrEqual(t, got, time.Duration(float64(base)*0.5), "attempt %d", i+1)
		assert.LessOrEqual(t, got, min(time.Duration(float64(base)*1.5)+time.Millisecond, 8*time.Second), "attempt %d", i+1)
		base *= 2
		if base > 8*time.Second {
			base = 8 * time.Second
		}
	}
}

func TestPolicy_JitterNeverExceedsMax(t *testing.T) {
	p, err := newPolicy(time.Second, BackoffOptions{Exponential: true, Max: 8 * time.Second, Jitter: 0.5})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		assert.LessOrEqual(t, p.NextBackOff(), 8*time.Second, "attempt %d", i+1)
	}

	p.Reset()
	assert.LessOrEqual(t, p.NextBackOff(), 1500*time.Millisecond+time.Millisecond)
}

func TestPolicy_DefaultsForExponential(t *testing.T) {
	p, err := newPolicy(time.Second, BackoffOptions{Exponential: true})
	require.NoError(t, err)

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = p.NextBackOff()
	}
	assert.InDelta(t, float64(12*time.Second), float64(last), float64(time.Millisecond))
}
