package signalws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("join"), "attempt %d should pass", i)
	}
	require.False(t, rl.Allow("join"))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	require.True(t, rl.Allow("join"))
	require.False(t, rl.Allow("join"))
	require.True(t, rl.Allow("renegotiate"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	require.True(t, rl.Allow("join"))
	require.True(t, rl.Allow("join"))
	require.False(t, rl.Allow("join"))

	time.Sleep(60 * time.Millisecond)
	require.True(t, rl.Allow("join"))
}
