package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replay feeds upstream call results to b: 'f' is a peer fault, 's' a healthy reply.
func replay(b *Breaker, outcomes string) {
	for _, o := range outcomes {
		if o == 'f' {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
	}
}

func TestBreaker_StateAfterOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		opts     []Option
		outcomes string
		open     bool
	}{
		{name: "fresh breaker is closed", outcomes: "", open: false},
		{name: "faults below threshold stay closed", outcomes: "ffff", open: false},
		{name: "default threshold opens on the fifth fault", outcomes: "fffff", open: true},
		{name: "healthy reply resets the fault streak", opts: []Option{WithFailureThreshold(3)}, outcomes: "ffsff", open: false},
		{name: "streak resumes after reset", opts: []Option{WithFailureThreshold(3)}, outcomes: "ffsfff", open: true},
		{name: "one healthy reply closes by default", opts: []Option{WithFailureThreshold(1)}, outcomes: "fs", open: false},
		{name: "success threshold needs a clean run", opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, outcomes: "fsfs", open: true},
		{name: "clean run closes", opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, outcomes: "fsfss", open: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New("ndx", tc.opts...)
			replay(b, tc.outcomes)
			assert.Equal(t, tc.open, b.IsOpen())
		})
	}
}

func TestBreaker_ReportsTransitionsOnce(t *testing.T) {
	b := New("paydpi", WithFailureThreshold(2))

	_, change := b.RecordFailure()
	assert.Equal(t, StateChange{}, change)

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened)

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)

	_, change = b.RecordSuccess()
	assert.False(t, change.Closed)
	assert.Equal(t, "closed", b.State().String())
}

func TestBreaker_OpenBreakerAdmitsOneTrialCallPerCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("ndx", WithFailureThreshold(1), WithCooldown(5*time.Second), WithClock(func() time.Time { return now }))

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, "open", b.State().String())
	assert.False(t, b.Allow())

	now = now.Add(5 * time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	// A failed trial call keeps it open until the next cooldown.
	b.RecordFailure()
	now = now.Add(4 * time.Second)
	assert.False(t, b.Allow())
	now = now.Add(time.Second)
	assert.True(t, b.Allow())

	b.RecordSuccess()
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
}

func TestBreaker_ConcurrentFaultsOpenOnce(t *testing.T) {
	b := New("ndx", WithFailureThreshold(10))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
	assert.Equal(t, "ndx", b.Name())
}
