package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch, clock.Now(), "clock must not move without a step")
}

func TestDeterministicClock_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewDeterministicClock(start)

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}

func TestDeterministicClock_Step(t *testing.T) {
	clock := NewDeterministicClock(Epoch).WithStep(time.Millisecond)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Millisecond), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Millisecond), clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(Epoch).WithStep(time.Millisecond)
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, numGoroutines*callsPerGoroutine, "every reading must be distinct")
}
