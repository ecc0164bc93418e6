package engine

import "time"

// Clock supplies wall time for session timestamps and retry waits.
//
// Ordering never depends on it: changelog sequences and buffer ids order
// everything the engine does. Clock exists so tests can pin timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
