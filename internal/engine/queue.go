package engine

import (
	"sync"

	"github.com/roach88/storesync/internal/store"
)

// TriggerReason says why a session was requested.
type TriggerReason string

const (
	TriggerSchedule TriggerReason = "schedule"
	TriggerManual   TriggerReason = "manual"
	TriggerStartup  TriggerReason = "startup"
)

// trigger is one request for a sync session.
type trigger struct {
	reason TriggerReason
	done   chan triggerResult // buffered, nil when the caller does not wait
}

type triggerResult struct {
	session store.SyncSession
	err     error
}

// triggerQueue is a thread-safe FIFO of session requests.
//
// Requests arriving while one is already queued without a waiter collapse
// into it: one session serves every change made before it starts.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type triggerQueue struct {
	mu       sync.Mutex
	triggers []trigger
	closed   bool
	signal   chan struct{} // Signals trigger availability (buffered, size 1)
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a trigger to the back of the queue.
// Returns false if the queue is closed.
func (q *triggerQueue) Enqueue(t trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if t.done == nil {
		for _, queued := range q.triggers {
			if queued.done == nil {
				return true
			}
		}
	}
	q.triggers = append(q.triggers, t)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front trigger without blocking.
func (q *triggerQueue) TryDequeue() (trigger, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 {
		return trigger{}, false
	}
	t := q.triggers[0]
	q.triggers[0] = trigger{}
	q.triggers = q.triggers[1:]
	return t, true
}

// Wait returns a channel that signals when triggers may be available.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued triggers.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

// Closed reports whether Close has been called.
func (q *triggerQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further triggers and fails every waiting caller with err.
func (q *triggerQueue) Close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, t := range q.triggers {
		if t.done != nil {
			t.done <- triggerResult{err: err}
		}
	}
	q.triggers = nil
	close(q.signal)
}
