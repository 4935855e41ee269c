// SPDX-License-Identifier: BSD-3-Clause

// Package timer provides a poll-based timer for the maintenance FSM's
// single-threaded main loop. A Timer never invokes user code from its own
// goroutine: expiry only flips an atomic flag, which handlers check with
// Ring during their own tick. This keeps the main loop deterministic -- a
// callback-based timer would let a slow handler block a completely
// unrelated goroutine's stack, which the per-node FSM's single-threaded
// discipline forbids.
package timer

import (
	"sync/atomic"
	"time"
)

// Timer is a single named, pollable timer.
type Timer struct {
	name string
	tag  string

	duration time.Duration
	ring     atomic.Bool
	internal *time.Timer
	stopCh   chan struct{}
}

// New creates an armed-but-not-started timer identified by name.
func New(name string) *Timer {
	return &Timer{name: name}
}

// Name returns the timer's identifier.
func (t *Timer) Name() string {
	return t.name
}

// Start arms the timer for duration, tagging the expiry with tag so a
// handler polling several timers can tell which one rang. Calling Start on
// an already-running timer stops and replaces it.
func (t *Timer) Start(d time.Duration, tag string) {
	t.Stop()

	t.duration = d
	t.tag = tag
	t.ring.Store(false)
	t.stopCh = make(chan struct{})

	stopCh := t.stopCh
	t.internal = time.AfterFunc(d, func() {
		select {
		case <-stopCh:
			return
		default:
		}
		t.ring.Store(true)
	})
}

// Reset re-arms the timer with its last duration and tag. A timer whose last
// duration was zero or negative, or that was never started, is left as it is.
func (t *Timer) Reset() {
	if t.duration <= 0 {
		return
	}
	t.Start(t.duration, t.tag)
}

// Stop disarms the timer. It is safe to call on a timer that was never started.
func (t *Timer) Stop() {
	if t.internal != nil {
		t.internal.Stop()
	}
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	t.ring.Store(false)
}

// Ring reports whether the timer has expired since the last Start or Reset,
// clearing the flag on read so a handler polling once per tick sees each
// expiry exactly once.
func (t *Timer) Ring() bool {
	return t.ring.CompareAndSwap(true, false)
}

// Tag returns the tag passed to the most recent Start or Reset call.
func (t *Timer) Tag() string {
	return t.tag
}
