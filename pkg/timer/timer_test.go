// SPDX-License-Identifier: BSD-3-Clause

package timer_test

import (
	"testing"
	"time"

	"github.com/nodemtc/nodemtc/pkg/timer"
)

func TestRingFlipsOnce(t *testing.T) {
	tm := timer.New("retry")
	tm.Start(10*time.Millisecond, "retry-wait")

	deadline := time.Now().Add(500 * time.Millisecond)
	for !tm.Ring() {
		if time.Now().After(deadline) {
			t.Fatal("timer never rang")
		}
		time.Sleep(time.Millisecond)
	}

	if tm.Ring() {
		t.Fatal("Ring reported true twice for a single expiry")
	}
	if tag := tm.Tag(); tag != "retry-wait" {
		t.Fatalf("Tag() = %q, want retry-wait", tag)
	}
}

func TestStopPreventsRing(t *testing.T) {
	tm := timer.New("retry")
	tm.Start(5*time.Millisecond, "x")
	tm.Stop()

	time.Sleep(50 * time.Millisecond)
	if tm.Ring() {
		t.Fatal("stopped timer still rang")
	}
}

func TestResetReusesLastDuration(t *testing.T) {
	tm := timer.New("retry")
	tm.Start(10*time.Millisecond, "x")

	deadline := time.Now().Add(500 * time.Millisecond)
	for !tm.Ring() {
		if time.Now().After(deadline) {
			t.Fatal("timer never rang")
		}
		time.Sleep(time.Millisecond)
	}

	tm.Reset()
	deadline = time.Now().Add(500 * time.Millisecond)
	for !tm.Ring() {
		if time.Now().After(deadline) {
			t.Fatal("timer never rang after reset")
		}
		time.Sleep(time.Millisecond)
	}
}
