// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nodemtc/nodemtc/pkg/timer"
)

type recordingRebooter struct {
	graceful, forced int
}

func (r *recordingRebooter) GracefulReboot(context.Context) error { r.graceful++; return nil }
func (r *recordingRebooter) ForceReboot(context.Context) error    { r.forced++; return nil }

func TestDecodePmonMessage(t *testing.T) {
	crit := make([]byte, 4)
	binary.LittleEndian.PutUint32(crit, uint32(pmonCrit))

	oversized := make([]byte, pmonMessageSize+1)

	tests := []struct {
		name    string
		buf     []byte
		want    pmonCommand
		wantErr bool
	}{
		{"empty is healthy", nil, pmonHealthy, false},
		{"explicit crit", crit, pmonCrit, false},
		{"oversized is rejected", oversized, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePmonMessage(tt.buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodePmonMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("decodePmonMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKernelTimeoutSeconds(t *testing.T) {
	if got := kernelTimeoutSeconds(1 * time.Second); got < 2 {
		t.Errorf("kernelTimeoutSeconds(1s) = %d, want >= 2", got)
	}
	if got := kernelTimeoutSeconds(10 * time.Millisecond); got != 2 {
		t.Errorf("kernelTimeoutSeconds(10ms) = %d, want floor of 2", got)
	}
}

func newTestWatchdog(t *testing.T, opts ...Option) *Watchdog {
	t.Helper()
	base := []Option{
		WithLockFilePath(filepath.Join(t.TempDir(), "node_locked")),
	}
	w, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w
}

func TestDeclareUnhealthyLockFilePresentSuppressesEverything(t *testing.T) {
	rebooter := &recordingRebooter{}
	w := newTestWatchdog(t, WithRebooter(rebooter))
	if err := os.WriteFile(w.lockFilePath, []byte{}, 0o644); err != nil {
		t.Fatalf("write lock file: %v", err)
	}

	force := timer.New("force")
	graceful := timer.New("graceful")
	w.declareUnhealthy(context.Background(), force, graceful, "pmon-crit")

	if force.Ring() || graceful.Ring() {
		t.Error("reboot timers must not be armed while the node is locked")
	}
}

func TestDeclareUnhealthyPolicyEscapeHatchClearsGrace(t *testing.T) {
	rebooter := &recordingRebooter{}
	w := newTestWatchdog(t, WithRebooter(rebooter), WithRebootOnErr(false), WithKdumpOnStall(false), WithFailureThreshold(5))
	w.graceLoops = 0

	force := timer.New("force")
	graceful := timer.New("graceful")
	w.declareUnhealthy(context.Background(), force, graceful, "grace-exhausted")

	if w.graceLoops != w.failureThreshold {
		t.Errorf("graceLoops = %d, want reloaded to %d", w.graceLoops, w.failureThreshold)
	}
	if force.Tag() != "" || graceful.Tag() != "" {
		t.Error("reboot timers must not be armed when reboot-on-err and kdump-on-stall are both disabled")
	}
}

func TestDeclareUnhealthyArmsRebootTimers(t *testing.T) {
	rebooter := &recordingRebooter{}
	w := newTestWatchdog(t, WithRebooter(rebooter), WithKdumpOnStall(false), WithConsolePath(os.DevNull))

	force := timer.New("force")
	graceful := timer.New("graceful")
	w.declareUnhealthy(context.Background(), force, graceful, "pmon-crit")

	if force.Tag() != "force" {
		t.Errorf("force timer tag = %q, want %q", force.Tag(), "force")
	}
	if graceful.Tag() != "graceful" {
		t.Errorf("graceful timer tag = %q, want %q", graceful.Tag(), "graceful")
	}
}

func TestNewRejectsNonPositiveThreshold(t *testing.T) {
	if _, err := New(WithFailureThreshold(0)); err == nil {
		t.Error("New() with a zero failure threshold should fail")
	}
}
