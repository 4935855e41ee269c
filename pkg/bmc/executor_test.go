// SPDX-License-Identifier: BSD-3-Clause

package bmc

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

type fakeClient struct {
	verbs   ActionVerbs
	version redfishVersion
	queryErr error
	execErr  error
	calls    int
}

func (f *fakeClient) query(ctx context.Context, req Request, credPath string) (ActionVerbs, redfishVersion, error) {
	return f.verbs, f.version, f.queryErr
}

func (f *fakeClient) execute(ctx context.Context, req Request, credPath string) (string, error) {
	f.calls++
	if f.execErr != nil {
		return "", f.execErr
	}
	return "ok", nil
}

func TestExecutorDynamicProtocolAdoptsRedfish(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(dir+"/redfish", 0o755)
	os.MkdirAll(dir+"/ipmi", 0o755)

	redfish := &fakeClient{verbs: ActionVerbs{Graceful: true}, version: redfishVersion{Major: 1, Minor: 6}}
	ipmi := &fakeClient{verbs: ActionVerbs{Graceful: true, Immediate: true}}

	e := New(
		WithWorkers(1),
		WithOutputBase(dir),
		clientsOption{ProtocolRedfish: redfish, ProtocolIPMI: ipmi},
	)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.Submit(ctx, Request{
		Hostname: "compute-1", BMCIP: "10.0.0.5", BMCUser: "root", Password: []byte("x"),
		Command: CommandPowerOff, Protocol: ProtocolDynamic, Verb: VerbGraceful,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-e.Results():
		if !res.OK {
			t.Fatalf("result not OK: %v", res.Err)
		}
		if res.Request.Protocol != ProtocolRedfish {
			t.Fatalf("protocol = %s, want redfish", res.Request.Protocol)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for result")
	}

	if redfish.calls != 1 {
		t.Fatalf("redfish.calls = %d, want 1", redfish.calls)
	}
}

func TestExecutorFallsBackToIPMIOnOldRedfish(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(dir+"/redfish", 0o755)
	os.MkdirAll(dir+"/ipmi", 0o755)

	redfish := &fakeClient{verbs: ActionVerbs{Graceful: true}, version: redfishVersion{Major: 1, Minor: 0}}
	ipmi := &fakeClient{verbs: ActionVerbs{Graceful: true, Immediate: true}}

	e := New(
		WithWorkers(1),
		WithOutputBase(dir),
		WithMinRedfishVersion(1, 6),
		clientsOption{ProtocolRedfish: redfish, ProtocolIPMI: ipmi},
	)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.Submit(ctx, Request{
		Hostname: "compute-2", BMCIP: "10.0.0.6", BMCUser: "root", Password: []byte("x"),
		Command: CommandPowerOn, Protocol: ProtocolDynamic,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-e.Results():
		if res.Request.Protocol != ProtocolIPMI {
			t.Fatalf("protocol = %s, want ipmi", res.Request.Protocol)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for result")
	}

	if ipmi.calls != 1 {
		t.Fatalf("ipmi.calls = %d, want 1", ipmi.calls)
	}
}

func TestExecutorSubmitAfterCloseFails(t *testing.T) {
	e := New(WithWorkers(1), WithOutputBase(t.TempDir()))
	e.Close()

	if err := e.Submit(context.Background(), Request{}); !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("Submit after Close: got %v, want ErrExecutorClosed", err)
	}
}

func TestActionVerbsChoose(t *testing.T) {
	v := ActionVerbs{Graceful: true}
	verb, err := v.Choose(false)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if verb != VerbGraceful {
		t.Fatalf("Choose fell back to %s, want graceful", verb)
	}

	none := ActionVerbs{}
	if _, err := none.Choose(true); !errors.Is(err, ErrNoActionVerb) {
		t.Fatalf("Choose with no verbs: got %v, want ErrNoActionVerb", err)
	}
}
