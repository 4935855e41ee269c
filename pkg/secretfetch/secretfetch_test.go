// SPDX-License-Identifier: BSD-3-Clause

package secretfetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nodemtc/nodemtc/pkg/secretfetch"
)

func TestFetcherReachesGetPwdRecv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/" && r.URL.Query().Get("name") != "":
			fmt.Fprintf(w, `{"ref":"https://secrets.example/v1/refs/abc123"}`)
		case r.URL.Path == "/abc123/payload":
			w.Write([]byte("super-secret-password"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := secretfetch.New(uuid.New(), "bmc-password", srv.URL, srv.Client())

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for !f.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("fetcher stuck in stage %s", f.Stage())
		}
		if err := f.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	if string(f.Payload()) != "super-secret-password" {
		t.Fatalf("Payload() = %q, want super-secret-password", f.Payload())
	}
}

func TestFetcherTerminatesOn404Payload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("name") != "":
			fmt.Fprintf(w, `{"ref":"https://secrets.example/v1/refs/missing"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := secretfetch.New(uuid.New(), "bmc-password", srv.URL, srv.Client())

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for !f.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("fetcher stuck in stage %s", f.Stage())
		}
		if err := f.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	if f.Payload() != nil {
		t.Fatalf("Payload() = %q, want nil for a 404 payload", f.Payload())
	}
}
