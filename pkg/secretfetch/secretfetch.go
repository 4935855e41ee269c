// SPDX-License-Identifier: BSD-3-Clause

// Package secretfetch implements the two-stage, non-blocking secret
// retrieval state machine used to obtain BMC credential payloads from an
// external secret store over HTTP. One Fetcher instance is owned per node
// uuid; its Tick method is called once per maintenance loop iteration and
// never blocks on network I/O itself.
package secretfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/nodemtc/nodemtc/pkg/timer"
)

// Stage is one state of the secret fetch machine.
type Stage string

const (
	StageStart      Stage = "START"
	StageGetRef     Stage = "GET_REF"
	StageGetRefRecv Stage = "GET_REF_RECV"
	StageGetRefFail Stage = "GET_REF_FAIL"
	StageGetPwd     Stage = "GET_PWD"
	StageGetPwdRecv Stage = "GET_PWD_RECV"
	StageGetPwdFail Stage = "GET_PWD_FAIL"
)

// trigger names for the stateless.StateMachine transitions.
const (
	triggerTimerRing   = "timer-ring"
	triggerRefReceived = "ref-received"
	triggerRefFailed   = "ref-failed"
	triggerPwdReceived = "pwd-received"
	triggerPwdFailed   = "pwd-failed"
)

const retryDelay = 5 * time.Second

// httpResult is delivered from the short-lived per-request goroutine back to
// the fetcher over a buffered channel, drained once per Tick.
type httpResult struct {
	kind     string // "ref" or "pwd"
	body     []byte
	statusOK bool
	err      error
}

// Fetcher is the per-host secret fetch state machine.
type Fetcher struct {
	hostUUID uuid.UUID
	name     string

	baseURL string
	client  *http.Client

	machine *stateless.StateMachine
	timer   *timer.Timer
	results chan httpResult

	reference string
	payload   []byte
}

// New creates a Fetcher for the given host uuid, issuing requests against
// baseURL ("{baseURL}?name=..." for the reference lookup, "{baseURL}/{reference}/payload"
// for the payload fetch).
func New(hostUUID uuid.UUID, name, baseURL string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	f := &Fetcher{
		hostUUID: hostUUID,
		name:     name,
		baseURL:  baseURL,
		client:   client,
		timer:    timer.New("secretfetch-" + name),
		results:  make(chan httpResult, 2),
	}

	f.machine = stateless.NewStateMachine(StageStart)

	f.machine.Configure(StageStart).
		Permit(triggerTimerRing, StageGetRef).
		OnEntry(func(context.Context, ...any) error {
			f.timer.Start(0, "start")
			return nil
		})

	f.machine.Configure(StageGetRef).
		Permit(triggerRefReceived, StageGetRefRecv).
		Permit(triggerRefFailed, StageGetRefFail).
		OnEntry(func(context.Context, ...any) error {
			f.issueRefRequest()
			return nil
		})

	f.machine.Configure(StageGetRefRecv).
		Permit(triggerTimerRing, StageGetPwd).
		OnEntry(func(context.Context, ...any) error {
			f.timer.Start(0, "get-pwd")
			return nil
		})

	f.machine.Configure(StageGetRefFail).
		Permit(triggerTimerRing, StageGetRef).
		OnEntry(func(context.Context, ...any) error {
			f.timer.Start(retryDelay, "retry-ref")
			return nil
		})

	f.machine.Configure(StageGetPwd).
		Permit(triggerPwdReceived, StageGetPwdRecv).
		Permit(triggerPwdFailed, StageGetPwdFail).
		OnEntry(func(context.Context, ...any) error {
			f.issuePwdRequest()
			return nil
		})

	f.machine.Configure(StageGetPwdRecv)

	f.machine.Configure(StageGetPwdFail).
		Permit(triggerTimerRing, StageGetPwd).
		OnEntry(func(context.Context, ...any) error {
			f.timer.Start(retryDelay, "retry-pwd")
			return nil
		})

	// The machine starts in START without running its entry action, so the
	// START timer is armed here.
	f.timer.Start(0, "start")

	return f
}

// Stage returns the fetcher's current stage.
func (f *Fetcher) Stage() Stage {
	st, _ := f.machine.State(context.Background())
	return st.(Stage)
}

// Ready reports whether a payload is available for use as a BMC credential.
func (f *Fetcher) Ready() bool {
	return f.Stage() == StageGetPwdRecv
}

// Payload returns the last fetched secret payload, if Ready.
func (f *Fetcher) Payload() []byte {
	return f.payload
}

// Tick drains at most one completed HTTP result and services the timer,
// advancing the state machine at most one transition per call.
func (f *Fetcher) Tick(ctx context.Context) error {
	select {
	case res := <-f.results:
		return f.applyResult(ctx, res)
	default:
	}

	if f.timer.Ring() {
		return f.machine.FireCtx(ctx, triggerTimerRing)
	}

	return nil
}

func (f *Fetcher) applyResult(ctx context.Context, res httpResult) error {
	if res.kind == "ref" {
		if res.err != nil || !res.statusOK {
			return f.machine.FireCtx(ctx, triggerRefFailed)
		}
		ref, err := parseReference(res.body)
		if err != nil {
			return f.machine.FireCtx(ctx, triggerRefFailed)
		}
		f.reference = ref
		return f.machine.FireCtx(ctx, triggerRefReceived)
	}

	// kind == "pwd"
	if res.err != nil {
		return f.machine.FireCtx(ctx, triggerPwdFailed)
	}
	if res.statusOK {
		f.payload = res.body
		return f.machine.FireCtx(ctx, triggerPwdReceived)
	}
	// A 404 on the payload endpoint is a valid terminal: no secret provisioned.
	f.payload = nil
	return f.machine.FireCtx(ctx, triggerPwdReceived)
}

func (f *Fetcher) issueRefRequest() {
	go func() {
		u := f.baseURL + "?name=" + url.QueryEscape(f.name) + "&host=" + url.QueryEscape(f.hostUUID.String())
		body, ok, err := f.get(u)
		f.results <- httpResult{kind: "ref", body: body, statusOK: ok, err: err}
	}()
}

func (f *Fetcher) issuePwdRequest() {
	go func() {
		u := strings.TrimRight(f.baseURL, "/") + "/" + url.PathEscape(f.reference) + "/payload"
		body, ok, err := f.get(u)
		f.results <- httpResult{kind: "pwd", body: body, statusOK: ok || isNotFound(err), err: nilIfNotFound(err)}
	}()
}

func (f *Fetcher) get(u string) ([]byte, bool, error) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

var errNotFound = fmt.Errorf("secret not found")

func isNotFound(err error) bool { return err == errNotFound }
func nilIfNotFound(err error) error {
	if err == errNotFound {
		return nil
	}
	return err
}

// referenceResponse is the JSON shape of the secret-reference lookup
// response: the interesting field is a URL whose last path segment is the
// reference id.
type referenceResponse struct {
	Ref string `json:"ref"`
}

func parseReference(body []byte) (string, error) {
	var r referenceResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedReference, err)
	}
	parsed, err := url.Parse(r.Ref)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedReference, err)
	}
	id := path.Base(parsed.Path)
	if id == "" || id == "." || id == "/" {
		return "", ErrMalformedReference
	}
	return id, nil
}
