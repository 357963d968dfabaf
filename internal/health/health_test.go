package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type flag struct{ on atomic.Bool }

func (f *flag) Capturing() bool { return f.on.Load() }
func (f *flag) Running() bool   { return f.on.Load() }

func readyz(t *testing.T, h *Handler) (int, Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	var body Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestReadyz_PipelineCheckers(t *testing.T) {
	capture, loop := &flag{}, &flag{}
	h := New(CaptureOpen(capture), LoopRunning(loop))

	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Fatalf("idle pipeline: code %d status %q, want 503 fail", code, body.Status)
	}
	if body.Checks["capture"] != "fail: capture stream is not running" {
		t.Errorf("capture check = %q", body.Checks["capture"])
	}
	if body.Checks["estimation"] != "fail: estimation loop is not running" {
		t.Errorf("estimation check = %q", body.Checks["estimation"])
	}

	capture.on.Store(true)
	code, body = readyz(t, h)
	if code != http.StatusServiceUnavailable || body.Checks["capture"] != "ok" {
		t.Errorf("capture only: code %d checks %v", code, body.Checks)
	}

	loop.on.Store(true)
	code, body = readyz(t, h)
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("running pipeline: code %d status %q, want 200 ok", code, body.Status)
	}
}

func TestBlocksFlowing(t *testing.T) {
	var blocks atomic.Uint64
	c := BlocksFlowing(blocks.Load, 20*time.Millisecond)
	ctx := context.Background()

	if err := c.Check(ctx); err != nil {
		t.Fatalf("fresh checker: %v", err)
	}

	blocks.Add(3)
	if err := c.Check(ctx); err != nil {
		t.Fatalf("advancing counter: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	err := c.Check(ctx)
	if err == nil || !strings.Contains(err.Error(), "no audio blocks") {
		t.Fatalf("stalled counter err = %v, want stall error", err)
	}

	blocks.Add(1)
	if err := c.Check(ctx); err != nil {
		t.Errorf("recovered counter: %v", err)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	code, body := readyz(t, New())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("code %d status %q, want 200 ok", code, body.Status)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	mux := http.NewServeMux()
	New(LoopRunning(&flag{})).Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", tc.path, nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCheck_RunsEveryChecker(t *testing.T) {
	var calls []string
	mk := func(name string, err error) Checker {
		return Checker{Name: name, Check: func(context.Context) error {
			calls = append(calls, name)
			return err
		}}
	}
	h := New(mk("first", errors.New("down")), mk("second", nil))

	rep := h.Check(context.Background())
	if rep.OK() {
		t.Error("OK() = true with a failing checker")
	}
	if len(calls) != 2 {
		t.Errorf("ran %v, want both checkers", calls)
	}
	if rep.Checks["first"] != "fail: down" || rep.Checks["second"] != "ok" {
		t.Errorf("checks = %v", rep.Checks)
	}
}

func TestHealthz_ReportsUptime(t *testing.T) {
	h := New()
	h.started = time.Now().Add(-90 * time.Second)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	var body Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Uptime != "1m30s" {
		t.Errorf("uptime = %q, want 1m30s", body.Uptime)
	}
}
