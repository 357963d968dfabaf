// Package health provides HTTP health and readiness check handlers.
//
// /healthz is a liveness probe that always answers 200. /readyz answers 200
// only when every registered [Checker] passes; for tunetrack that means the
// capture stream is open, audio blocks are still arriving and the estimation
// loop is running.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name keys the result in the JSON response, e.g. "capture".
	Name string

	Check func(ctx context.Context) error
}

// Report is the JSON body of both probes.
type Report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == "ok" }

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New creates a Handler running checkers, in order, on every readiness probe.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// Check runs every checker with a [checkTimeout] deadline and collects the
// results. A failing checker does not stop the others.
func (h *Handler) Check(ctx context.Context) Report {
	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			rep.Status = "fail"
			rep.Checks[c.Name] = "fail: " + err.Error()
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep
}

// Healthz answers 200 while the process is serving, with its uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz answers 200 when [Handler.Check] passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// Capturer is satisfied by the capture driver.
type Capturer interface {
	Capturing() bool
}

// Runner is satisfied by the estimation loop.
type Runner interface {
	Running() bool
}

// CaptureOpen fails while the capture stream is not running.
func CaptureOpen(c Capturer) Checker {
	return Checker{Name: "capture", Check: func(context.Context) error {
		if !c.Capturing() {
			return errors.New("capture stream is not running")
		}
		return nil
	}}
}

// LoopRunning fails while the estimation loop is idle.
func LoopRunning(r Runner) Checker {
	return Checker{Name: "estimation", Check: func(context.Context) error {
		if !r.Running() {
			return errors.New("estimation loop is not running")
		}
		return nil
	}}
}

// BlocksFlowing fails when the block counter returned by blocks has not
// advanced for longer than stall. A stalled device keeps its stream open but
// stops delivering audio, which CaptureOpen cannot see.
func BlocksFlowing(blocks func() uint64, stall time.Duration) Checker {
	var (
		mu       sync.Mutex
		last     uint64
		advanced = time.Now()
	)
	return Checker{Name: "audio_flow", Check: func(context.Context) error {
		n := blocks()
		now := time.Now()

		mu.Lock()
		defer mu.Unlock()
		if n != last {
			last = n
			advanced = now
			return nil
		}
		if idle := now.Sub(advanced); idle > stall {
			return fmt.Errorf("no audio blocks for %s", idle.Round(time.Millisecond))
		}
		return nil
	}}
}
