// Package app wires the tunetrack pipeline into a running application.
//
// The App struct owns the full lifecycle: New constructs the rolling buffer,
// capture driver, estimation loop, output queue and HTTP surface; Run starts
// capture and estimation and serves until the context is cancelled; Shutdown
// tears everything down in order (loop, capture, backend).
//
// The capture backend and pitch estimator are passed in by main.go, usually
// built through the config registry. Tests pass mocks from pkg/audio/mock and
// pkg/pitch/mock.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tunetrack/internal/config"
	"github.com/MrWong99/tunetrack/internal/display"
	"github.com/MrWong99/tunetrack/internal/health"
	"github.com/MrWong99/tunetrack/internal/observe"
	"github.com/MrWong99/tunetrack/internal/tracker"
	"github.com/MrWong99/tunetrack/pkg/audio"
	"github.com/MrWong99/tunetrack/pkg/audio/capture"
	"github.com/MrWong99/tunetrack/pkg/pitch"
	"github.com/MrWong99/tunetrack/pkg/queue"
)

const (
	httpShutdownTimeout = 5 * time.Second

	// minStall is the shortest gap without audio blocks that the readiness
	// probe tolerates.
	minStall = time.Second
)

// App owns all pipeline lifetimes.
type App struct {
	cfg       *config.Config
	backend   audio.Backend
	estimator pitch.Estimator
	metrics   *observe.Metrics
	level     *slog.LevelVar

	buf     *audio.RollingBuffer
	driver  *capture.Driver
	out     *queue.Bounded[pitch.Estimate]
	loop    *tracker.Loop
	display *display.Server // nil when the websocket display is disabled
	health  *health.Handler
	handler http.Handler
	server  *http.Server

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown, after the loop and the
	// capture driver have stopped.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records pipeline metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of the logger
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App capturing from backend and estimating with est. cfg must
// have passed [config.Validate]. On success the App takes ownership of backend
// and closes it in Shutdown; on error it releases everything it registered
// and leaves backend to the caller.
//
// New touches no hardware; the stream is opened by Run.
func New(ctx context.Context, cfg *config.Config, backend audio.Backend, est pitch.Estimator, opts ...Option) (*App, error) {
	if backend == nil || est == nil {
		return nil, errors.New("app: backend and estimator are required")
	}
	a := &App{
		cfg:       cfg,
		backend:   backend,
		estimator: est,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.closers = append(a.closers, backend.Close)

	// ── 1. Rolling buffer ────────────────────────────────────────────────
	buf, err := audio.NewRollingBuffer(cfg.Audio.Slots, cfg.Audio.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("app: init buffer: %w", err)
	}
	a.buf = buf

	// ── 2. Capture driver ────────────────────────────────────────────────
	a.driver = capture.New(backend, cfg.Audio.StreamConfig(), buf)
	reg, err := a.metrics.ObserveCapture(a.driver)
	if err != nil {
		return nil, fmt.Errorf("app: init capture metrics: %w", err)
	}
	a.closers = append(a.closers, reg.Unregister)

	// ── 3. Output queue ──────────────────────────────────────────────────
	a.out, err = queue.New[pitch.Estimate](cfg.Output.Capacity, cfg.Output.Policy())
	if err != nil {
		// The caller still owns backend on error; only the callback is ours.
		_ = reg.Unregister()
		return nil, fmt.Errorf("app: init output: %w", err)
	}

	// ── 4. Estimation loop ───────────────────────────────────────────────
	a.loop = tracker.New(buf, est, a.out, cfg.Audio.SampleRate,
		tracker.WithPollInterval(cfg.Estimation.PollInterval),
		tracker.WithThreshold(cfg.Estimation.RMSThreshold),
		tracker.WithMetrics(a.metrics),
	)

	// ── 5. Display ───────────────────────────────────────────────────────
	if cfg.Display.Enabled {
		a.display = display.New(a.out,
			display.WithPushInterval(cfg.Display.PushInterval),
			display.WithOriginPatterns(cfg.Display.OriginPatterns...),
			display.WithMetrics(a.metrics),
		)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.health = health.New(
		health.CaptureOpen(a.driver),
		health.LoopRunning(a.loop),
		health.BlocksFlowing(func() uint64 { return a.driver.Stats().Blocks }, stallTimeout(cfg.Audio)),
	)
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle(cfg.Telemetry.MetricsPath, observe.MetricsHandler())
	routes := []string{"/healthz", "/readyz", cfg.Telemetry.MetricsPath}
	if a.display != nil {
		mux.Handle(cfg.Display.Path, a.display)
		routes = append(routes, cfg.Display.Path)
	}
	a.handler = observe.Middleware(a.metrics,
		observe.WithRoutes(routes...),
		observe.WithQuietRoutes("/healthz", "/readyz", cfg.Telemetry.MetricsPath),
	)(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("app initialised",
		"backend", cfg.Audio.Backend,
		"estimator", cfg.Estimation.Estimator,
		"stream", cfg.Audio.StreamConfig().String(),
		"slots", cfg.Audio.Slots,
		"output_capacity", cfg.Output.Capacity,
		"overflow_policy", cfg.Output.Policy(),
		"display", cfg.Display.Enabled,
	)
	return a, nil
}

// stallTimeout is how long /readyz tolerates a stalled block counter: ten
// block durations, at least minStall.
func stallTimeout(c config.AudioConfig) time.Duration {
	if c.SampleRate <= 0 {
		return minStall
	}
	block := time.Duration(c.BlockSize) * time.Second / time.Duration(c.SampleRate)
	return max(10*block, minStall)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture and the estimation loop, then serves HTTP and consumes
// estimates until ctx is cancelled.
//
// A capture start failure is returned as an [*audio.DeviceError] unless
// audio.allow_missing_device is set, in which case it is logged and the loop
// polls the empty buffer until shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.driver.Start(ctx); err != nil {
		if !a.cfg.Audio.AllowMissingDevice {
			return fmt.Errorf("app: start capture: %w", err)
		}
		slog.Error("audio capture unavailable, estimation will idle", "err", err)
	}
	a.loop.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serve(gctx) })
	g.Go(func() error {
		if a.display != nil {
			return a.display.Run(gctx)
		}
		return display.Log(gctx, a.out, a.cfg.Display.PushInterval)
	})

	slog.Info("app running", "capturing", a.driver.Capturing())
	return g.Wait()
}

// serve runs the HTTP server until ctx is cancelled.
func (a *App) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	slog.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	return nil
}

// Addr returns the address the HTTP server is listening on, or nil before Run
// has bound it.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Handler returns the instrumented HTTP handler serving health, metrics and
// display routes.
func (a *App) Handler() http.Handler { return a.handler }

// Loop returns the estimation loop.
func (a *App) Loop() *tracker.Loop { return a.loop }

// Capture returns the capture driver.
func (a *App) Capture() *capture.Driver { return a.driver }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable fields of d. Fields that need a
// restart are logged and otherwise ignored.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.ThresholdChanged {
		a.loop.SetThreshold(d.NewThreshold)
		slog.Info("rms threshold updated", "rms_threshold", a.loop.Threshold())
	}
	if d.PollIntervalChanged {
		a.loop.SetPollInterval(d.NewPollInterval)
		slog.Info("poll interval updated", "poll_interval", a.loop.PollInterval())
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level updated", "log_level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the estimation loop, then capture, then releases the backend
// and the remaining resources. It is safe to call more than once; only the
// first call does anything. The loop and driver are always stopped; ctx only
// bounds the closers that follow.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.loop.Stop()
		if err := a.driver.Stop(); err != nil {
			slog.Warn("capture stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		stats := a.driver.Stats()
		slog.Info("shutdown complete",
			"blocks", stats.Blocks,
			"overflows", stats.Overflows,
			"reads", a.loop.Reads(),
			"estimates_accepted", a.out.Accepted(),
			"estimates_dropped", a.out.Dropped(),
		)
	})
	return shutdownErr
}
