// Package tracker runs the estimation loop: it polls the latest captured
// frame, drops silent frames with an RMS energy gate, asks a
// [pitch.Estimator] for the fundamental and offers the result to a bounded
// output queue without ever blocking on it.
//
// The loop is a two-state machine. [Loop.Start] moves Idle → Running by
// launching one goroutine; [Loop.Stop] moves Running → Idle and returns only
// after that goroutine has exited, so no frame is read after Stop returns.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tunetrack/internal/observe"
	"github.com/MrWong99/tunetrack/pkg/audio"
	"github.com/MrWong99/tunetrack/pkg/pitch"
)

const (
	// DefaultPollInterval is how long the loop idles after a buffer miss, a
	// gated frame or a failed estimate.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultThreshold is the RMS level below which a frame counts as silence.
	DefaultThreshold = 0.01
)

// FrameSource supplies the most recent frame. [audio.RollingBuffer] is the
// production implementation.
type FrameSource interface {
	// ReadInto copies the latest frame into dst and reports whether one was
	// available.
	ReadInto(dst []float32) bool

	// FrameSize is the number of samples per frame.
	FrameSize() int
}

// Output receives estimates. TryPut must not block; a false return means the
// estimate was discarded.
type Output interface {
	TryPut(pitch.Estimate) bool
}

// Option configures a [Loop].
type Option func(*Loop)

// WithPollInterval overrides [DefaultPollInterval]. Non-positive values are
// ignored.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.poll.Store(int64(d))
		}
	}
}

// WithThreshold overrides [DefaultThreshold]. Negative and NaN values are
// ignored.
func WithThreshold(rms float64) Option {
	return func(l *Loop) {
		if rms >= 0 {
			l.threshold.Store(math.Float64bits(rms))
		}
	}
}

// WithMetrics records loop metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) {
		if m != nil {
			l.metrics = m
		}
	}
}

// Loop is the estimation loop. All methods are safe for concurrent use.
type Loop struct {
	src        FrameSource
	est        pitch.Estimator
	out        Output
	sampleRate int
	metrics    *observe.Metrics

	threshold atomic.Uint64 // math.Float64bits of the RMS gate
	poll      atomic.Int64  // time.Duration

	enabled atomic.Bool
	reads   atomic.Uint64

	mu      sync.Mutex // guards the fields below and serialises Start/Stop
	running bool
	stop    chan struct{}
	done    chan struct{}
	runID   string
}

// New creates an idle Loop reading frames from src, estimating with est at
// sampleRate and offering results to out.
func New(src FrameSource, est pitch.Estimator, out Output, sampleRate int, opts ...Option) *Loop {
	l := &Loop{
		src:        src,
		est:        est,
		out:        out,
		sampleRate: sampleRate,
		metrics:    observe.DefaultMetrics(),
	}
	l.threshold.Store(math.Float64bits(DefaultThreshold))
	l.poll.Store(int64(DefaultPollInterval))
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start launches the loop goroutine. It is a no-op while already running.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.runID = uuid.NewString()
	l.enabled.Store(true)

	slog.Info("estimation loop started",
		"run_id", l.runID,
		"sample_rate", l.sampleRate,
		"rms_threshold", l.Threshold(),
		"poll_interval", l.PollInterval(),
	)
	go l.run(l.runID, l.stop, l.done)
}

// Stop clears the enable flag and blocks until the loop goroutine has
// exited. It is a no-op while idle.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}

	l.enabled.Store(false)
	close(l.stop)
	<-l.done
	l.running = false
	slog.Info("estimation loop stopped", "run_id", l.runID, "reads", l.reads.Load())
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Reads returns the number of frame reads attempted since construction,
// including misses.
func (l *Loop) Reads() uint64 { return l.reads.Load() }

// Threshold returns the current RMS gate.
func (l *Loop) Threshold() float64 { return math.Float64frombits(l.threshold.Load()) }

// SetThreshold changes the RMS gate. It takes effect on the next frame and
// may be called while running. Negative and NaN values are ignored.
func (l *Loop) SetThreshold(rms float64) { WithThreshold(rms)(l) }

// PollInterval returns the current idle interval.
func (l *Loop) PollInterval() time.Duration { return time.Duration(l.poll.Load()) }

// SetPollInterval changes the idle interval. It takes effect on the next
// sleep and may be called while running. Non-positive values are ignored.
func (l *Loop) SetPollInterval(d time.Duration) { WithPollInterval(d)(l) }

func (l *Loop) run(runID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx := context.Background()
	log := slog.With("run_id", runID)
	frame := make([]float32, l.src.FrameSize())
	var failOnce sync.Once

	for l.enabled.Load() {
		idle, err := l.step(ctx, frame)
		if err != nil {
			failOnce.Do(func() {
				log.Debug("estimation failed; further failures in this run are not logged", "err", err)
			})
		}
		if !idle {
			continue
		}

		t := time.NewTimer(l.PollInterval())
		select {
		case <-t.C:
		case <-stop:
			t.Stop()
			return
		}
	}
}

// step runs one iteration. idle reports whether the loop should sleep before
// the next one; only an offered estimate skips the sleep. err is the
// estimator failure that abandoned the iteration, if any.
func (l *Loop) step(ctx context.Context, frame []float32) (idle bool, err error) {
	l.reads.Add(1)
	if !l.src.ReadInto(frame) {
		l.metrics.ReadMisses.Add(ctx, 1)
		return true, nil
	}

	level := audio.RMS(frame)
	// NaN fails the comparison and is gated like silence.
	if !(level >= l.Threshold()) {
		l.metrics.FramesGated.Add(ctx, 1)
		return true, nil
	}

	hz, reason, err := l.estimate(frame)
	if err != nil {
		l.metrics.RecordFailure(ctx, reason)
		return true, err
	}

	accepted := l.out.TryPut(pitch.Estimate{
		Frequency: hz,
		Level:     level,
		At:        time.Now(),
	})
	l.metrics.RecordOffer(ctx, accepted)
	return false, nil
}

// estimate calls the estimator and converts a panic into an error.
func (l *Loop) estimate(frame []float32) (hz float64, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			hz, reason, err = 0, observe.FailurePanic, fmt.Errorf("tracker: estimator panic: %v", r)
		}
	}()

	start := time.Now()
	hz, err = l.est.Estimate(frame, l.sampleRate)
	l.metrics.RecordEstimation(context.Background(), time.Since(start))
	if err != nil {
		return 0, observe.FailureError, fmt.Errorf("tracker: estimate: %w", err)
	}
	return hz, "", nil
}
