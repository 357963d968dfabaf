// Package capture implements the capture driver that moves audio from a
// hardware input stream into an [audio.RollingBuffer].
//
// A [Driver] owns at most one open stream. Its per-block callback runs on the
// audio subsystem's thread and does nothing but downmix into a preallocated
// scratch slice and write into the buffer; counters are plain atomics so that
// observers (metrics, health checks) can read them without touching the hot
// path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/tunetrack/pkg/audio"
)

// Stats is a snapshot of a driver's callback counters.
type Stats struct {
	// Blocks is the number of blocks written into the buffer.
	Blocks uint64

	// Overflows is the number of blocks the device flagged with
	// [audio.InputOverflow].
	Overflows uint64

	// Panics is the number of callback invocations that panicked and were
	// recovered.
	Panics uint64
}

// Driver captures audio from a [audio.Backend] into a rolling buffer.
//
// The driver is a two-state machine, Idle and Capturing. Start from Capturing
// and Stop from Idle are no-ops. All exported methods are safe for concurrent
// use.
type Driver struct {
	backend audio.Backend
	cfg     audio.StreamConfig
	buf     *audio.RollingBuffer

	// scratch receives the downmixed block when cfg.Channels > 1.
	scratch []float32

	mu        sync.Mutex
	stream    audio.Stream
	capturing atomic.Bool

	blocks    atomic.Uint64
	overflows atomic.Uint64
	panics    atomic.Uint64
}

// New creates an idle driver. The buffer's frame size must equal
// cfg.BlockSize; [Driver.Start] reports a mismatch as an
// [audio.ErrUnsupportedConfig] device error.
func New(backend audio.Backend, cfg audio.StreamConfig, buf *audio.RollingBuffer) *Driver {
	d := &Driver{
		backend: backend,
		cfg:     cfg,
		buf:     buf,
	}
	if cfg.Channels > 1 && cfg.BlockSize > 0 {
		d.scratch = make([]float32, cfg.BlockSize)
	}
	return d
}

// Config returns the stream configuration the driver was built with.
func (d *Driver) Config() audio.StreamConfig { return d.cfg }

// Start opens and starts the input stream. It returns an [*audio.DeviceError]
// if no compatible device exists, the configuration is invalid or
// unsupported, or the stream refuses to start. Calling Start while capturing
// is a no-op.
//
// ctx is only consulted before the device is touched; once running, the
// stream lives until [Driver.Stop].
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.cfg.Validate(); err != nil {
		return &audio.DeviceError{Op: "configure", Device: d.cfg.Device, Err: errors.Join(audio.ErrUnsupportedConfig, err)}
	}
	if d.buf.FrameSize() != d.cfg.BlockSize {
		return &audio.DeviceError{
			Op:     "configure",
			Device: d.cfg.Device,
			Err:    fmt.Errorf("%w: block size %d does not match buffer frame size %d", audio.ErrUnsupportedConfig, d.cfg.BlockSize, d.buf.FrameSize()),
		}
	}

	stream, err := d.backend.Open(d.cfg, d.onBlock)
	if err != nil {
		return asDeviceError("open", d.cfg.Device, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return asDeviceError("start", d.cfg.Device, err)
	}

	d.stream = stream
	d.capturing.Store(true)
	slog.Info("audio capture started", "device", deviceName(d.cfg.Device), "stream", d.cfg.String())
	return nil
}

// Stop halts the stream and releases it. It is idempotent and safe to call
// before Start. The returned error aggregates stop and close failures; the
// driver is Idle afterwards regardless.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	d.capturing.Store(false)
	stream := d.stream
	d.stream = nil

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("capture: stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("capture: close stream: %w", err))
	}
	slog.Info("audio capture stopped", "blocks", d.blocks.Load(), "overflows", d.overflows.Load())
	return errors.Join(errs...)
}

// Capturing reports whether the driver is in the Capturing state.
func (d *Driver) Capturing() bool { return d.capturing.Load() }

// Stats returns a snapshot of the callback counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Blocks:    d.blocks.Load(),
		Overflows: d.overflows.Load(),
		Panics:    d.panics.Load(),
	}
}

// onBlock is the per-block callback registered with the backend. It must not
// allocate, log, or let a panic escape into the audio subsystem.
func (d *Driver) onBlock(in []float32, flags audio.StatusFlags) {
	defer func() {
		if recover() != nil {
			d.panics.Add(1)
		}
	}()

	if flags.Has(audio.InputOverflow) {
		d.overflows.Add(1)
	}

	samples := in
	if d.scratch != nil {
		n := audio.Downmix(d.scratch, in, d.cfg.Channels)
		samples = d.scratch[:n]
	}
	d.buf.Write(samples)
	d.blocks.Add(1)
}

// asDeviceError wraps err as an [*audio.DeviceError] unless it already is one.
func asDeviceError(op, device string, err error) error {
	var de *audio.DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &audio.DeviceError{Op: op, Device: device, Err: err}
}

func deviceName(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
