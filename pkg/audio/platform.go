// Package audio defines the capture-side types of tunetrack: the lock-protected
// [RollingBuffer] that hands frames from the audio callback to the estimation
// loop, the [Backend] abstraction over hardware input streams, and small
// allocation-free sample helpers.
//
// The two backend abstractions are:
//
//   - [Backend] opens a hardware input stream and returns a [Stream].
//   - [Stream] is a running (or stopped) input stream that invokes a
//     [Callback] once per delivered block on a thread owned by the audio
//     subsystem.
//
// Implementations live in adapter packages (audio/portaudio) and in
// audio/capture for the null backend. The interfaces are intentionally narrow
// so that tests can drive the callback directly through audio/mock.
package audio

// StatusFlags carries per-block status reported by the audio subsystem.
type StatusFlags uint32

const (
	// InputOverflow means input data was discarded by the device before this
	// block because the callback did not keep up.
	InputOverflow StatusFlags = 1 << iota

	// InputUnderflow means the block contains silence inserted by the device.
	InputUnderflow
)

// Has reports whether all bits of flag are set in f.
func (f StatusFlags) Has(flag StatusFlags) bool { return f&flag == flag }

// Callback receives one block of interleaved float32 samples in [-1, 1].
//
// It runs on a time-critical thread owned by the audio subsystem: it must
// return in bounded time, must not allocate, must not log, and must not panic.
// The in slice is only valid for the duration of the call.
type Callback func(in []float32, flags StatusFlags)

// Stream is an opened hardware input stream.
//
// Implementations must tolerate Stop on a stream that was never started and
// Close after Stop. Close releases all hardware resources; the stream cannot be
// restarted afterwards.
type Stream interface {
	// Start begins delivering blocks to the registered [Callback].
	Start() error

	// Stop halts delivery. After Stop returns the callback is not invoked again.
	Stop() error

	// Close releases the stream.
	Close() error
}

// DeviceInfo describes an input device as reported by a backend.
type DeviceInfo struct {
	// Name is the platform device name, usable as [StreamConfig.Device].
	Name string

	// MaxInputChannels is the maximum channel count the device can capture.
	MaxInputChannels int

	// DefaultSampleRate is the device's preferred rate in Hz.
	DefaultSampleRate float64

	// Default is true for the system default input device.
	Default bool
}

// Backend opens hardware input streams.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Open configures an input stream for cfg and registers cb. The stream is
	// returned stopped. Errors are reported as [*DeviceError].
	Open(cfg StreamConfig, cb Callback) (Stream, error)

	// Devices lists the available input devices.
	Devices() ([]DeviceInfo, error)

	// Close releases backend-wide resources (e.g. library initialisation).
	// Calling Close more than once is safe.
	Close() error
}
