// Package mock provides in-memory mock implementations of the [audio.Backend]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// The mock stream never spawns its own audio thread. Tests drive the registered
// callback explicitly via [Stream.Deliver], which only forwards blocks while the
// stream is started, mirroring a real device:
//
//	backend := &mock.Backend{}
//	drv := capture.New(backend, cfg, buf)
//	_ = drv.Start(ctx)
//	backend.LastStream().Deliver(block, 0)
package mock

import (
	"sync"

	"github.com/MrWong99/tunetrack/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
// Set the exported Err fields before use; inspect the CallCount* fields after.
type Stream struct {
	mu sync.Mutex

	// Config is the configuration the stream was opened with.
	Config audio.StreamConfig

	callback audio.Callback
	started  bool
	closed   bool

	// StartErr is returned by [Stream.Start].
	StartErr error

	// StopErr is returned by [Stream.Stop].
	StopErr error

	// CloseErr is returned by [Stream.Close].
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Delivered counts blocks forwarded to the callback.
	Delivered int
}

// Start implements [audio.Stream]. Returns StartErr; on success later
// [Stream.Deliver] calls reach the callback.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started = true
	return nil
}

// Stop implements [audio.Stream]. Returns StopErr.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.started = false
	return s.StopErr
}

// Close implements [audio.Stream]. Returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.started = false
	s.closed = true
	return s.CloseErr
}

// Started reports whether the stream is currently delivering blocks.
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Deliver invokes the registered callback with in and flags, as the audio
// subsystem would. It returns false without calling the callback when the
// stream is not started. The callback runs on the caller's goroutine, while
// the stream lock is held, so Deliver never overlaps with Stop.
func (s *Stream) Deliver(in []float32, flags audio.StatusFlags) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.callback == nil {
		return false
	}
	s.callback(in, flags)
	s.Delivered++
	return true
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open instead of a stream.
	OpenErr error

	// StreamTemplate, if non-nil, supplies the Err fields copied into every
	// stream returned by Open.
	StreamTemplate *Stream

	// DevicesResult is returned by Devices.
	DevicesResult []audio.DeviceInfo

	// DevicesErr is returned by Devices.
	DevicesErr error

	// OpenCalls records the configuration of every Open invocation.
	OpenCalls []audio.StreamConfig

	// Streams holds every stream returned by Open, in order.
	Streams []*Stream

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Open implements [audio.Backend]. Records the call and returns a new [Stream]
// wired to cb, or OpenErr.
func (b *Backend) Open(cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls = append(b.OpenCalls, cfg)
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	s := &Stream{Config: cfg, callback: cb}
	if t := b.StreamTemplate; t != nil {
		s.StartErr, s.StopErr, s.CloseErr = t.StartErr, t.StopErr, t.CloseErr
	}
	b.Streams = append(b.Streams, s)
	return s, nil
}

// Devices implements [audio.Backend]. Returns DevicesResult / DevicesErr.
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.DevicesResult, b.DevicesErr
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountClose++
	return nil
}

// LastStream returns the most recently opened stream, or nil.
func (b *Backend) LastStream() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Streams) == 0 {
		return nil
	}
	return b.Streams[len(b.Streams)-1]
}

// OpenCount returns the number of Open calls. Thread-safe.
func (b *Backend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.OpenCalls)
}

// Compile-time interface assertions.
var (
	_ audio.Stream  = (*Stream)(nil)
	_ audio.Backend = (*Backend)(nil)
)
