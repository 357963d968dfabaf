// Package mock provides a test double for the pitch package interfaces.
//
// Use Estimator to control the frequency returned for each frame and to count
// how many frames actually reached the estimator:
//
//	est := &mock.Estimator{Result: 110}
//	loop := tracker.New(buf, est, out, 44100)
//	...
//	if est.CallCount() != 0 { ... }
package mock

import (
	"sync"

	"github.com/MrWong99/tunetrack/pkg/pitch"
)

// EstimateCall records a single invocation of Estimator.Estimate.
type EstimateCall struct {
	// Frame is a copy of the samples passed to Estimate.
	Frame []float32

	// SampleRate is the sample rate passed to Estimate.
	SampleRate int
}

// Estimator is a mock implementation of [pitch.Estimator].
type Estimator struct {
	mu sync.Mutex

	// Result is returned by every Estimate call unless ResultFunc is set.
	Result float64

	// Err, if non-nil, is returned by every Estimate call.
	Err error

	// ResultFunc, if non-nil, computes the result per call. n is the 1-based
	// call number. It takes precedence over Result and Err.
	ResultFunc func(n int, frame []float32) (float64, error)

	// Panic, if non-empty, makes Estimate panic with this message after
	// recording the call.
	Panic string

	// RecordFrames controls whether Calls keeps a copy of every frame.
	RecordFrames bool

	// Calls records every call to Estimate in order. Frames are only copied
	// when RecordFrames is true.
	Calls []EstimateCall
}

// Estimate records the call and returns the configured result.
func (e *Estimator) Estimate(frame []float32, sampleRate int) (float64, error) {
	e.mu.Lock()
	call := EstimateCall{SampleRate: sampleRate}
	if e.RecordFrames {
		call.Frame = append([]float32(nil), frame...)
	}
	e.Calls = append(e.Calls, call)
	n := len(e.Calls)
	fn, result, err, msg := e.ResultFunc, e.Result, e.Err, e.Panic
	e.mu.Unlock()

	if msg != "" {
		panic(msg)
	}
	if fn != nil {
		return fn(n, frame)
	}
	return result, err
}

// CallCount returns the number of Estimate calls. Thread-safe.
func (e *Estimator) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
}

// Ensure Estimator implements pitch.Estimator at compile time.
var _ pitch.Estimator = (*Estimator)(nil)
