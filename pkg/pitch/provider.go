// Package pitch defines the Estimator interface for fundamental-frequency
// estimation backends and the Estimate value the tracker publishes.
//
// An estimator is a pure function over one mono frame: the same samples at the
// same sample rate always produce the same result. It is allowed to take a few
// milliseconds, which is why it runs on the estimation goroutine rather than on
// the audio callback thread.
//
// The YIN implementation lives in pitch/yin; pitch/mock provides a recording
// test double.
package pitch

import (
	"errors"
	"time"
)

var (
	// ErrInvalidFrame is returned for empty frames or frames containing
	// non-finite samples.
	ErrInvalidFrame = errors.New("pitch: invalid frame")

	// ErrNoPitch is returned when the frame contains no periodic component in
	// the estimator's frequency range.
	ErrNoPitch = errors.New("pitch: no pitch detected")
)

// Estimator estimates the fundamental frequency of a mono audio frame.
//
// Implementations must be safe for concurrent use and deterministic for a given
// frame and sample rate.
type Estimator interface {
	// Estimate returns the best-estimate fundamental frequency of frame in Hz.
	// frame holds mono float32 samples in [-1, 1] captured at sampleRate.
	// The estimator must not retain frame after returning.
	Estimate(frame []float32, sampleRate int) (float64, error)
}

// EstimatorFunc adapts an ordinary function to the [Estimator] interface.
type EstimatorFunc func(frame []float32, sampleRate int) (float64, error)

// Estimate calls f(frame, sampleRate).
func (f EstimatorFunc) Estimate(frame []float32, sampleRate int) (float64, error) {
	return f(frame, sampleRate)
}

// Estimate is one fundamental-frequency reading published to consumers.
type Estimate struct {
	// Frequency is the estimated fundamental in Hz.
	Frequency float64 `json:"hz"`

	// Level is the RMS amplitude of the frame the estimate was taken from.
	Level float64 `json:"rms"`

	// At is when the estimate was produced. Consumers rely on delivery order,
	// not on this field, for sequencing.
	At time.Time `json:"at"`
}
