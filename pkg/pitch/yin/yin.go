// Package yin implements [pitch.Estimator] with the YIN algorithm
// (de Cheveigné & Kawahara, 2002).
//
// A frame is split into overlapping sub-frames. Each sub-frame yields one f0
// candidate from the cumulative mean normalised difference function; the
// estimate for the whole frame is the median of those candidates, which
// suppresses the occasional octave jump of a single sub-frame.
package yin

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/tunetrack/pkg/pitch"
)

// Defaults match a guitar/voice tuner: 50–500 Hz, 2048-sample analysis
// windows advanced by a quarter window.
const (
	DefaultMinFrequency = 50.0
	DefaultMaxFrequency = 500.0
	DefaultThreshold    = 0.1
	DefaultSubFrameSize = 2048
)

// Option configures a [Detector].
type Option func(*Detector)

// WithRange bounds the detectable fundamental to [minHz, maxHz]. Values that do
// not satisfy 0 < minHz < maxHz are ignored.
func WithRange(minHz, maxHz float64) Option {
	return func(d *Detector) {
		if minHz > 0 && maxHz > minHz {
			d.minFreq, d.maxFreq = minHz, maxHz
		}
	}
}

// WithThreshold sets the absolute threshold applied to the normalised
// difference function. Lower values are stricter. Must be in (0, 1).
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 && t < 1 {
			d.threshold = t
		}
	}
}

// WithSubFrame sets the analysis window length in samples. The hop between
// windows is a quarter of it. Frames shorter than the window are analysed
// as a single window.
func WithSubFrame(size int) Option {
	return func(d *Detector) {
		if size > 0 {
			d.subFrame = size
		}
	}
}

// Detector is a YIN pitch estimator. It holds no per-call state and is safe
// for concurrent use.
type Detector struct {
	minFreq   float64
	maxFreq   float64
	threshold float64
	subFrame  int
}

// New creates a Detector with the given options applied over the defaults.
func New(opts ...Option) *Detector {
	d := &Detector{
		minFreq:   DefaultMinFrequency,
		maxFreq:   DefaultMaxFrequency,
		threshold: DefaultThreshold,
		subFrame:  DefaultSubFrameSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Estimate implements [pitch.Estimator]. It returns [pitch.ErrInvalidFrame] for
// empty or non-finite input, or when the frame is too short to contain one
// period of the lowest detectable frequency, and [pitch.ErrNoPitch] when no
// sub-frame carries any signal.
func (d *Detector) Estimate(frame []float32, sampleRate int) (float64, error) {
	if len(frame) == 0 || sampleRate <= 0 {
		return 0, pitch.ErrInvalidFrame
	}
	x := make([]float64, len(frame))
	for i, s := range frame {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: non-finite sample at index %d", pitch.ErrInvalidFrame, i)
		}
		x[i] = v
	}

	sr := float64(sampleRate)
	tauMin := max(int(math.Floor(sr/d.maxFreq)), 2)
	tauMax := int(math.Ceil(sr / d.minFreq))

	window := min(d.subFrame, len(x))
	if window <= tauMax+1 {
		return 0, fmt.Errorf("%w: %d samples cannot resolve %.1f Hz at %d Hz", pitch.ErrInvalidFrame, window, d.minFreq, sampleRate)
	}
	hop := max(window/4, 1)

	diff := make([]float64, tauMax+2)
	var candidates []float64
	for start := 0; start+window <= len(x); start += hop {
		if f0, ok := d.subFrameF0(x[start:start+window], diff, sr, tauMin, tauMax); ok {
			candidates = append(candidates, f0)
		}
	}
	if len(candidates) == 0 {
		return 0, pitch.ErrNoPitch
	}

	return median(candidates), nil
}

// median sorts xs in place and returns its median. An even count averages
// the two middle values.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return stat.Mean(xs[n/2-1:n/2+1], nil)
}

// subFrameF0 runs YIN on one analysis window. diff is scratch space of length
// tauMax+2. It reports false for windows without signal.
func (d *Detector) subFrameF0(x, diff []float64, sr float64, tauMin, tauMax int) (float64, bool) {
	w := len(x) - tauMax - 1

	// Difference function.
	var energy float64
	for tau := 1; tau <= tauMax+1; tau++ {
		var sum float64
		for j := range w {
			delta := x[j] - x[j+tau]
			sum += delta * delta
		}
		diff[tau] = sum
		energy += sum
	}
	if energy == 0 {
		return 0, false
	}

	// Cumulative mean normalised difference, in place.
	diff[0] = 1
	var running float64
	for tau := 1; tau <= tauMax+1; tau++ {
		running += diff[tau]
		if running == 0 {
			diff[tau] = 1
			continue
		}
		diff[tau] *= float64(tau) / running
	}

	// Absolute threshold: first dip below the threshold, walked down to its
	// local minimum. Without one, fall back to the global minimum.
	best := -1
	for tau := tauMin; tau <= tauMax; tau++ {
		if diff[tau] < d.threshold {
			for tau+1 <= tauMax && diff[tau+1] < diff[tau] {
				tau++
			}
			best = tau
			break
		}
	}
	if best < 0 {
		best = tauMin
		for tau := tauMin + 1; tau <= tauMax; tau++ {
			if diff[tau] < diff[best] {
				best = tau
			}
		}
	}

	period := parabolic(diff, best)
	if period <= 0 {
		return 0, false
	}
	return sr / period, true
}

// parabolic refines the integer lag tau by fitting a parabola through its
// neighbours.
func parabolic(y []float64, tau int) float64 {
	if tau <= 0 || tau+1 >= len(y) {
		return float64(tau)
	}
	a, b, c := y[tau-1], y[tau], y[tau+1]
	den := a - 2*b + c
	if den == 0 {
		return float64(tau)
	}
	shift := 0.5 * (a - c) / den
	if math.Abs(shift) > 1 {
		return float64(tau)
	}
	return float64(tau) + shift
}

var _ pitch.Estimator = (*Detector)(nil)
