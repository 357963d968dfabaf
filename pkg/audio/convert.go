package audio

import "math"

// Downmix averages interleaved multi-channel samples into dst as mono and
// returns the number of frames written. It never allocates, so it is safe to
// call from a [Callback]. When channels is 1 it is a plain copy.
//
// At most len(dst) frames are written; trailing partial frames are ignored.
func Downmix(dst, interleaved []float32, channels int) int {
	if channels <= 1 {
		return copy(dst, interleaved)
	}
	frames := len(interleaved) / channels
	if frames > len(dst) {
		frames = len(dst)
	}
	scale := 1 / float32(channels)
	for i := range frames {
		var sum float32
		base := i * channels
		for c := range channels {
			sum += interleaved[base+c]
		}
		dst[i] = sum * scale
	}
	return frames
}

// RMS returns the root-mean-square amplitude of samples. An empty slice has
// an RMS of zero. Non-finite samples propagate into the result as NaN or +Inf.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
