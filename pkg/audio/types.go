package audio

import (
	"errors"
	"fmt"
)

// Default capture parameters. A block of 8192 samples at 44.1 kHz is roughly
// 186 ms of audio, long enough to resolve a low E string over several periods.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
	DefaultBlockSize  = 8192
	DefaultSlots      = 5
)

// StreamConfig describes the hardware input stream requested by a capture
// driver. It is consumed once when the stream is opened.
type StreamConfig struct {
	// SampleRate in Hz (e.g., 44100).
	SampleRate int

	// Channels is the number of interleaved channels delivered by the device.
	// Multi-channel input is downmixed to mono before it reaches the buffer.
	Channels int

	// BlockSize is the number of frames delivered per callback. It must equal
	// the slot capacity of the [RollingBuffer] the driver writes into.
	BlockSize int

	// Device selects an input device by name. Empty selects the system default.
	Device string
}

// Validate reports whether c describes a stream that can be requested at all.
// Whether the hardware actually supports it is only known when it is opened.
func (c StreamConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be > 0", c.SampleRate))
	}
	if c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels %d must be > 0", c.Channels))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size %d must be > 0", c.BlockSize))
	}
	return errors.Join(errs...)
}

// String returns a human-readable description, e.g. "44100Hz mono, 8192 frames".
func (c StreamConfig) String() string {
	return fmt.Sprintf("%s, %d frames", formatString(c.SampleRate, c.Channels), c.BlockSize)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
