package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInputDevice is wrapped by [DeviceError] when no input device is
	// available or the named device does not exist.
	ErrNoInputDevice = errors.New("audio: no compatible input device")

	// ErrUnsupportedConfig is wrapped by [DeviceError] when the device rejects
	// the requested sample rate, channel count, or block size.
	ErrUnsupportedConfig = errors.New("audio: unsupported stream configuration")
)

// DeviceError reports that a hardware input stream could not be opened,
// configured, or started. It is the only capture failure surfaced to callers;
// everything that goes wrong after the stream is running is absorbed.
type DeviceError struct {
	// Op is the operation that failed ("open", "start", "stop", ...).
	Op string

	// Device is the requested device name, or empty for the system default.
	Device string

	// Err is the underlying cause. It usually wraps [ErrNoInputDevice] or
	// [ErrUnsupportedConfig] together with the backend's own error.
	Err error
}

func (e *DeviceError) Error() string {
	dev := e.Device
	if dev == "" {
		dev = "default"
	}
	return fmt.Sprintf("audio: %s input device %q: %v", e.Op, dev, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
