package capture

import "github.com/MrWong99/tunetrack/pkg/audio"

// NullBackend is an [audio.Backend] with no devices. Every Open fails with an
// [audio.ErrNoInputDevice] device error. It lets the service run headless (for
// example in CI or containers without sound hardware) with the estimation loop
// polling an empty buffer.
type NullBackend struct{}

// Open implements [audio.Backend]. It always fails.
func (NullBackend) Open(cfg audio.StreamConfig, _ audio.Callback) (audio.Stream, error) {
	return nil, &audio.DeviceError{Op: "open", Device: cfg.Device, Err: audio.ErrNoInputDevice}
}

// Devices implements [audio.Backend]. It returns no devices.
func (NullBackend) Devices() ([]audio.DeviceInfo, error) { return nil, nil }

// Close implements [audio.Backend].
func (NullBackend) Close() error { return nil }

var _ audio.Backend = NullBackend{}
