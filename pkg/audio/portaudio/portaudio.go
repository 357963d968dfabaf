// Package portaudio implements [audio.Backend] on top of PortAudio via
// github.com/gordonklaus/portaudio.
//
// Building requires the PortAudio development headers:
//
//	macos:   brew install portaudio
//	debian:  sudo apt-get install portaudio19-dev
//	windows: pacman -S mingw-w64-x86_64-portaudio
//
// Streams are opened in callback mode with float32 samples, so PortAudio
// invokes the registered [audio.Callback] on its own real-time thread once per
// block.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/tunetrack/pkg/audio"
)

// Backend is a PortAudio-backed [audio.Backend]. Create it with [New] and
// release it with [Backend.Close] once every stream is closed.
type Backend struct {
	closeOnce sync.Once
	closeErr  error
}

// New initialises the PortAudio library. Initialisation failures are reported
// as an [*audio.DeviceError] since nothing can be captured without it.
func New() (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Op: "initialise", Err: err}
	}
	return &Backend{}, nil
}

// Open implements [audio.Backend]. The requested device must exist, offer at
// least cfg.Channels input channels, and accept the sample rate and block
// size; otherwise an [*audio.DeviceError] is returned.
func (b *Backend) Open(cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	dev, err := findInputDevice(cfg.Device)
	if err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: cfg.Device, Err: err}
	}
	if dev.MaxInputChannels < cfg.Channels {
		return nil, &audio.DeviceError{
			Op:     "open",
			Device: cfg.Device,
			Err:    fmt.Errorf("%w: device offers %d input channels, %d requested", audio.ErrUnsupportedConfig, dev.MaxInputChannels, cfg.Channels),
		}
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BlockSize,
	}
	process := func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		var status audio.StatusFlags
		if flags&portaudio.InputOverflow != 0 {
			status |= audio.InputOverflow
		}
		if flags&portaudio.InputUnderflow != 0 {
			status |= audio.InputUnderflow
		}
		cb(in, status)
	}

	if err := portaudio.IsFormatSupported(params, process); err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: cfg.Device, Err: errors.Join(audio.ErrUnsupportedConfig, err)}
	}

	s, err := portaudio.OpenStream(params, process)
	if err != nil {
		return nil, &audio.DeviceError{Op: "open", Device: cfg.Device, Err: errors.Join(audio.ErrUnsupportedConfig, err)}
	}
	return &stream{s: s}, nil
}

// Devices implements [audio.Backend]. Only devices with input channels are
// returned.
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []audio.DeviceInfo
	for _, d := range devs {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, audio.DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// Close terminates the PortAudio library. Subsequent calls return the result
// of the first.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = portaudio.Terminate()
	})
	return b.closeErr
}

// findInputDevice resolves name to a PortAudio device by exact name, as
// printed by -list-devices. An empty name selects the default input device.
func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, errors.Join(audio.ErrNoInputDevice, err)
		}
		if dev == nil {
			return nil, audio.ErrNoInputDevice
		}
		return dev, nil
	}

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, errors.Join(audio.ErrNoInputDevice, err)
	}
	return pickInputDevice(devs, name)
}

// pickInputDevice returns the first device in devs whose name equals name
// exactly and that has at least one input channel.
func pickInputDevice(devs []*portaudio.DeviceInfo, name string) (*portaudio.DeviceInfo, error) {
	for _, d := range devs {
		if d != nil && d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device named %q", audio.ErrNoInputDevice, name)
}

// stream adapts *portaudio.Stream to [audio.Stream].
type stream struct {
	s *portaudio.Stream

	mu      sync.Mutex
	started bool
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.s.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.s.Stop()
}

func (s *stream) Close() error {
	return s.s.Close()
}

var _ audio.Backend = (*Backend)(nil)
