// Package config provides the configuration schema, loader, hot-reload watcher
// and backend registry for the tunetrack pitch tracker.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/tunetrack/pkg/audio"
	"github.com/MrWong99/tunetrack/pkg/queue"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultBackend       = "portaudio"
	DefaultEstimator     = "yin"
	DefaultPollInterval  = 10 * time.Millisecond
	DefaultRMSThreshold  = 0.01
	DefaultMinFrequency  = 50.0
	DefaultMaxFrequency  = 500.0
	DefaultSubFrameSize  = 2048
	DefaultCapacity      = 5
	DefaultDisplayPath   = "/ws"
	DefaultPushInterval  = 50 * time.Millisecond
	DefaultServiceName   = "tunetrack"
	DefaultMetricsPath   = "/metrics"
	DefaultOverflowLabel = "drop-newest"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Estimation EstimationConfig `yaml:"estimation"`
	Output     OutputConfig     `yaml:"output"`
	Display    DisplayConfig    `yaml:"display"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server (health, metrics,
	// display).
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects and parameterises the capture device.
type AudioConfig struct {
	// Backend names a capture backend registered in the [Registry]
	// ("portaudio" or "null").
	Backend string `yaml:"backend"`

	// Device is the exact input device name as printed by -list-devices.
	// Empty selects the system default input.
	Device string `yaml:"device"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// BlockSize is the number of frames per callback and per analysis frame.
	BlockSize int `yaml:"block_size"`

	// Slots is the number of frames held by the rolling buffer.
	Slots int `yaml:"slots"`

	// AllowMissingDevice keeps the service running when the capture stream
	// cannot be started. The estimation loop then polls an empty buffer and
	// /readyz reports the capture check as failing.
	AllowMissingDevice bool `yaml:"allow_missing_device"`
}

// StreamConfig converts the audio section to an [audio.StreamConfig].
func (a AudioConfig) StreamConfig() audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		BlockSize:  a.BlockSize,
		Device:     a.Device,
	}
}

// EstimationConfig tunes the estimation loop and the pitch estimator.
type EstimationConfig struct {
	// Estimator names a pitch estimator registered in the [Registry].
	Estimator string `yaml:"estimator"`

	// PollInterval is the idle sleep after a miss, a gated frame or a failed
	// estimate.
	// Hot-reloadable.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RMSThreshold is the energy gate. Hot-reloadable.
	RMSThreshold float64 `yaml:"rms_threshold"`

	MinFrequency float64 `yaml:"min_frequency"`
	MaxFrequency float64 `yaml:"max_frequency"`

	// SubFrameSize is the analysis window inside one frame.
	SubFrameSize int `yaml:"sub_frame_size"`
}

// OutputConfig sizes the estimate queue.
type OutputConfig struct {
	Capacity int `yaml:"capacity"`

	// OverflowPolicy is "drop-newest" (default) or "drop-oldest".
	OverflowPolicy string `yaml:"overflow_policy"`
}

// Policy parses OverflowPolicy. Call after [Validate].
func (o OutputConfig) Policy() queue.Policy {
	p, _ := queue.ParsePolicy(o.OverflowPolicy)
	return p
}

// DisplayConfig configures the websocket display stream.
type DisplayConfig struct {
	// Enabled serves estimates on Path. When false, estimates are logged at
	// Debug instead.
	Enabled bool `yaml:"enabled"`

	Path string `yaml:"path"`

	// PushInterval is how often the output queue is drained and broadcast.
	PushInterval time.Duration `yaml:"push_interval"`

	// OriginPatterns lists extra Origin hosts allowed to open the stream,
	// e.g. "localhost:3000" or "*.example.com". Same-origin clients are
	// always accepted.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// MetricsPath is where the Prometheus exposition is served.
	MetricsPath string `yaml:"metrics_path"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.Backend, DefaultBackend)
	setDefault(&cfg.Audio.SampleRate, audio.DefaultSampleRate)
	setDefault(&cfg.Audio.Channels, audio.DefaultChannels)
	setDefault(&cfg.Audio.BlockSize, audio.DefaultBlockSize)
	setDefault(&cfg.Audio.Slots, audio.DefaultSlots)

	setDefault(&cfg.Estimation.Estimator, DefaultEstimator)
	setDefault(&cfg.Estimation.PollInterval, DefaultPollInterval)
	setDefault(&cfg.Estimation.RMSThreshold, DefaultRMSThreshold)
	setDefault(&cfg.Estimation.MinFrequency, DefaultMinFrequency)
	setDefault(&cfg.Estimation.MaxFrequency, DefaultMaxFrequency)
	setDefault(&cfg.Estimation.SubFrameSize, DefaultSubFrameSize)

	setDefault(&cfg.Output.Capacity, DefaultCapacity)
	setDefault(&cfg.Output.OverflowPolicy, DefaultOverflowLabel)

	setDefault(&cfg.Display.Path, DefaultDisplayPath)
	setDefault(&cfg.Display.PushInterval, DefaultPushInterval)

	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
	setDefault(&cfg.Telemetry.MetricsPath, DefaultMetricsPath)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
