package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tunetrack/pkg/queue"
)

// KnownNames lists the built-in registry names per kind. [Validate] warns
// about names outside these lists since a custom build may register more.
var KnownNames = map[string][]string{
	"backend":   {"portaudio", "null"},
	"estimator": {"yin"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	warnUnknownName("backend", cfg.Audio.Backend)
	if err := cfg.Audio.StreamConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.Slots < 1 {
		errs = append(errs, fmt.Errorf("audio.slots must be >= 1, got %d", cfg.Audio.Slots))
	}

	e := cfg.Estimation
	warnUnknownName("estimator", e.Estimator)
	if e.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("estimation.poll_interval must not be negative, got %s", e.PollInterval))
	}
	if e.RMSThreshold < 0 || e.RMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("estimation.rms_threshold %.4f is out of range [0, 1]", e.RMSThreshold))
	}
	if e.MinFrequency <= 0 || e.MaxFrequency <= e.MinFrequency {
		errs = append(errs, fmt.Errorf("estimation: need 0 < min_frequency < max_frequency, got %.1f and %.1f", e.MinFrequency, e.MaxFrequency))
	}
	if cfg.Audio.SampleRate > 0 && e.MaxFrequency >= float64(cfg.Audio.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("estimation.max_frequency %.1f must be below the Nyquist frequency %d", e.MaxFrequency, cfg.Audio.SampleRate/2))
	}
	if e.SubFrameSize < 1 {
		errs = append(errs, fmt.Errorf("estimation.sub_frame_size must be >= 1, got %d", e.SubFrameSize))
	} else if cfg.Audio.BlockSize > 0 && e.SubFrameSize > cfg.Audio.BlockSize {
		slog.Warn("estimation.sub_frame_size exceeds audio.block_size; each frame is analysed as one window",
			"sub_frame_size", e.SubFrameSize,
			"block_size", cfg.Audio.BlockSize,
		)
	}
	if window, lag := analysisWindow(cfg), maxLag(cfg); window > 0 && lag > 0 && window <= lag+1 {
		errs = append(errs, fmt.Errorf("estimation: a %d-sample window cannot resolve min_frequency %.1f Hz at %d Hz; need more than %d samples",
			window, e.MinFrequency, cfg.Audio.SampleRate, lag+1))
	}

	if cfg.Output.Capacity < 1 {
		errs = append(errs, fmt.Errorf("output.capacity must be >= 1, got %d", cfg.Output.Capacity))
	}
	if _, err := queue.ParsePolicy(cfg.Output.OverflowPolicy); err != nil {
		errs = append(errs, fmt.Errorf("output.overflow_policy: %w", err))
	}

	if cfg.Display.Enabled {
		if cfg.Display.Path == "" || cfg.Display.Path[0] != '/' {
			errs = append(errs, fmt.Errorf("display.path %q must start with /", cfg.Display.Path))
		}
		if cfg.Display.PushInterval <= 0 {
			errs = append(errs, fmt.Errorf("display.push_interval must be > 0, got %s", cfg.Display.PushInterval))
		}
		if cfg.Display.Path == cfg.Telemetry.MetricsPath {
			errs = append(errs, fmt.Errorf("display.path and telemetry.metrics_path are both %q", cfg.Display.Path))
		}
	}
	if cfg.Telemetry.MetricsPath == "" || cfg.Telemetry.MetricsPath[0] != '/' {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", cfg.Telemetry.MetricsPath))
	}

	return errors.Join(errs...)
}

// analysisWindow is the number of samples the estimator analyses at once:
// the sub-frame, capped at one block.
func analysisWindow(cfg *Config) int {
	w := cfg.Estimation.SubFrameSize
	if b := cfg.Audio.BlockSize; b > 0 && b < w {
		w = b
	}
	return w
}

// maxLag is the period in samples of min_frequency, rounded up. Zero when
// either rate is unusable.
func maxLag(cfg *Config) int {
	if cfg.Audio.SampleRate <= 0 || cfg.Estimation.MinFrequency <= 0 {
		return 0
	}
	return int(math.Ceil(float64(cfg.Audio.SampleRate) / cfg.Estimation.MinFrequency))
}

// warnUnknownName logs a warning if name is non-empty and not in
// [KnownNames] for kind.
func warnUnknownName(kind, name string) {
	if name == "" || slices.Contains(KnownNames[kind], name) {
		return
	}
	slog.Warn("unknown "+kind+" name; it must be registered by this build",
		"name", name,
		"known", KnownNames[kind],
	)
}
