package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/tunetrack/internal/config"
)

func defaults() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := defaults()
	d := config.Diff(cfg, cfg)
	if d.HotChanges() {
		t.Errorf("HotChanges() = true for identical configs: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	old := defaults()
	new := defaults()
	new.Server.LogLevel = config.LogDebug
	new.Estimation.RMSThreshold = 0.02
	new.Estimation.PollInterval = 25 * time.Millisecond

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q, want true/debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.ThresholdChanged || d.NewThreshold != 0.02 {
		t.Errorf("threshold diff = %v/%v, want true/0.02", d.ThresholdChanged, d.NewThreshold)
	}
	if !d.PollIntervalChanged || d.NewPollInterval != 25*time.Millisecond {
		t.Errorf("poll interval diff = %v/%v, want true/25ms", d.PollIntervalChanged, d.NewPollInterval)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("hot fields reported as needing restart: %v", d.RestartRequired)
	}
}

func TestDiff_RestartFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		mutate func(*config.Config)
	}{
		{"server.listen_addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }},
		{"audio", func(c *config.Config) { c.Audio.SampleRate = 48000 }},
		{"audio", func(c *config.Config) { c.Audio.Device = "USB" }},
		{"estimation.estimator", func(c *config.Config) { c.Estimation.Estimator = "other" }},
		{"estimation.min_frequency", func(c *config.Config) { c.Estimation.MinFrequency = 70 }},
		{"estimation.max_frequency", func(c *config.Config) { c.Estimation.MaxFrequency = 1000 }},
		{"estimation.sub_frame_size", func(c *config.Config) { c.Estimation.SubFrameSize = 1024 }},
		{"output", func(c *config.Config) { c.Output.OverflowPolicy = "drop-oldest" }},
		{"display", func(c *config.Config) { c.Display.Enabled = true }},
		{"display", func(c *config.Config) { c.Display.OriginPatterns = []string{"localhost:3000"} }},
		{"telemetry", func(c *config.Config) { c.Telemetry.MetricsPath = "/prom" }},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			old, new := defaults(), defaults()
			tc.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tc.path}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tc.path)
			}
			if d.HotChanges() {
				t.Errorf("HotChanges() = true for %s", tc.path)
			}
		})
	}
}
