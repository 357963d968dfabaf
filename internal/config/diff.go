package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
//
// Only the log level, the RMS gate and the poll interval can be applied to a
// running pipeline. Every other changed field is listed in RestartRequired by
// its YAML path.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	PollIntervalChanged bool
	NewPollInterval     time.Duration

	RestartRequired []string
}

// HotChanges reports whether any live-applicable field changed.
func (d ConfigDiff) HotChanges() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.PollIntervalChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Estimation.RMSThreshold != new.Estimation.RMSThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Estimation.RMSThreshold
	}
	if old.Estimation.PollInterval != new.Estimation.PollInterval {
		d.PollIntervalChanged = true
		d.NewPollInterval = new.Estimation.PollInterval
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("audio", old.Audio != new.Audio)
	restart("estimation.estimator", old.Estimation.Estimator != new.Estimation.Estimator)
	restart("estimation.min_frequency", old.Estimation.MinFrequency != new.Estimation.MinFrequency)
	restart("estimation.max_frequency", old.Estimation.MaxFrequency != new.Estimation.MaxFrequency)
	restart("estimation.sub_frame_size", old.Estimation.SubFrameSize != new.Estimation.SubFrameSize)
	restart("output", old.Output != new.Output)
	restart("display", displayChanged(old.Display, new.Display))
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}

func displayChanged(a, b DisplayConfig) bool {
	return a.Enabled != b.Enabled ||
		a.Path != b.Path ||
		a.PushInterval != b.PushInterval ||
		!slices.Equal(a.OriginPatterns, b.OriginPatterns)
}
