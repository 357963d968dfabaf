// Command tunetrack captures audio from an input device, tracks its
// fundamental frequency and streams the estimates to websocket clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/tunetrack/internal/app"
	"github.com/MrWong99/tunetrack/internal/config"
	"github.com/MrWong99/tunetrack/internal/observe"
	"github.com/MrWong99/tunetrack/pkg/audio"
	"github.com/MrWong99/tunetrack/pkg/audio/capture"
	"github.com/MrWong99/tunetrack/pkg/audio/portaudio"
	"github.com/MrWong99/tunetrack/pkg/pitch"
	"github.com/MrWong99/tunetrack/pkg/pitch/yin"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the input devices of the configured backend and exit")
	flag.Parse()

	reg := config.NewRegistry()
	registerBuiltins(reg)

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && *listDevices {
			cfg = &config.Config{}
			config.ApplyDefaults(cfg)
		} else if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tunetrack: config file %q not found; an empty file runs with defaults\n", *configPath)
			return 1
		} else {
			fmt.Fprintf(os.Stderr, "tunetrack: %v\n", err)
			return 1
		}
	}

	if *listDevices {
		if err := printDevices(os.Stdout, reg, cfg.Audio); err != nil {
			fmt.Fprintf(os.Stderr, "tunetrack: %v\n", err)
			return 1
		}
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("tunetrack starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend and estimator ─────────────────────────────────────────────────
	backend, err := reg.CreateBackend(cfg.Audio)
	if err != nil {
		slog.Error("failed to create capture backend", "err", err)
		return 1
	}
	est, err := reg.CreateEstimator(cfg.Estimation)
	if err != nil {
		_ = backend.Close()
		slog.Error("failed to create pitch estimator", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, backend, est, app.WithLevelVar(level))
	if err != nil {
		_ = backend.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		application.ApplyConfig(d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		var de *audio.DeviceError
		if errors.As(err, &de) {
			slog.Error("no usable input device; run with -list-devices or set audio.allow_missing_device", "err", err)
		} else {
			slog.Error("run error", "err", err)
		}
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// registerBuiltins wires the backends and estimators that ship with tunetrack
// into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterBackend("portaudio", func(config.AudioConfig) (audio.Backend, error) {
		b, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	reg.RegisterBackend("null", func(config.AudioConfig) (audio.Backend, error) {
		return capture.NullBackend{}, nil
	})

	reg.RegisterEstimator("yin", func(c config.EstimationConfig) (pitch.Estimator, error) {
		return yin.New(
			yin.WithRange(c.MinFrequency, c.MaxFrequency),
			yin.WithSubFrame(c.SubFrameSize),
		), nil
	})
}

// printDevices lists the input devices of the configured backend.
func printDevices(w io.Writer, reg *config.Registry, c config.AudioConfig) error {
	backend, err := reg.CreateBackend(c)
	if err != nil {
		return err
	}
	defer backend.Close()

	devices, err := backend.Devices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Fprintf(w, "no input devices found for backend %q\n", c.Backend)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEFAULT\tNAME\tCHANNELS\tRATE")
	for _, d := range devices {
		mark := ""
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f\n", mark, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return tw.Flush()
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
