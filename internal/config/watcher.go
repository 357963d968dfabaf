package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 2 * time.Second

// ChangeFunc is called with the previous and the newly loaded config and
// their [Diff].
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and reports changes that parse and validate.
// A broken edit is logged and skipped; [Watcher.Current] keeps returning the
// last good config. Edits that change nothing the pipeline reads, such as
// comments or reordering, are not reported.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu   sync.Mutex
	last snapshot

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// snapshot is one successfully loaded version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and polls it in a background goroutine until
// [Watcher.Stop]. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	go w.loop()
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends polling and returns once an in-flight check, callback included,
// has finished. Repeated calls are no-ops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.exited
}

func (w *Watcher) loop() {
	defer close(w.exited)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.check()
		}
	}
}

// check reloads the file once its mtime moves. Only a new content hash with a
// non-empty Diff reaches onChange.
func (w *Watcher) check() {
	log := slog.With("path", w.path)

	info, err := os.Stat(w.path)
	if err != nil {
		log.Warn("config watcher: cannot stat file", "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		log.Warn("config watcher: keeping previous config", "err", err)
		return
	}

	w.mu.Lock()
	prev := w.last
	w.last.mtime = next.mtime
	if next.sum == prev.sum {
		w.mu.Unlock()
		return
	}
	d := Diff(prev.cfg, next.cfg)
	if !d.HotChanges() && len(d.RestartRequired) == 0 {
		w.last.sum = next.sum
		w.mu.Unlock()
		log.Debug("config watcher: file changed without effective changes")
		return
	}
	w.last = next
	w.mu.Unlock()

	log.Info("config watcher: configuration reloaded",
		"hot_changes", d.HotChanges(),
		"restart_required", d.RestartRequired,
	)
	// Unlocked so the callback may call Current.
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg, d)
	}
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
