package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher polls a config file and invokes onChange when its content changes
// and still validates. Invalid updates are logged and skipped, keeping the
// previous config live.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(*Config)
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads the initial config and starts polling in the background.
func NewWatcher(path string, interval time.Duration, logger *zap.SugaredLogger, onChange func(*Config)) (*Watcher, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	// Load falls back to defaults for a missing file, but a watcher without
	// a file has nothing to watch.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		interval: interval,
		onChange: onChange,
		logger:   logger,
		current:  cfg,
		done:     make(chan struct{}),
	}
	if data, err := os.ReadFile(path); err == nil {
		w.lastHash = sha256.Sum256(data)
	}
	if info, err := os.Stat(path); err == nil {
		w.lastMtime = info.ModTime()
	}

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the watcher goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warnw("config watcher: cannot stat file", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warnw("config watcher: cannot read file", "path", w.path, "error", err)
		return
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	unchanged := hash == w.lastHash
	w.lastMtime = info.ModTime()
	w.mu.Unlock()

	if unchanged {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warnw("config watcher: skipping invalid config update", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	w.logger.Infow("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
