package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"autoscope/internal/instrument"
	"autoscope/internal/logging"
)

// Watcher reloads the config file on change and pushes the new safety limits
// to the instrument package so a running loop picks them up at its next
// validation. The reload fires after events settle, so a half-written file
// mid-save is never read.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onReload func(*Config)
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	log      *zap.Logger
}

// NewWatcher builds a watcher for the config file at path. onReload, if
// non-nil, is called with each successfully reloaded config after the limits
// have been applied.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		path:     path,
		onReload: onReload,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      logging.Get("config"),
	}, nil
}

// Start begins watching. Non-blocking; the watcher runs in a goroutine until
// Stop is called or the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	// Watch the directory, not the file: editors replace files on save and
	// a file watch would be lost after the first rename. Only a successful
	// watch marks the watcher running, so Stop after a failed Start does not
	// wait on a goroutine that never launched.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true
	w.log.Info("watching config", zap.String("path", w.path))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var settled <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				settled = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-settled:
			timer = nil
			settled = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn("config reload rejected", zap.Error(err))
		return
	}
	instrument.SetActiveLimits(cfg.Limits())
	w.log.Info("config reloaded",
		zap.Float64("exposure_max_ms", cfg.Instrument.ExposureMaxMs),
		zap.Float64("xy_max_um", cfg.Instrument.XYMaxUm))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
