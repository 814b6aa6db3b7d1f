package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the config file when it changes on disk.
// It watches the parent directory so that editors and deploy tools that
// replace the file by rename are picked up as well.
type ConfigWatcher struct {
	path     string
	onChange chan *Config
	onError  chan error
	debounce time.Duration
	logger   logger.ILogger
}

// NewConfigWatcher creates a new config file watcher.
func NewConfigWatcher(path string, log logger.ILogger) *ConfigWatcher {
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		onChange: make(chan *Config, 1),
		onError:  make(chan error, 1),
		debounce: 100 * time.Millisecond,
		logger:   log.SubLogger("ConfigWatcher"),
	}
}

// Changes returns channel that receives new configs on file changes.
func (w *ConfigWatcher) Changes() <-chan *Config {
	return w.onChange
}

// Errors returns channel that receives errors during reload.
func (w *ConfigWatcher) Errors() <-chan error {
	return w.onError
}

// Start begins watching the config file.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Debugf("started watching config file: path=%s", w.path)
	go w.watchLoop(ctx, watcher)
	return nil
}

func (w *ConfigWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			w.logger.Debug("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debugf("config file change detected: op=%s", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceChan = debounceTimer.C

		case <-debounceChan:
			debounceChan = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("fsnotify error: %v", err)
			w.sendError(err)
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Errorf("failed to reload config: %v", err)
		w.sendError(err)
		return
	}

	w.logger.Infof("config reloaded: path=%s, jobs=%d", w.path, len(cfg.Jobs))

	select {
	case w.onChange <- cfg:
	default:
		// Replace the pending update with the newer one.
		select {
		case <-w.onChange:
		default:
		}
		select {
		case w.onChange <- cfg:
		default:
			w.logger.Warning("config change channel full, dropping update")
		}
	}
}

func (w *ConfigWatcher) sendError(err error) {
	select {
	case w.onError <- err:
	default:
	}
}
