package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWrite is a var so tests can zero it out.
var debounceWrite = 200 * time.Millisecond

// watcherOsStat is a var so tests can mock a missing config directory.
var watcherOsStat = os.Stat

// Watcher reloads cfg whenever the .env file under cfg.ConfigPath changes.
type Watcher struct {
	cfg     *Config
	envPath string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher builds (but does not start) a Watcher for cfg's config
// directory. If the directory doesn't exist yet, the underlying fsnotify
// watcher is still created but watches nothing; the directory is not added
// later, so a .env file created there afterwards is not picked up.
func NewWatcher(cfg *Config) (*Watcher, error) {
	envPath := filepath.Join(cfg.ConfigPath, ".env")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(envPath)
	if _, err := watcherOsStat(dir); err == nil {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	return &Watcher{cfg: cfg, envPath: envPath, watcher: fw, done: make(chan struct{})}, nil
}

// Start launches the background goroutine that watches for changes.
func (w *Watcher) Start() error {
	go w.handleEvents(w.watcher.Events, w.watcher.Errors)
	return nil
}

// Stop ends the watch goroutine and releases the fsnotify handle.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) handleEvents(events <-chan fsnotify.Event, errs <-chan error) {
	var debounce *time.Timer
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.envPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceWrite == 0 {
				w.reload()
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWrite, w.reload)
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config: watcher error")
		}
	}
}

func (w *Watcher) reload() {
	Reload(w.cfg)
	log.Info().Str("mode", w.cfg.Mode).Msg("config: reloaded from .env change")
}
