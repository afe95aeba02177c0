package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Manager holds the live configuration and swaps it atomically on reload.
// Readers get an immutable snapshot; a failed reload keeps the old one.
type Manager struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewManager loads the configuration at path and wraps it for hot reload.
func NewManager(path string) (*Manager, error) {
	expanded, err := expandUserPath(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Load(expanded)
	if err != nil {
		return nil, err
	}
	return &Manager{path: expanded, current: cfg}, nil
}

// Path returns the watched file path.
func (m *Manager) Path() string { return m.path }

// Current returns the live configuration snapshot. Callers must not mutate
// it; every reload installs a fresh value.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers fn to run after every successful reload. Register all
// callbacks before Watch starts.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the file and swaps the snapshot in. Validation failures
// leave the previous configuration in place.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	for _, fn := range m.onChange {
		fn(cfg)
	}
	return nil
}

// Watch reloads the configuration whenever the file changes on disk and
// blocks until ctx is done. The parent directory is watched so editors that
// replace the file instead of writing it are still seen.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	target := filepath.Clean(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := m.Reload(); err != nil {
				log.Errorf("config: reload failed, keeping previous configuration: %v", err)
				continue
			}
			log.WithField("path", m.path).Info("configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config: watcher: %v", err)
		}
	}
}
