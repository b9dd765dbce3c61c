package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigManager provides thread-safe access to live configuration.
type ConfigManager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager provides thread-safe read-heavy config access using RWMutex.
type RWMutexManager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager constructs a manager with an initial config.
func NewManager(initial *Config) *RWMutexManager {
	return &RWMutexManager{cfg: initial.Clone()}
}

// NewRWMutexManager is an alias for NewManager.
func NewRWMutexManager(initial *Config) *RWMutexManager {
	return NewManager(initial)
}

// LoadManager loads path and wraps the result in a manager.
func LoadManager(path string) (*RWMutexManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

// Get returns a cloned config snapshot under a shared lock.
//
// Returning a clone prevents shared mutable state from leaking across readers.
func (m *RWMutexManager) Get() *Config {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Set updates the current config pointer under an exclusive lock.
func (m *RWMutexManager) Set(cfg *Config) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
}

// Reload loads config from path and atomically swaps it into place.
//
// Fields that cannot safely change underneath a running process (the state
// database path, the API bind address) are rejected: reload fails rather
// than letting the process drift out from under open file handles or
// listening sockets.
func (m *RWMutexManager) Reload(path string) error {
	if m == nil {
		return fmt.Errorf("config manager is nil")
	}
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg != nil {
		if err := validateImmutable(m.cfg, loaded); err != nil {
			return err
		}
	}

	m.cfg = loaded.Clone()
	return nil
}

func validateImmutable(current, next *Config) error {
	if current.General.StateDB != next.General.StateDB {
		return fmt.Errorf("general.state_db cannot change on reload (%q -> %q)", current.General.StateDB, next.General.StateDB)
	}
	if current.API.Bind != next.API.Bind {
		return fmt.Errorf("api.bind cannot change on reload (%q -> %q)", current.API.Bind, next.API.Bind)
	}
	return nil
}

var _ ConfigManager = (*RWMutexManager)(nil)

// WatchForReload watches path for writes and calls m.Reload on each one,
// logging (not returning) errors so a single bad edit doesn't kill the
// watcher. The returned watcher must be closed by the caller.
func WatchForReload(m *RWMutexManager, path string, logger *slog.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching config %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Reload(path); err != nil {
					logger.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				logger.Info("config reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}
