// config_watcher.go: Configuration hot reload with Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ConfigWatcher polls the plugin configuration file and reports every valid
// new version. Invalid versions are logged and ignored; the previous
// configuration stays active.
type ConfigWatcher struct {
	path      string
	envPrefix string
	logger    Logger
	onChange  func(*Config)

	watcher *argus.Watcher
	current atomic.Pointer[Config]

	mutex    sync.Mutex
	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewConfigWatcher creates a watcher for path. onChange runs on the
// watcher's goroutine.
func NewConfigWatcher(path, envPrefix string, interval time.Duration, logger Logger, onChange func(*Config)) (*ConfigWatcher, error) {
	if path == "" {
		return nil, NewConfigWatcherError("configuration path is empty", fmt.Errorf("no path"))
	}
	if onChange == nil {
		return nil, NewConfigWatcherError("change handler is nil", fmt.Errorf("no handler"))
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}

	cw := &ConfigWatcher{
		path:      path,
		envPrefix: envPrefix,
		logger:    logger,
		onChange:  onChange,
	}
	cw.watcher = argus.New(argus.Config{
		PollInterval:         interval,
		CacheTTL:             interval / 2,
		MaxWatchedFiles:      1,
		Audit:                argus.AuditConfig{Enabled: false},
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, file string) {
			logger.Error("Configuration file watching error", "error", err, "file", file)
		},
	})
	return cw, nil
}

// Start loads the current file and begins polling.
func (cw *ConfigWatcher) Start() error {
	if cw.stopped.Load() {
		return NewConfigWatcherError("watcher was stopped and cannot be restarted", fmt.Errorf("stopped"))
	}

	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if !cw.running.CompareAndSwap(false, true) {
		return NewConfigWatcherError("watcher is already running", fmt.Errorf("running"))
	}

	initial, err := LoadConfigFile(cw.path, cw.envPrefix)
	if err != nil {
		cw.running.Store(false)
		return err
	}
	cw.current.Store(initial)

	if err := cw.watcher.Watch(cw.path, cw.handleConfigChange); err != nil {
		cw.running.Store(false)
		return NewConfigWatcherError("failed to watch configuration file", err)
	}
	if err := cw.watcher.Start(); err != nil {
		cw.running.Store(false)
		return NewConfigWatcherError("failed to start watcher", err)
	}

	cw.logger.Info("Configuration watcher started", "path", cw.path)
	return nil
}

// Stop ends polling. A stopped watcher cannot be restarted.
func (cw *ConfigWatcher) Stop() error {
	var stopErr error
	cw.stopOnce.Do(func() {
		cw.mutex.Lock()
		defer cw.mutex.Unlock()

		cw.stopped.Store(true)
		if !cw.running.CompareAndSwap(true, false) {
			return
		}
		if err := cw.watcher.Stop(); err != nil {
			stopErr = NewConfigWatcherError("failed to stop watcher", err)
			return
		}
		cw.logger.Info("Configuration watcher stopped", "path", cw.path)
	})
	return stopErr
}

// IsRunning reports whether the watcher is polling.
func (cw *ConfigWatcher) IsRunning() bool {
	return cw.running.Load() && !cw.stopped.Load()
}

// Current returns the last valid configuration.
func (cw *ConfigWatcher) Current() *Config {
	return cw.current.Load()
}

func (cw *ConfigWatcher) handleConfigChange(event argus.ChangeEvent) {
	if event.IsDelete {
		cw.logger.Warn("Configuration file was deleted, keeping the current configuration", "path", event.Path)
		return
	}

	cfg, err := LoadConfigFile(event.Path, cw.envPrefix)
	if err != nil {
		cw.logger.Error("Ignoring invalid configuration change", "path", event.Path, "error", err)
		return
	}

	cw.current.Store(cfg)
	cw.logger.Debug("Configuration change detected",
		"path", event.Path,
		"size", event.Size,
		"mod_time", event.ModTime)
	cw.onChange(cfg)
}
