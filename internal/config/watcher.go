package config

import (
	"errors"
)

// Errors returned by NewConfigWatcher.
var (
	ErrMissingConfigFile = errors.New("config: file path is required")
	ErrMissingOnChange   = errors.New("config: onChange callback is required")
)

// ConfigWatcher is a standalone convenience wrapper around Manager for
// callers that only want change notifications, not the full manager
// surface (GetConfig/SetOnUpdate). It delegates to viper's fsnotify-backed
// watch rather than polling the filesystem itself.
type ConfigWatcher struct {
	mgr      *Manager
	onChange func(oldCfg, newCfg *Config)
}

// WatcherConfig configures a ConfigWatcher.
type WatcherConfig struct {
	FilePath string
	OnChange func(oldCfg, newCfg *Config)
}

// NewConfigWatcher loads cfg.FilePath and starts watching it for changes.
func NewConfigWatcher(cfg *WatcherConfig) (*ConfigWatcher, error) {
	if cfg.FilePath == "" {
		return nil, ErrMissingConfigFile
	}
	if cfg.OnChange == nil {
		return nil, ErrMissingOnChange
	}

	mgr, err := NewManagerFromFile(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	w := &ConfigWatcher{mgr: mgr, onChange: cfg.OnChange}
	mgr.SetOnUpdate(func(old, new *Config) {
		w.onChange(old, new)
	})
	return w, nil
}

// Start begins watching the config file for changes.
func (w *ConfigWatcher) Start() error {
	return w.mgr.Watch()
}

// Config returns the currently active configuration.
func (w *ConfigWatcher) Config() *Config {
	return w.mgr.GetConfig()
}
