package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/oba-hashkv/hashkv/internal/logging"
)

// Manager holds the process's live configuration and supports hot reload:
// a caller registers an OnUpdate callback, then Watch lets viper's
// fsnotify-backed file watcher re-decode and re-validate the file whenever
// it changes on disk.
type Manager struct {
	mu         sync.RWMutex
	cfg        *Config
	v          *viper.Viper
	configFile string
	onUpdate   func(old, new *Config)
	log        logging.Logger
}

// NewManager creates a Manager around an already-loaded config. configFile
// may be empty if cfg didn't come from a file (Watch is then a no-op).
func NewManager(cfg *Config, configFile string, v *viper.Viper) *Manager {
	if v == nil {
		v = newViper()
	}
	return &Manager{
		cfg:        cfg,
		v:          v,
		configFile: configFile,
		log:        logging.NewNop(),
	}
}

// NewManagerFromFile loads path and wraps the result in a Manager whose
// Watch call will observe further changes to that same file.
func NewManagerFromFile(path string) (*Manager, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if errs := ValidateConfig(cfg); len(errs) > 0 {
		return nil, ValidationError{"config", joinErrors(errs)}
	}
	return NewManager(cfg, path, v), nil
}

// SetLogger attaches a logger used to report reload attempts and failures.
func (m *Manager) SetLogger(log logging.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = log
}

// SetOnUpdate registers fn to run after every successful reload. fn
// receives the previous and newly-active config.
func (m *Manager) SetOnUpdate(fn func(old, new *Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// GetConfig returns the currently active config.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// GetConfigFile returns the backing file path, or "" if none.
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Watch starts viper's file watcher against the manager's config file. Each
// change is decoded, validated, and, if valid, swapped in and reported to
// the OnUpdate callback; an invalid reload is logged and the previous
// config stays active. Watch is a no-op if the manager has no config file.
func (m *Manager) Watch() error {
	if m.configFile == "" {
		return nil
	}
	m.v.OnConfigChange(func(_ fsnotify.Event) {
		m.reload()
	})
	m.v.WatchConfig()
	return nil
}

func (m *Manager) reload() {
	next := &Config{}
	if err := m.v.Unmarshal(next); err != nil {
		m.log.Warn("config reload: decode failed", "error", err)
		return
	}
	if errs := ValidateConfig(next); len(errs) > 0 {
		m.log.Warn("config reload: validation failed", "error", joinErrors(errs))
		return
	}

	m.mu.Lock()
	old := m.cfg
	m.cfg = next
	onUpdate := m.onUpdate
	m.mu.Unlock()

	m.log.Info("config reloaded", "file", m.configFile)
	if onUpdate != nil {
		onUpdate(old, next)
	}
}

func joinErrors(errs []error) string {
	s := ""
	for i, err := range errs {
		if i > 0 {
			s += "; "
		}
		s += err.Error()
	}
	return s
}
