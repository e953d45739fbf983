package config

import (
	"bytes"
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ErrFileNotFound is returned by LoadConfig when the given path doesn't
// exist.
var ErrFileNotFound = errors.New("config: file not found")

// envKeyReplacer maps a dotted key like "storage.data_dir" to the
// environment variable HASHKV_STORAGE_DATA_DIR.
var envKeyReplacer = strings.NewReplacer(".", "_")

// newViper builds a viper instance seeded with DefaultConfig's values, an
// ENV_VAR override layer (HASHKV_STORAGE_DATA_DIR, HASHKV_LOG_LEVEL, ...),
// and mapstructure decoding into Config.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("hashkv")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

// setDefaults registers cfg's zero-config values as viper defaults so a
// partial file or environment overlay only needs to name what it changes.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.arena_file_name", cfg.Storage.ArenaFileName)
	v.SetDefault("storage.arena_initial_size", cfg.Storage.ArenaInitialSize)
	v.SetDefault("cleaner.shards", cfg.Cleaner.Shards)
	v.SetDefault("cleaner.interval", cfg.Cleaner.Interval)
	v.SetDefault("cleaner.local_clean_limit", cfg.Cleaner.LocalCleanLimit)
	v.SetDefault("index.lock_stripes", cfg.Index.LockStripes)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("log.archive.enabled", cfg.Log.Archive.Enabled)
	v.SetDefault("log.archive.dir", cfg.Log.Archive.Dir)
	v.SetDefault("log.archive.max_age", cfg.Log.Archive.MaxAge)
	v.SetDefault("log.archive.max_size", cfg.Log.Archive.MaxSize)
	v.SetDefault("log.archive.compress", cfg.Log.Archive.Compress)
	v.SetDefault("log.archive.retain_days", cfg.Log.Archive.RetainDays)
}

// LoadConfig loads configuration from a file path, falling back to
// DefaultConfig's values (overridable by HASHKV_* environment variables)
// for anything the file omits.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return decode(v)
}

// ParseConfig parses configuration from in-memory data of the given format
// ("yaml", "json", "toml", ...; see viper.SupportedExts).
func ParseConfig(data []byte, format string) (*Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
