// Package config loads and validates the engine's configuration: where the
// arena lives, how the cleaner is paced, how the hash index is sharded, and
// how the process logs. Fields carry mapstructure tags so
// github.com/spf13/viper can decode a YAML/JSON/TOML file, environment
// variables, or defaults into them uniformly.
package config

import "time"

// Config is the top-level configuration for a hashkv engine process.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Cleaner CleanerConfig `mapstructure:"cleaner"`
	Index   IndexConfig   `mapstructure:"index"`
	Log     LogConfig     `mapstructure:"log"`
}

// StorageConfig controls the arena backing every collection's records.
type StorageConfig struct {
	// DataDir holds the arena file. Empty means an anonymous in-memory
	// arena, useful for tests and ephemeral instances.
	DataDir string `mapstructure:"data_dir"`
	// ArenaFileName is the file within DataDir the arena maps.
	ArenaFileName string `mapstructure:"arena_file_name"`
	// ArenaInitialSize is the arena's initial mapped size, in bytes.
	ArenaInitialSize int64 `mapstructure:"arena_initial_size"`
}

// CleanerConfig paces the Old-Records Cleaner's background sweeps.
type CleanerConfig struct {
	// Shards is the number of worker-cache shards the cleaner keeps.
	// 0 selects the cleaner's own default.
	Shards int `mapstructure:"shards"`
	// Interval is how often a full TryCleanAll pass runs in the
	// background. 0 selects engine.DefaultCleanerInterval.
	Interval time.Duration `mapstructure:"interval"`
	// LocalCleanLimit is a per-call bound for TryCleanCachedOldRecords. It
	// is decoded and validated only: neither the engine nor hashkvctl reads
	// it, and no write path calls TryCleanCachedOldRecords.
	LocalCleanLimit int `mapstructure:"local_clean_limit"`
}

// IndexConfig holds hash-index settings.
type IndexConfig struct {
	// LockStripes is a stripe count for the hash index and doubly-linked
	// list lock tables (0 meaning the package default). It is decoded and
	// validated only: engine.Options has no such field, and the engine
	// always builds its lock tables with the package default.
	LockStripes int `mapstructure:"lock_stripes"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`

	Archive LogArchiveConfig `mapstructure:"archive"`
}

// LogArchiveConfig controls rotation of the log file named by
// LogConfig.Output into internal/logging's LogArchive once it grows stale
// or oversized. Only meaningful when Output names a real file.
type LogArchiveConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Dir        string        `mapstructure:"dir"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	MaxSize    int64         `mapstructure:"max_size"`
	Compress   bool          `mapstructure:"compress"`
	RetainDays int           `mapstructure:"retain_days"`
}
