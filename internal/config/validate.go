package config

import (
	"fmt"
	"strings"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig checks cfg for internally inconsistent or out-of-range
// values, returning every problem found rather than stopping at the first.
func ValidateConfig(cfg *Config) []error {
	var errs []error
	errs = append(errs, validateStorageConfig(&cfg.Storage)...)
	errs = append(errs, validateCleanerConfig(&cfg.Cleaner)...)
	errs = append(errs, validateIndexConfig(&cfg.Index)...)
	errs = append(errs, validateLogConfig(&cfg.Log)...)
	return errs
}

func validateStorageConfig(cfg *StorageConfig) []error {
	var errs []error
	if cfg.ArenaInitialSize < 0 {
		errs = append(errs, ValidationError{"storage.arena_initial_size", "must not be negative"})
	}
	if cfg.DataDir != "" && strings.TrimSpace(cfg.ArenaFileName) == "" {
		errs = append(errs, ValidationError{"storage.arena_file_name", "required when storage.data_dir is set"})
	}
	return errs
}

func validateCleanerConfig(cfg *CleanerConfig) []error {
	var errs []error
	if cfg.Shards < 0 {
		errs = append(errs, ValidationError{"cleaner.shards", "must not be negative"})
	}
	if cfg.Interval < 0 {
		errs = append(errs, ValidationError{"cleaner.interval", "must not be negative"})
	}
	if cfg.LocalCleanLimit < 0 {
		errs = append(errs, ValidationError{"cleaner.local_clean_limit", "must not be negative"})
	}
	return errs
}

func validateIndexConfig(cfg *IndexConfig) []error {
	var errs []error
	if cfg.LockStripes < 0 {
		errs = append(errs, ValidationError{"index.lock_stripes", "must not be negative"})
	}
	return errs
}

func validateLogConfig(cfg *LogConfig) []error {
	var errs []error
	switch cfg.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("unknown level %q", cfg.Level)})
	}
	switch cfg.Format {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{"log.format", fmt.Sprintf("unknown format %q", cfg.Format)})
	}
	errs = append(errs, validateLogArchiveConfig(&cfg.Archive)...)
	return errs
}

func validateLogArchiveConfig(cfg *LogArchiveConfig) []error {
	var errs []error
	if cfg.Enabled && strings.TrimSpace(cfg.Dir) == "" {
		errs = append(errs, ValidationError{"log.archive.dir", "required when log.archive.enabled is set"})
	}
	if cfg.MaxAge < 0 {
		errs = append(errs, ValidationError{"log.archive.max_age", "must not be negative"})
	}
	if cfg.MaxSize < 0 {
		errs = append(errs, ValidationError{"log.archive.max_size", "must not be negative"})
	}
	if cfg.RetainDays < 0 {
		errs = append(errs, ValidationError{"log.archive.retain_days", "must not be negative"})
	}
	return errs
}
