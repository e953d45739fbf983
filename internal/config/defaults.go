package config

import (
	"time"

	"github.com/oba-hashkv/hashkv/internal/alloc"
)

// DefaultCleanerInterval mirrors engine.DefaultCleanerInterval; duplicated
// here (rather than imported) to keep this package free of an import cycle
// back to internal/engine.
const DefaultCleanerInterval = 30 * time.Second

// DefaultLocalCleanLimit is the default for CleanerConfig.LocalCleanLimit.
const DefaultLocalCleanLimit = 256

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:          "",
			ArenaFileName:    "hashkv.arena",
			ArenaInitialSize: alloc.DefaultInitialSize,
		},
		Cleaner: CleanerConfig{
			Shards:          0,
			Interval:        DefaultCleanerInterval,
			LocalCleanLimit: DefaultLocalCleanLimit,
		},
		Index: IndexConfig{
			LockStripes: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			Archive: LogArchiveConfig{
				Enabled:    false,
				MaxAge:     7 * 24 * time.Hour,
				MaxSize:    100 * 1024 * 1024,
				Compress:   true,
				RetainDays: 0,
			},
		},
	}
}
