// Package config provides configuration parsing and management for the
// hashkv storage engine.
//
// # Overview
//
// The config package handles loading, parsing, and validating engine
// configuration from YAML/JSON/TOML files and environment variables via
// github.com/spf13/viper. It supports:
//
//   - YAML, JSON, and TOML configuration files
//   - Environment variable overrides
//   - Default values for all settings
//   - Configuration validation
//   - Hot-reload on file change (see watcher.go)
//
// # Configuration Structure
//
// The main Config struct contains every engine setting:
//
//	type Config struct {
//	    Storage StorageConfig // Arena file and initial size
//	    Cleaner CleanerConfig // Old-records cleaner pacing
//	    Index   IndexConfig   // Hash index and lock table sizing
//	    Log     LogConfig     // Logging and archive settings
//	}
//
// # Loading Configuration
//
// Load configuration from a file:
//
//	cfg, err := config.LoadConfig("/etc/hashkv/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Or use defaults:
//
//	cfg := config.DefaultConfig()
//
// # Environment Variables
//
// Configuration values can be overridden with environment variables using
// the pattern HASHKV_<SECTION>_<KEY>:
//
//	HASHKV_STORAGE_DATA_DIR=/var/lib/hashkv
//	HASHKV_CLEANER_INTERVAL=1m
//	HASHKV_LOG_LEVEL=debug
//
// # Example Configuration
//
// A typical configuration file:
//
//	storage:
//	  data_dir: "/var/lib/hashkv"
//	  arena_file_name: "hashkv.arena"
//	  arena_initial_size: 67108864
//
//	cleaner:
//	  shards: 64
//	  interval: 30s
//	  local_clean_limit: 256
//
//	index:
//	  lock_stripes: 4096
//
//	log:
//	  level: "info"
//	  format: "json"
//	  output: "/var/log/hashkv/hashkv.log"
//	  archive:
//	    enabled: true
//	    dir: "/var/log/hashkv/archive"
//	    max_age: 168h
//	    max_size: 104857600
//	    compress: true
//	    retain_days: 30
package config
