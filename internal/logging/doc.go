// Package logging provides structured logging for the hashkv engine.
//
// # Overview
//
// The logging package provides a structured logging interface with support for:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text and JSON output formats
//   - Request ID tracking for distributed tracing
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/hashkv/hashkv.log",
//	})
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stdout
//
// For testing, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Log Levels
//
// Four log levels are supported:
//
//	logger.Debug("detailed debugging info", "key", "value")
//	logger.Info("informational message", "key", "value")
//	logger.Warn("warning message", "key", "value")
//	logger.Error("error message", "key", "value")
//
// Parse level from string:
//
//	level := logging.ParseLevel("debug") // Returns LevelDebug
//
// # Structured Logging
//
// Add key-value pairs to log entries:
//
//	logger.Info("put applied",
//	    "collection", "sessions",
//	    "key_len", 12,
//	    "duration_us", 340,
//	)
//
// Output (JSON format):
//
//	{
//	    "collection": "sessions",
//	    "duration_us": 340,
//	    "key_len": 12,
//	    "level": "info",
//	    "msg": "put applied",
//	    "ts": "2026-02-18T10:30:00Z"
//	}
//
// # Request ID Tracking
//
// Add a request ID to correlate the log lines of one operation:
//
//	requestID := logging.GenerateRequestID()
//	opLogger := logger.WithRequestID(requestID)
//
//	opLogger.Info("processing put") // Includes request_id field
//
// # Contextual Fields
//
// Create loggers with persistent fields:
//
//	collLogger := logger.WithFields(
//	    "collection", coll.Name(),
//	    "collection_id", coll.ID(),
//	)
//
//	// All subsequent logs include these fields
//	collLogger.Info("collection opened")
//	collLogger.Info("collection destroyed")
//
// # Output Formats
//
// Text format (human-readable):
//
//	2026-02-18T10:30:00Z [info] put applied collection=sessions duration_us=340
//
// JSON format (machine-parseable, one line, keys in sorted order):
//
//	{"collection":"sessions",...,"level":"info","msg":"put applied","ts":"2026-02-18T10:30:00Z"}
//
// # Output Destinations
//
// Configure output destination:
//
//	logging.Config{Output: "stdout"}             // Standard output
//	logging.Config{Output: "stderr"}             // Standard error
//	logging.Config{Output: "/var/log/hashkv.log"} // File path
//
// # Archiving
//
// When Output names a file and Config.Archive.Enabled is set, the logger
// runs a background rotator (see rotator.go) that periodically checks the
// file's size and age; once it crosses ArchiveConfig.MaxSize or MaxAge, its
// lines are parsed into LogEntry values, handed to a LogArchive, and the
// file is truncated:
//
//	logger := logging.New(logging.Config{
//	    Output: "/var/log/hashkv/hashkv.log",
//	    Format: "json",
//	    Archive: logging.ArchiveConfig{
//	        Enabled:    true,
//	        ArchiveDir: "/var/log/hashkv/archive",
//	        MaxSize:    100 << 20,
//	        Compress:   true,
//	    },
//	})
//	defer logger.Close() // stops the rotator and closes the file
//
// Archived entries can be listed and searched directly through a
// LogArchive, independent of the running logger:
//
//	archive, _ := logging.NewLogArchive(logging.ArchiveConfig{
//	    Enabled: true, ArchiveDir: "/var/log/hashkv/archive",
//	})
//	entries, total, _ := archive.QueryAllArchives(logging.QueryOptions{
//	    Level: "error", Limit: 50,
//	})
package logging
