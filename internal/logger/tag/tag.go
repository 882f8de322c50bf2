// Package tag provides standardized tag functions for structured logging.
//
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Source creates a tag for monitored source names.
func Source(name string) slog.Attr {
	return slog.String("source", name)
}

// Integration creates a tag for integration UIDs.
func Integration(uid string) slog.Attr {
	return slog.String("integration", uid)
}

// SyncID creates a tag for per-cycle trace identifiers.
func SyncID(id string) slog.Attr {
	return slog.String("sync-id", id)
}

// DagRunID creates a tag for dag run identifiers.
func DagRunID(id int64) slog.Attr {
	return slog.Int64("dag-run-id", id)
}

// LogID creates a tag for log identifiers.
func LogID(id int64) slog.Attr {
	return slog.Int64("log-id", id)
}

// Status creates a tag for health status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Interval creates a tag for interval duration values.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Elapsed creates a tag for elapsed durations.
func Elapsed(d time.Duration) slog.Attr {
	return slog.Duration("elapsed", d)
}

// Port creates a tag for network ports.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}

// URL creates a tag for request URLs.
func URL(url string) slog.Attr {
	return slog.String("url", url)
}

// Count creates a tag for generic counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Failures creates a tag for consecutive failure counts.
func Failures(n int) slog.Attr {
	return slog.Int("failures", n)
}

// Signal creates a tag for signal names (e.g., SIGTERM).
func Signal(sig string) slog.Attr {
	return slog.String("signal", sig)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}
