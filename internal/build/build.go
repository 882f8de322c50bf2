// Package build holds build-time metadata.
package build

var (
	// Version is set via ldflags at build time.
	Version = "0.0.0"
	// AppName identifies the process in logs and user agents.
	AppName = "dbnd-airflow-monitor"
)
