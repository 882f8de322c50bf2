// Package tracking defines the contracts of the durable tracking backend
// and the integration management service, plus REST clients for both.
//
// The sync core only ever talks to these interfaces; the wire encodings
// below are owned by the clients, not by the core.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nikitaKurtin/dbnd/internal/airflow"
)

// Status is the per-source health reported with each heartbeat.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"
)

// IntegrationConfig is the per-source configuration owned by the management
// service. The sync component holds a read-only cached copy, refreshed
// between cycles only.
type IntegrationConfig struct {
	UID                 uuid.UUID `json:"uid"`
	SourceName          string    `json:"source_name"`
	SyncIntervalSeconds int64     `json:"sync_interval"`
	LogLevel            string    `json:"log_level,omitempty"`
	BaseURL             string    `json:"base_url"`
	APIToken            string    `json:"api_token,omitempty"`
}

// DefaultSyncInterval applies when an integration carries no interval.
const DefaultSyncInterval = 10 * time.Second

// SyncInterval returns the polling period for the source.
func (c IntegrationConfig) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return DefaultSyncInterval
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c IntegrationConfig) String() string {
	return fmt.Sprintf("%s|%s", c.SourceName, c.UID)
}

// Service is the durable store of per-integration watermarks and ingested
// run data. It is the serialization point for watermark writes: the new
// watermark is accepted only together with, or after, the data it covers.
type Service interface {
	// GetLastSeenValues returns the stored watermark for the integration.
	// A never-synced integration yields a zero watermark, not an error.
	GetLastSeenValues(ctx context.Context, uid uuid.UUID) (airflow.LastSeenValues, error)
	// SaveFullData stores newly discovered dag runs with their dags and
	// task instances. Duplicate ids overwrite rather than duplicate, so the
	// call is safe under at-least-once redelivery.
	SaveFullData(ctx context.Context, uid uuid.UUID, data airflow.DagRunsFullData) error
	// SaveStateData stores state-only updates of runs already known to the
	// tracking service. Same idempotency contract as SaveFullData.
	SaveStateData(ctx context.Context, uid uuid.UUID, data airflow.DagRunsStateData) error
	// UpdateLastSeenValues advances the stored watermark. Callers invoke it
	// only after the covering data write has been acknowledged.
	UpdateLastSeenValues(ctx context.Context, uid uuid.UUID, values airflow.LastSeenValues) error
	// GetSourceConfig returns the current configuration of the integration.
	GetSourceConfig(ctx context.Context, uid uuid.UUID) (*IntegrationConfig, error)
}

// ManagementService lists active integrations and receives liveness
// signals. The integration list doubles as the config-update channel: each
// entry carries the integration's current configuration.
type ManagementService interface {
	// ListActiveIntegrations returns the authoritative active-source list.
	ListActiveIntegrations(ctx context.Context) ([]IntegrationConfig, error)
	// ReportHeartbeat reports per-source liveness and health.
	ReportHeartbeat(ctx context.Context, uid uuid.UUID, status Status, ts time.Time) error
}
