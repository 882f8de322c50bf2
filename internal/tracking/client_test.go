package tracking_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitaKurtin/dbnd/internal/airflow"
	"github.com/nikitaKurtin/dbnd/internal/errkind"
	"github.com/nikitaKurtin/dbnd/internal/tracking"
)

func newTestClient(t *testing.T, handler http.Handler) (*tracking.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := tracking.NewClient(tracking.ClientConfig{
		BaseURL:  srv.URL,
		APIToken: "test-token",
		Timeout:  5 * time.Second,
	})
	return client, srv
}

func TestClientGetLastSeenValues(t *testing.T) {
	t.Parallel()

	uid := uuid.New()

	t.Run("ParsesStoredWatermark", func(t *testing.T) {
		t.Parallel()
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/v1/integrations/"+uid.String()+"/last_seen_values", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"last_seen_dag_run_id": 42, "last_seen_log_id": 900}`))
		}))

		values, err := client.GetLastSeenValues(context.Background(), uid)
		require.NoError(t, err)
		require.NotNil(t, values.LastSeenDagRunID)
		require.NotNil(t, values.LastSeenLogID)
		assert.Equal(t, int64(42), *values.LastSeenDagRunID)
		assert.Equal(t, int64(900), *values.LastSeenLogID)
	})

	t.Run("NeverSyncedYieldsZeroWatermark", func(t *testing.T) {
		t.Parallel()
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"last_seen_dag_run_id": null, "last_seen_log_id": null}`))
		}))

		values, err := client.GetLastSeenValues(context.Background(), uid)
		require.NoError(t, err)
		assert.True(t, values.IsZero())
	})

	t.Run("RetriesTransientFailures", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"last_seen_dag_run_id": 7, "last_seen_log_id": null}`))
		}))

		values, err := client.GetLastSeenValues(context.Background(), uid)
		require.NoError(t, err)
		require.NotNil(t, values.LastSeenDagRunID)
		assert.Equal(t, int64(7), *values.LastSeenDagRunID)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("AuthFailureNotRetried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.GetLastSeenValues(context.Background(), uid)
		require.Error(t, err)
		assert.True(t, errkind.Is(err, errkind.Auth))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClientSaveFullData(t *testing.T) {
	t.Parallel()

	uid := uuid.New()

	t.Run("PostsEnvelope", func(t *testing.T) {
		t.Parallel()
		var body map[string]any
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/integrations/"+uid.String()+"/dag_runs/full", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusOK)
		}))

		data := airflow.DagRunsFullData{
			Dags:    []airflow.Dag{{DagID: "etl_daily"}},
			DagRuns: []airflow.DagRun{{ID: 11, DagID: "etl_daily", State: airflow.StateRunning}},
			TaskInstances: []airflow.TaskInstance{
				{DagRunID: 11, DagID: "etl_daily", TaskID: "extract", State: "success"},
			},
		}
		require.NoError(t, client.SaveFullData(context.Background(), uid, data))

		require.Contains(t, body, "dags")
		require.Contains(t, body, "dag_runs")
		require.Contains(t, body, "task_instances")
		runs, ok := body["dag_runs"].([]any)
		require.True(t, ok)
		require.Len(t, runs, 1)
	})

	t.Run("WriteFailureIsPersistence", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))

		err := client.SaveFullData(context.Background(), uid, airflow.DagRunsFullData{})
		require.Error(t, err)
		assert.True(t, errkind.Is(err, errkind.Persistence))
		// Writes are never retried at request granularity.
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClientUpdateLastSeenValues(t *testing.T) {
	t.Parallel()

	uid := uuid.New()
	var body map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/integrations/"+uid.String()+"/last_seen_values", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))

	values := airflow.LastSeenValues{
		LastSeenDagRunID: airflow.Int64Ptr(15),
		LastSeenLogID:    airflow.Int64Ptr(230),
	}
	require.NoError(t, client.UpdateLastSeenValues(context.Background(), uid, values))

	assert.Equal(t, float64(15), body["last_seen_dag_run_id"])
	assert.Equal(t, float64(230), body["last_seen_log_id"])
}

func TestClientGetSourceConfig(t *testing.T) {
	t.Parallel()

	uid := uuid.New()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/integrations/"+uid.String()+"/config", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tracking.IntegrationConfig{
			UID:                 uid,
			SourceName:          "prod-airflow",
			SyncIntervalSeconds: 30,
			BaseURL:             "http://airflow.internal:8080",
		})
	}))

	cfg, err := client.GetSourceConfig(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, uid, cfg.UID)
	assert.Equal(t, "prod-airflow", cfg.SourceName)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval())
}

func TestManagementClientListActiveIntegrations(t *testing.T) {
	t.Parallel()

	uidA, uidB := uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/integrations", r.URL.Path)
		assert.Equal(t, "airflow", r.URL.Query().Get("monitor_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]tracking.IntegrationConfig{
			{UID: uidA, SourceName: "alpha", BaseURL: "http://alpha:8080"},
			{UID: uidB, SourceName: "beta", BaseURL: "http://beta:8080"},
		})
	}))
	t.Cleanup(srv.Close)

	client := tracking.NewManagementClient(tracking.ClientConfig{BaseURL: srv.URL})
	configs, err := client.ListActiveIntegrations(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "alpha", configs[0].SourceName)
	assert.Equal(t, uidB, configs[1].UID)
}

func TestManagementClientReportHeartbeat(t *testing.T) {
	t.Parallel()

	uid := uuid.New()
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/integrations/"+uid.String()+"/heartbeat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := tracking.NewManagementClient(tracking.ClientConfig{BaseURL: srv.URL})
	require.NoError(t, client.ReportHeartbeat(context.Background(), uid, tracking.StatusDegraded, ts))

	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "2025-06-01T12:30:00Z", body["timestamp"])
}

func TestIntegrationConfigSyncInterval(t *testing.T) {
	t.Parallel()

	assert.Equal(t, tracking.DefaultSyncInterval,
		tracking.IntegrationConfig{}.SyncInterval())
	assert.Equal(t, 45*time.Second,
		tracking.IntegrationConfig{SyncIntervalSeconds: 45}.SyncInterval())
	assert.Equal(t, tracking.DefaultSyncInterval,
		tracking.IntegrationConfig{SyncIntervalSeconds: -1}.SyncInterval())
}
