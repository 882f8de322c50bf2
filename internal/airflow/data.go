// Package airflow defines the data model shared between the monitor core,
// the data fetchers, and the tracking service clients.
package airflow

import (
	"encoding/json"
	"fmt"
)

// DagRunState is the lifecycle state reported for a dag run.
type DagRunState string

const (
	StateQueued  DagRunState = "queued"
	StateRunning DagRunState = "running"
	StateSuccess DagRunState = "success"
	StateFailed  DagRunState = "failed"
)

// LastSeenValues is the per-source watermark bounding the next incremental
// fetch. Both fields are nil for a source that has never synced, and are
// monotonically non-decreasing across successful cycles.
type LastSeenValues struct {
	LastSeenDagRunID *int64 `json:"last_seen_dag_run_id"`
	LastSeenLogID    *int64 `json:"last_seen_log_id"`
}

// AsMap serializes the watermark to a mapping. Absent values stay nil,
// never zero.
func (v LastSeenValues) AsMap() map[string]any {
	m := map[string]any{
		"last_seen_dag_run_id": nil,
		"last_seen_log_id":     nil,
	}
	if v.LastSeenDagRunID != nil {
		m["last_seen_dag_run_id"] = *v.LastSeenDagRunID
	}
	if v.LastSeenLogID != nil {
		m["last_seen_log_id"] = *v.LastSeenLogID
	}
	return m
}

// LastSeenValuesFromMap deserializes a watermark from a mapping. Missing or
// nil keys become absent fields.
func LastSeenValuesFromMap(m map[string]any) LastSeenValues {
	return LastSeenValues{
		LastSeenDagRunID: int64PtrFrom(m, "last_seen_dag_run_id"),
		LastSeenLogID:    int64PtrFrom(m, "last_seen_log_id"),
	}
}

// IsZero reports whether the source has never synced.
func (v LastSeenValues) IsZero() bool {
	return v.LastSeenDagRunID == nil && v.LastSeenLogID == nil
}

func (v LastSeenValues) String() string {
	return fmt.Sprintf("{dag_run_id: %s, log_id: %s}",
		formatIntPtr(v.LastSeenDagRunID), formatIntPtr(v.LastSeenLogID))
}

// Equal reports whether two watermarks carry the same values.
func (v LastSeenValues) Equal(o LastSeenValues) bool {
	return int64PtrEqual(v.LastSeenDagRunID, o.LastSeenDagRunID) &&
		int64PtrEqual(v.LastSeenLogID, o.LastSeenLogID)
}

// Dag is the metadata of a single DAG known to the monitored deployment.
type Dag struct {
	DagID       string `json:"dag_id"`
	Description string `json:"description,omitempty"`
	IsPaused    bool   `json:"is_paused"`
	IsActive    bool   `json:"is_active"`
	Fileloc     string `json:"fileloc,omitempty"`
}

// DagRun is one run of a DAG. ID is the primary ordering key for the
// watermark; MaxLogID is the secondary key bounding log-derived
// task-instance updates.
type DagRun struct {
	ID                      int64       `json:"id"`
	DagID                   string      `json:"dag_id"`
	ExecutionDate           string      `json:"execution_date"`
	State                   DagRunState `json:"state"`
	IsPaused                bool        `json:"is_paused"`
	HasUpdatedTaskInstances bool        `json:"has_updated_task_instances"`
	MaxLogID                int64       `json:"max_log_id"`
	Events                  string      `json:"events,omitempty"`
}

// TaskInstance is one task execution belonging to a dag run.
type TaskInstance struct {
	DagRunID  int64   `json:"dag_run_id"`
	DagID     string  `json:"dag_id"`
	TaskID    string  `json:"task_id"`
	State     string  `json:"state"`
	StartDate string  `json:"start_date,omitempty"`
	EndDate   string  `json:"end_date,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	TryNumber int     `json:"try_number,omitempty"`
	Operator  string  `json:"operator,omitempty"`
}

// DagRunsResponse is the fetch result envelope. The last-seen values are
// the fetcher-proposed next watermark; the caller persists them only after
// the batch itself is durably stored.
type DagRunsResponse struct {
	DagRuns          []DagRun `json:"new_dag_runs"`
	LastSeenDagRunID *int64   `json:"last_seen_dag_run_id"`
	LastSeenLogID    *int64   `json:"last_seen_log_id"`
}

// IsEmpty reports whether the fetch returned nothing new.
func (r *DagRunsResponse) IsEmpty() bool {
	return r == nil || len(r.DagRuns) == 0
}

// DagRunsResponseFromJSON decodes a fetch response envelope.
func DagRunsResponseFromJSON(data []byte) (*DagRunsResponse, error) {
	var resp DagRunsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode dag runs response: %w", err)
	}
	if resp.DagRuns == nil {
		resp.DagRuns = []DagRun{}
	}
	return &resp, nil
}

// DagRunsFullData is the bulk envelope for newly discovered runs: dag
// metadata, the runs themselves, and their task instances.
type DagRunsFullData struct {
	Dags          []Dag          `json:"dags"`
	DagRuns       []DagRun       `json:"dag_runs"`
	TaskInstances []TaskInstance `json:"task_instances"`
}

// AsMap serializes the envelope for the tracking service payload.
func (d DagRunsFullData) AsMap() map[string]any {
	return map[string]any{
		"dags":           d.Dags,
		"dag_runs":       d.DagRuns,
		"task_instances": d.TaskInstances,
	}
}

// DagRunsStateData is the bulk envelope for state-only updates (paused
// flips, state transitions) of runs already known to the tracking service.
type DagRunsStateData struct {
	DagRuns       []DagRun       `json:"dag_runs"`
	TaskInstances []TaskInstance `json:"task_instances"`
}

// AsMap serializes the envelope for the tracking service payload.
func (d DagRunsStateData) AsMap() map[string]any {
	return map[string]any{
		"dag_runs":       d.DagRuns,
		"task_instances": d.TaskInstances,
	}
}

// Int64Ptr returns a pointer to the given value. Watermark fields use
// pointers to distinguish "never seen" from zero.
func Int64Ptr(v int64) *int64 {
	return &v
}

func int64PtrFrom(m map[string]any, key string) *int64 {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil
	}
	switch n := raw.(type) {
	case int64:
		return Int64Ptr(n)
	case int:
		return Int64Ptr(int64(n))
	case float64:
		return Int64Ptr(int64(n))
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return nil
		}
		return Int64Ptr(parsed)
	default:
		return nil
	}
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatIntPtr(v *int64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *v)
}
