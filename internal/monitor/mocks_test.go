package monitor_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikitaKurtin/dbnd/internal/airflow"
	"github.com/nikitaKurtin/dbnd/internal/monitor"
	"github.com/nikitaKurtin/dbnd/internal/tracking"
)

var _ tracking.Service = (*fakeTracking)(nil)

// fakeTracking is an in-memory tracking backend.
type fakeTracking struct {
	mu         sync.Mutex
	watermark  airflow.LastSeenValues
	fullSaves  []airflow.DagRunsFullData
	stateSaves []airflow.DagRunsStateData
	updates    []airflow.LastSeenValues
	reads      []airflow.LastSeenValues

	getErr    error
	saveErr   error
	updateErr error
}

func (f *fakeTracking) GetLastSeenValues(_ context.Context, _ uuid.UUID) (airflow.LastSeenValues, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return airflow.LastSeenValues{}, f.getErr
	}
	f.reads = append(f.reads, f.watermark)
	return f.watermark, nil
}

func (f *fakeTracking) SaveFullData(_ context.Context, _ uuid.UUID, data airflow.DagRunsFullData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.fullSaves = append(f.fullSaves, data)
	return nil
}

func (f *fakeTracking) SaveStateData(_ context.Context, _ uuid.UUID, data airflow.DagRunsStateData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stateSaves = append(f.stateSaves, data)
	return nil
}

func (f *fakeTracking) UpdateLastSeenValues(_ context.Context, _ uuid.UUID, values airflow.LastSeenValues) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.watermark = values
	f.updates = append(f.updates, values)
	return nil
}

func (f *fakeTracking) GetSourceConfig(_ context.Context, _ uuid.UUID) (*tracking.IntegrationConfig, error) {
	return nil, nil
}

func (f *fakeTracking) storedWatermark() airflow.LastSeenValues {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

var _ airflow.DataFetcher = (*fakeFetcher)(nil)

// fakeFetcher replays canned responses.
type fakeFetcher struct {
	mu            sync.Mutex
	response      *airflow.DagRunsResponse
	taskInstances []airflow.TaskInstance
	fetchErr      error
	tiErr         error
	fetchCalls    []airflow.LastSeenValues
	tiCalls       [][]int64
}

func (f *fakeFetcher) FetchDagRuns(_ context.Context, lastSeen airflow.LastSeenValues) (*airflow.DagRunsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, lastSeen)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.response == nil {
		return &airflow.DagRunsResponse{DagRuns: []airflow.DagRun{}}, nil
	}
	return f.response, nil
}

func (f *fakeFetcher) FetchTaskInstances(_ context.Context, dagRunIDs []int64) ([]airflow.TaskInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tiCalls = append(f.tiCalls, dagRunIDs)
	if f.tiErr != nil {
		return nil, f.tiErr
	}
	if f.taskInstances == nil {
		return []airflow.TaskInstance{}, nil
	}
	return f.taskInstances, nil
}

func testConfig(name string) tracking.IntegrationConfig {
	return tracking.IntegrationConfig{
		UID:                 uuid.New(),
		SourceName:          name,
		SyncIntervalSeconds: 1,
	}
}

func newTestComponent(cfg tracking.IntegrationConfig, fetcher *fakeFetcher, store *fakeTracking) (*monitor.SyncComponent, *monitor.Reporter) {
	reporter := monitor.NewReporter(nil, 0)
	return monitor.NewSyncComponent(cfg, fetcher, store, reporter), reporter
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
