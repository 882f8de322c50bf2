// Package monitor implements the incremental-sync core: the per-source
// sync component, the error boundary around each cycle, and the
// multi-source runner.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/nikitaKurtin/dbnd/internal/airflow"
	"github.com/nikitaKurtin/dbnd/internal/errkind"
	"github.com/nikitaKurtin/dbnd/internal/logger"
	"github.com/nikitaKurtin/dbnd/internal/logger/tag"
	"github.com/nikitaKurtin/dbnd/internal/tracking"
)

// State is the phase of the sync state machine.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateReconciling
	StatePersisting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateReconciling:
		return "reconciling"
	case StatePersisting:
		return "persisting"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Syncable is one monitored source the runner can drive. The runner holds
// a collection of this interface, never of concrete component types.
type Syncable interface {
	// SyncOnce runs one sync cycle. It never lets an error escape; failures
	// are captured, classified, and recorded inside the cycle boundary.
	SyncOnce(ctx context.Context)
	// RefreshConfig replaces the held config. The runner only invokes it
	// between cycles, never during one.
	RefreshConfig(ctx context.Context, cfg tracking.IntegrationConfig)
	// Config returns the currently held config.
	Config() tracking.IntegrationConfig
	// Stop requests cooperative termination. An in-flight cycle finishes or
	// bails at the next safe checkpoint, never mid-persist.
	Stop()
	// Name identifies the component in logs and heartbeats.
	Name() string
}

// SyncComponent syncs one source: read watermark, fetch delta, reconcile,
// persist, advance watermark.
type SyncComponent struct {
	configMu sync.RWMutex
	config   tracking.IntegrationConfig

	fetcher  airflow.DataFetcher
	tracking tracking.Service
	reporter *Reporter

	state   atomic.Int32
	stopped atomic.Bool
}

var _ Syncable = (*SyncComponent)(nil)

// NewSyncComponent creates a sync component for one integration.
func NewSyncComponent(
	cfg tracking.IntegrationConfig,
	fetcher airflow.DataFetcher,
	trackingService tracking.Service,
	reporter *Reporter,
) *SyncComponent {
	return &SyncComponent{
		config:   cfg,
		fetcher:  fetcher,
		tracking: trackingService,
		reporter: reporter,
	}
}

// Name implements Syncable.
func (c *SyncComponent) Name() string {
	return c.Config().String()
}

// Config implements Syncable.
func (c *SyncComponent) Config() tracking.IntegrationConfig {
	c.configMu.RLock()
	defer c.configMu.RUnlock()
	return c.config
}

// RefreshConfig implements Syncable. A changed log level adjusts the
// process logger between cycles.
func (c *SyncComponent) RefreshConfig(ctx context.Context, cfg tracking.IntegrationConfig) {
	c.configMu.Lock()
	prevLevel := c.config.LogLevel
	c.config = cfg
	c.configMu.Unlock()

	if cfg.LogLevel != "" && cfg.LogLevel != prevLevel {
		logger.Info(ctx, "Adjusting log level from integration config",
			tag.Source(cfg.SourceName), tag.Status(cfg.LogLevel))
		logger.FromContext(ctx).SetLevel(cfg.LogLevel)
	}
}

// Stop implements Syncable.
func (c *SyncComponent) Stop() {
	c.stopped.Store(true)
}

// State returns the current phase of the state machine.
func (c *SyncComponent) State() State {
	return State(c.state.Load())
}

func (c *SyncComponent) setState(s State) {
	c.state.Store(int32(s))
}

// SyncOnce implements Syncable. The cycle runs inside the error boundary:
// any failure is classified and recorded, and the component returns to
// idle for the next interval.
func (c *SyncComponent) SyncOnce(ctx context.Context) {
	c.reporter.Capture(ctx, c.Name(), func(ctx context.Context) error {
		err := c.syncOnce(ctx)
		if err != nil {
			c.setState(StateFailed)
		}
		return err
	})
	// Failed is absorbing only until error handling completes; the
	// component is retried on the next interval.
	c.setState(StateIdle)
}

func (c *SyncComponent) syncOnce(ctx context.Context) error {
	cfg := c.Config()

	c.setState(StateFetching)
	stored, err := c.tracking.GetLastSeenValues(ctx, cfg.UID)
	if err != nil {
		return err
	}

	if c.stopped.Load() {
		logger.Debug(ctx, "Component stopped before fetch")
		return nil
	}

	resp, err := c.fetcher.FetchDagRuns(ctx, stored)
	if err != nil {
		return err
	}

	// The common case: nothing new. No writes, no watermark change.
	if resp.IsEmpty() {
		logger.Debug(ctx, "No new dag runs")
		return nil
	}

	next, err := nextWatermark(stored, resp)
	if err != nil {
		return err
	}

	c.setState(StateReconciling)
	fullData, stateData, err := c.reconcile(ctx, stored, resp)
	if err != nil {
		return err
	}

	// Safe checkpoint between reconcile and persist. Bailing here leaves
	// the watermark untouched, so the same range is redelivered next cycle.
	if c.stopped.Load() {
		logger.Debug(ctx, "Component stopped before persist")
		return nil
	}

	c.setState(StatePersisting)
	if len(fullData.DagRuns) > 0 {
		if err := c.tracking.SaveFullData(ctx, cfg.UID, fullData); err != nil {
			return err
		}
	}
	if len(stateData.DagRuns) > 0 {
		if err := c.tracking.SaveStateData(ctx, cfg.UID, stateData); err != nil {
			return err
		}
	}

	// The watermark advances only after the payload writes are acked.
	if err := c.tracking.UpdateLastSeenValues(ctx, cfg.UID, next); err != nil {
		return err
	}

	logger.Info(ctx, "Synced dag runs",
		tag.Count(len(resp.DagRuns)),
		tag.DagRunID(orZero(next.LastSeenDagRunID)),
		tag.LogID(orZero(next.LastSeenLogID)),
	)
	return nil
}

// reconcile splits the batch into newly discovered runs (full data) and
// state-only updates of already-tracked runs, attaching task instances to
// every run that reports updated ones.
func (c *SyncComponent) reconcile(
	ctx context.Context,
	stored airflow.LastSeenValues,
	resp *airflow.DagRunsResponse,
) (airflow.DagRunsFullData, airflow.DagRunsStateData, error) {
	var (
		fullData  airflow.DagRunsFullData
		stateData airflow.DagRunsStateData
	)

	newRuns, knownRuns := lo.FilterReject(resp.DagRuns, func(run airflow.DagRun, _ int) bool {
		return stored.LastSeenDagRunID == nil || run.ID > *stored.LastSeenDagRunID
	})

	withUpdates := lo.Filter(resp.DagRuns, func(run airflow.DagRun, _ int) bool {
		return run.HasUpdatedTaskInstances
	})
	idsToFetch := lo.Map(withUpdates, func(run airflow.DagRun, _ int) int64 {
		return run.ID
	})

	var taskInstances []airflow.TaskInstance
	if len(idsToFetch) > 0 {
		fetched, err := c.fetcher.FetchTaskInstances(ctx, idsToFetch)
		if err != nil {
			return fullData, stateData, err
		}
		taskInstances = fetched
	}

	// Every task instance must reference a dag run present in this batch;
	// anything else is a contract violation and aborts without persisting.
	batchIDs := lo.SliceToMap(resp.DagRuns, func(run airflow.DagRun) (int64, struct{}) {
		return run.ID, struct{}{}
	})
	for _, ti := range taskInstances {
		if _, ok := batchIDs[ti.DagRunID]; !ok {
			return fullData, stateData, errkind.Malformedf(
				"task instance %s references dag run %d not present in batch", ti.TaskID, ti.DagRunID)
		}
	}

	newRunIDs := lo.SliceToMap(newRuns, func(run airflow.DagRun) (int64, struct{}) {
		return run.ID, struct{}{}
	})
	newTIs, knownTIs := lo.FilterReject(taskInstances, func(ti airflow.TaskInstance, _ int) bool {
		_, ok := newRunIDs[ti.DagRunID]
		return ok
	})

	fullData = airflow.DagRunsFullData{
		Dags:          dagsOf(newRuns),
		DagRuns:       newRuns,
		TaskInstances: emptyIfNil(newTIs),
	}
	stateData = airflow.DagRunsStateData{
		DagRuns:       knownRuns,
		TaskInstances: emptyIfNil(knownTIs),
	}
	return fullData, stateData, nil
}

// nextWatermark validates the fetcher-proposed watermark against the
// stored one. A proposed value lower than the stored watermark means the
// fetcher rolled back or answered out of order; the cycle aborts rather
// than rewinding the cursor.
func nextWatermark(stored airflow.LastSeenValues, resp *airflow.DagRunsResponse) (airflow.LastSeenValues, error) {
	if resp.LastSeenDagRunID == nil && resp.LastSeenLogID == nil {
		return airflow.LastSeenValues{}, errkind.Malformedf(
			"fetcher returned %d dag runs but proposed no watermark", len(resp.DagRuns))
	}

	next := airflow.LastSeenValues{
		LastSeenDagRunID: resp.LastSeenDagRunID,
		LastSeenLogID:    resp.LastSeenLogID,
	}
	if regressed(stored.LastSeenDagRunID, next.LastSeenDagRunID) {
		return airflow.LastSeenValues{}, errkind.Malformedf(
			"fetcher proposed last_seen_dag_run_id %s below stored %s",
			formatPtr(next.LastSeenDagRunID), formatPtr(stored.LastSeenDagRunID))
	}
	if regressed(stored.LastSeenLogID, next.LastSeenLogID) {
		return airflow.LastSeenValues{}, errkind.Malformedf(
			"fetcher proposed last_seen_log_id %s below stored %s",
			formatPtr(next.LastSeenLogID), formatPtr(stored.LastSeenLogID))
	}

	// A proposed watermark may omit a field the store already has; the
	// stored value carries over so the cursor never loses ground.
	if next.LastSeenDagRunID == nil {
		next.LastSeenDagRunID = stored.LastSeenDagRunID
	}
	if next.LastSeenLogID == nil {
		next.LastSeenLogID = stored.LastSeenLogID
	}
	return next, nil
}

func regressed(stored, proposed *int64) bool {
	return stored != nil && proposed != nil && *proposed < *stored
}

func dagsOf(runs []airflow.DagRun) []airflow.Dag {
	seen := make(map[string]struct{}, len(runs))
	dags := make([]airflow.Dag, 0, len(runs))
	for _, run := range runs {
		if _, ok := seen[run.DagID]; ok {
			continue
		}
		seen[run.DagID] = struct{}{}
		dags = append(dags, airflow.Dag{
			DagID:    run.DagID,
			IsPaused: run.IsPaused,
			IsActive: true,
		})
	}
	return dags
}

func emptyIfNil(tis []airflow.TaskInstance) []airflow.TaskInstance {
	if tis == nil {
		return []airflow.TaskInstance{}
	}
	return tis
}

func formatPtr(v *int64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *v)
}

func orZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
