package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nikitaKurtin/dbnd/internal/airflow"
	"github.com/nikitaKurtin/dbnd/internal/logger"
	"github.com/nikitaKurtin/dbnd/internal/logger/tag"
	"github.com/nikitaKurtin/dbnd/internal/metrics"
	"github.com/nikitaKurtin/dbnd/internal/tracking"
)

const (
	// DefaultTickInterval is the granularity of the scheduling loop.
	DefaultTickInterval = time.Second
	// DefaultHeartbeatInterval is how often per-source liveness is reported.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultRefreshInterval is how often the active-integration list is
	// reconciled against the management service.
	DefaultRefreshInterval = 30 * time.Second
	// DefaultStopTimeout bounds the wait for in-flight cycles on shutdown.
	DefaultStopTimeout = 30 * time.Second
)

// ComponentFactory builds the sync component for a newly discovered
// integration. Tests substitute their own to inject fakes.
type ComponentFactory func(cfg tracking.IntegrationConfig, reporter *Reporter) Syncable

// Options configures a Runner.
type Options struct {
	Tracking   tracking.Service
	Management tracking.ManagementService
	Collector  *metrics.Collector

	TickInterval       time.Duration
	HeartbeatInterval  time.Duration
	RefreshInterval    time.Duration
	StopTimeout        time.Duration
	UnhealthyThreshold int

	// NewComponent overrides component construction; nil uses the REST
	// fetcher against the integration's deployment.
	NewComponent ComponentFactory
}

// managedComponent pairs a component with its scheduling state. inFlight
// guarantees at most one cycle per source; lastStarted drives the
// elapsed-time-since-last-cycle check.
type managedComponent struct {
	component Syncable
	reporter  *Reporter
	inFlight  atomic.Bool

	mu            sync.Mutex
	lastStarted   time.Time
	pendingConfig *tracking.IntegrationConfig
}

// Runner owns one sync component per monitored source and drives each on
// its own interval: concurrent across sources, serial within a source.
type Runner struct {
	opts       Options
	components map[uuid.UUID]*managedComponent

	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
	cycles   sync.WaitGroup
	running  atomic.Bool
	stopOnce sync.Once
}

// NewRunner creates a runner over the given collaborators.
func NewRunner(opts Options) *Runner {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.NewComponent == nil {
		opts.NewComponent = func(cfg tracking.IntegrationConfig, reporter *Reporter) Syncable {
			fetcher := airflow.NewFetcher(airflow.FetcherConfig{
				BaseURL:  cfg.BaseURL,
				APIToken: cfg.APIToken,
			})
			return NewSyncComponent(cfg, fetcher, opts.Tracking, reporter)
		}
	}
	return &Runner{
		opts:       opts,
		components: make(map[uuid.UUID]*managedComponent),
		quit:       make(chan struct{}),
	}
}

// Start runs the scheduling, heartbeat, and reconciliation loops until the
// context is canceled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	// Populate the source set before the first tick so a fresh process
	// starts syncing without waiting a full refresh interval.
	r.reconcileIntegrations(ctx)

	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		r.tickLoop(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.heartbeatLoop(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.refreshLoop(ctx)
	}()

	logger.Info(ctx, "Monitor runner started", tag.Interval(r.opts.TickInterval))
	r.wg.Wait()
}

// IsRunning reports whether the runner loops are active.
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

// tick fires a cycle for every source whose interval elapsed. A slow or
// hung cycle for one source never delays another's due cycle.
func (r *Runner) tick(ctx context.Context, now time.Time) {
	for _, mc := range r.snapshot() {
		// The due check, the in-flight transition, and config refreshes all
		// happen under mc.mu so a refresh can never land once a cycle has
		// been claimed.
		mc.mu.Lock()
		due := now.Sub(mc.lastStarted) >= mc.component.Config().SyncInterval()
		if !due || !mc.inFlight.CompareAndSwap(false, true) {
			// Not due yet, or the previous cycle still running; within a
			// source cycles never overlap.
			mc.mu.Unlock()
			continue
		}
		mc.lastStarted = now
		mc.mu.Unlock()

		r.cycles.Add(1)
		go func(mc *managedComponent) {
			defer r.cycles.Done()
			defer mc.inFlight.Store(false)
			mc.component.SyncOnce(ctx)
			r.applyPendingConfig(ctx, mc)
		}(mc)
	}
}

// applyPendingConfig installs a config update that arrived while a cycle
// was in flight. Updates are only ever applied between cycles.
func (r *Runner) applyPendingConfig(ctx context.Context, mc *managedComponent) {
	mc.mu.Lock()
	pending := mc.pendingConfig
	mc.pendingConfig = nil
	mc.mu.Unlock()
	if pending != nil {
		mc.component.RefreshConfig(ctx, *pending)
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case <-ticker.C:
			r.reportHeartbeats(ctx)
		}
	}
}

func (r *Runner) reportHeartbeats(ctx context.Context) {
	for uid, mc := range r.snapshotByUID() {
		status := tracking.StatusHealthy
		if !mc.reporter.Healthy() {
			status = tracking.StatusDegraded
		}
		r.reportStatus(ctx, uid, status)
	}
}

func (r *Runner) reportStatus(ctx context.Context, uid uuid.UUID, status tracking.Status) {
	if r.opts.Management == nil {
		return
	}
	if err := r.opts.Management.ReportHeartbeat(ctx, uid, status, time.Now()); err != nil {
		logger.Warn(ctx, "Failed to report heartbeat",
			tag.Integration(uid.String()), tag.Status(string(status)), tag.Error(err))
	}
}

func (r *Runner) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case <-ticker.C:
			r.reconcileIntegrations(ctx)
		}
	}
}

// reconcileIntegrations aligns the component set with the authoritative
// active-integration list: new sources get a fresh component with a nil
// watermark, removed sources are stopped and evicted, existing sources
// pick up config changes.
func (r *Runner) reconcileIntegrations(ctx context.Context) {
	if r.opts.Management == nil {
		return
	}
	configs, err := r.opts.Management.ListActiveIntegrations(ctx)
	if err != nil {
		logger.Warn(ctx, "Failed to list active integrations", tag.Error(err))
		return
	}

	active := make(map[uuid.UUID]tracking.IntegrationConfig, len(configs))
	for _, cfg := range configs {
		active[cfg.UID] = cfg
	}

	type evictedComponent struct {
		uid uuid.UUID
		mc  *managedComponent
	}

	r.mu.Lock()
	var (
		added   []tracking.IntegrationConfig
		evicted []evictedComponent
	)
	for uid, cfg := range active {
		mc, ok := r.components[uid]
		if !ok {
			// A nil *Collector must become a nil interface, or the
			// reporter's observer nil-guard never fires.
			var observer CycleObserver
			if r.opts.Collector != nil {
				observer = r.opts.Collector
			}
			reporter := NewReporter(observer, r.opts.UnhealthyThreshold)
			r.components[uid] = &managedComponent{
				component: r.opts.NewComponent(cfg, reporter),
				reporter:  reporter,
			}
			added = append(added, cfg)
			continue
		}
		if mc.component.Config() != cfg {
			// Under mc.mu the tick loop cannot claim a cycle, so either the
			// update is stashed for after the in-flight cycle or it is
			// applied while no cycle can start.
			mc.mu.Lock()
			if mc.inFlight.Load() {
				pending := cfg
				mc.pendingConfig = &pending
			} else {
				mc.component.RefreshConfig(ctx, cfg)
			}
			mc.mu.Unlock()
		}
	}
	for uid, mc := range r.components {
		if _, ok := active[uid]; !ok {
			mc.component.Stop()
			evicted = append(evicted, evictedComponent{uid: uid, mc: mc})
			delete(r.components, uid)
		}
	}
	count := len(r.components)
	r.mu.Unlock()

	for _, cfg := range added {
		logger.Info(ctx, "Integration added",
			tag.Source(cfg.SourceName), tag.Integration(cfg.UID.String()),
			tag.Interval(cfg.SyncInterval()))
	}
	for _, e := range evicted {
		logger.Info(ctx, "Integration removed", tag.Source(e.mc.component.Name()))
		// An evicted source disappears from the regular heartbeat loop, so it
		// announces its own terminal status.
		r.reportStatus(ctx, e.uid, tracking.StatusStopped)
		if r.opts.Collector != nil {
			r.opts.Collector.RemoveSource(e.mc.component.Name())
		}
	}
	if r.opts.Collector != nil {
		r.opts.Collector.SetActiveIntegrations(count)
	}
}

// Stop requests graceful termination and waits, up to the stop timeout,
// for in-flight cycles. Past the timeout the cycles are abandoned; their
// components bail at the next safe checkpoint without committing.
func (r *Runner) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.quit)

		for _, mc := range r.snapshot() {
			mc.component.Stop()
		}

		done := make(chan struct{})
		go func() {
			r.cycles.Wait()
			close(done)
		}()
		select {
		case <-done:
			logger.Info(ctx, "All in-flight cycles finished")
		case <-time.After(r.opts.StopTimeout):
			logger.Warn(ctx, "Timed out waiting for in-flight cycles, abandoning",
				tag.Interval(r.opts.StopTimeout))
		}

		// Last heartbeat per source so the management service distinguishes
		// a deliberate shutdown from a dead process.
		for uid := range r.snapshotByUID() {
			r.reportStatus(ctx, uid, tracking.StatusStopped)
		}

		r.wg.Wait()
		logger.Info(ctx, "Monitor runner stopped")
	})
}

func (r *Runner) snapshot() []*managedComponent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*managedComponent, 0, len(r.components))
	for _, mc := range r.components {
		out = append(out, mc)
	}
	return out
}

func (r *Runner) snapshotByUID() map[uuid.UUID]*managedComponent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]*managedComponent, len(r.components))
	for uid, mc := range r.components {
		out[uid] = mc
	}
	return out
}
