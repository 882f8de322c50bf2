package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikitaKurtin/dbnd/internal/errkind"
	"github.com/nikitaKurtin/dbnd/internal/logger"
	"github.com/nikitaKurtin/dbnd/internal/logger/tag"
	"github.com/nikitaKurtin/dbnd/internal/metrics"
)

// DefaultUnhealthyThreshold is the consecutive-failure count past which a
// source's heartbeat reports degraded health.
const DefaultUnhealthyThreshold = 5

// CycleObserver receives the outcome of each cycle. *metrics.Collector
// satisfies it; tests substitute their own.
type CycleObserver interface {
	ObserveCycle(source, result string, elapsed time.Duration)
	SetConsecutiveFailures(source string, n int)
}

var _ CycleObserver = (*metrics.Collector)(nil)

// Reporter is the error boundary between one component's cycle and the
// shared runner loop. It wraps every cycle with a fresh trace id,
// classifies and records failures, and never re-raises.
type Reporter struct {
	observer  CycleObserver
	threshold int

	mu       sync.Mutex
	failures int
}

// NewReporter creates a reporter. A zero threshold falls back to
// DefaultUnhealthyThreshold.
func NewReporter(observer CycleObserver, threshold int) *Reporter {
	if threshold <= 0 {
		threshold = DefaultUnhealthyThreshold
	}
	return &Reporter{
		observer:  observer,
		threshold: threshold,
	}
}

// Capture runs one cycle under the error boundary. A fresh sync id is
// attached to the context logger for cross-system correlation, and every
// exit path (success, error, panic) reports the outcome.
func (r *Reporter) Capture(ctx context.Context, source string, fn func(ctx context.Context) error) {
	syncID := uuid.NewString()
	ctx = logger.WithValues(ctx, tag.SyncID(syncID), tag.Source(source))
	started := time.Now()

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("sync cycle panicked: %v", rec)
			}
		}()
		err = fn(ctx)
	}()

	elapsed := time.Since(started)
	if err == nil {
		r.recordSuccess(ctx, source, elapsed)
		return
	}
	r.recordFailure(ctx, source, elapsed, err)
}

func (r *Reporter) recordSuccess(ctx context.Context, source string, elapsed time.Duration) {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ObserveCycle(source, "success", elapsed)
		r.observer.SetConsecutiveFailures(source, 0)
	}
	logger.Debug(ctx, "Sync cycle completed", tag.Elapsed(elapsed))
}

func (r *Reporter) recordFailure(ctx context.Context, source string, elapsed time.Duration, err error) {
	kind := errkind.Of(err)

	// Credentials rarely fix themselves, so auth failures count double and
	// cross the degradation threshold sooner.
	step := 1
	if kind == errkind.Auth {
		step = 2
	}

	r.mu.Lock()
	r.failures += step
	failures := r.failures
	r.mu.Unlock()
	if r.observer != nil {
		r.observer.ObserveCycle(source, kind.String(), elapsed)
		r.observer.SetConsecutiveFailures(source, failures)
	}

	switch kind {
	case errkind.Malformed, errkind.Unknown:
		// Bug candidates: either the fetcher broke the data contract or the
		// monitor itself did. Flagged for operator attention.
		logger.Error(ctx, "Sync cycle failed",
			tag.Error(err), tag.Status(kind.String()), tag.Failures(failures), tag.Elapsed(elapsed))
	default:
		logger.Warn(ctx, "Sync cycle failed",
			tag.Error(err), tag.Status(kind.String()), tag.Failures(failures), tag.Elapsed(elapsed))
	}
}

// ConsecutiveFailures returns the current failure streak.
func (r *Reporter) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Healthy reports whether the failure streak is below the degradation
// threshold. Unhealthy sources are still retried.
func (r *Reporter) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures < r.threshold
}
