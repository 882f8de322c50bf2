package airflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikitaKurtin/dbnd/internal/backoff"
	"github.com/nikitaKurtin/dbnd/internal/errkind"
)

// DataFetcher returns new and changed data from one monitored deployment.
// Implementations must be safe to call repeatedly with the same watermark
// (idempotent reads) and must return empty slices, never nil, when there is
// nothing new.
type DataFetcher interface {
	// FetchDagRuns returns the dag runs changed since the watermark plus the
	// candidate next watermark.
	FetchDagRuns(ctx context.Context, lastSeen LastSeenValues) (*DagRunsResponse, error)
	// FetchTaskInstances returns the task instances of the given dag runs.
	FetchTaskInstances(ctx context.Context, dagRunIDs []int64) ([]TaskInstance, error)
}

const (
	defaultFetchTimeout = 30 * time.Second

	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	retryMaxRetries      = 3
)

// FetcherConfig holds the connection settings for one monitored deployment.
type FetcherConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Fetcher is a DataFetcher backed by the export endpoints of a monitored
// Airflow deployment.
type Fetcher struct {
	client *resty.Client
}

var _ DataFetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher for the deployment described by cfg.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIToken != "" {
		client.SetAuthToken(cfg.APIToken)
	}
	return &Fetcher{client: client}
}

// FetchDagRuns implements DataFetcher.
func (f *Fetcher) FetchDagRuns(ctx context.Context, lastSeen LastSeenValues) (*DagRunsResponse, error) {
	req := f.client.R().SetContext(ctx)
	if lastSeen.LastSeenDagRunID != nil {
		req.SetQueryParam("last_seen_dag_run_id", strconv.FormatInt(*lastSeen.LastSeenDagRunID, 10))
	}
	if lastSeen.LastSeenLogID != nil {
		req.SetQueryParam("last_seen_log_id", strconv.FormatInt(*lastSeen.LastSeenLogID, 10))
	}

	var body []byte
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := req.SetContext(ctx).Get("/export/new_runs")
		if err != nil {
			return errkind.Transientf("fetch dag runs: %w", err)
		}
		if err := classifyResponse(resp); err != nil {
			return err
		}
		body = resp.Body()
		return nil
	}, newFetchRetryPolicy(), isRetriableError)
	if err != nil {
		return nil, err
	}

	parsed, err := DagRunsResponseFromJSON(body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Malformed, err)
	}
	return parsed, nil
}

// FetchTaskInstances implements DataFetcher.
func (f *Fetcher) FetchTaskInstances(ctx context.Context, dagRunIDs []int64) ([]TaskInstance, error) {
	if len(dagRunIDs) == 0 {
		return []TaskInstance{}, nil
	}

	ids := make([]string, len(dagRunIDs))
	for i, id := range dagRunIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}

	var result struct {
		TaskInstances []TaskInstance `json:"task_instances"`
	}
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := f.client.R().SetContext(ctx).
			SetQueryParam("dag_run_ids", strings.Join(ids, ",")).
			SetResult(&result).
			Get("/export/task_instances")
		if err != nil {
			return errkind.Transientf("fetch task instances: %w", err)
		}
		return classifyResponse(resp)
	}, newFetchRetryPolicy(), isRetriableError)
	if err != nil {
		return nil, err
	}

	if result.TaskInstances == nil {
		return []TaskInstance{}, nil
	}
	return result.TaskInstances, nil
}

// newFetchRetryPolicy creates the retry policy for fetch requests:
// exponential backoff with full jitter, a handful of attempts at most so a
// hung deployment does not stall the cycle past its interval.
func newFetchRetryPolicy() backoff.RetryPolicy {
	policy := backoff.NewExponentialBackoffPolicy(retryInitialInterval)
	policy.MaxInterval = retryMaxInterval
	policy.MaxRetries = retryMaxRetries
	return backoff.WithJitter(policy, backoff.FullJitter)
}

// classifyResponse converts a non-2xx response into a classified error.
func classifyResponse(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401 || code == 403:
		return errkind.Authf("request %s: status %d", resp.Request.URL, code)
	case code == 429 || code >= 500:
		return errkind.Transientf("request %s: status %d", resp.Request.URL, code)
	default:
		return errkind.Malformedf("request %s: unexpected status %d: %s",
			resp.Request.URL, code, truncate(resp.String(), 200))
	}
}

// isRetriableError retries transient failures only; auth and contract
// errors fail the cycle immediately.
func isRetriableError(err error) bool {
	return errkind.Is(err, errkind.Transient)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
