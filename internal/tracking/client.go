package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/nikitaKurtin/dbnd/internal/airflow"
	"github.com/nikitaKurtin/dbnd/internal/backoff"
	"github.com/nikitaKurtin/dbnd/internal/errkind"
)

const (
	defaultRequestTimeout = 30 * time.Second

	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	retryMaxRetries      = 3
)

// ClientConfig holds the connection settings for the tracking backend.
type ClientConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

func newRestClient(cfg ClientConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIToken != "" {
		client.SetAuthToken(cfg.APIToken)
	}
	return client
}

// newReadRetryPolicy creates the retry policy for idempotent reads.
// Writes are never retried at request granularity; redelivery happens at
// cycle granularity so the watermark contract stays intact.
func newReadRetryPolicy() backoff.RetryPolicy {
	policy := backoff.NewExponentialBackoffPolicy(retryInitialInterval)
	policy.MaxInterval = retryMaxInterval
	policy.MaxRetries = retryMaxRetries
	return backoff.WithJitter(policy, backoff.FullJitter)
}

func isRetriableError(err error) bool {
	return errkind.Is(err, errkind.Transient)
}

func classifyReadResponse(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401 || code == 403:
		return errkind.Authf("request %s: status %d", resp.Request.URL, code)
	case code == 429 || code >= 500:
		return errkind.Transientf("request %s: status %d", resp.Request.URL, code)
	default:
		return errkind.Malformedf("request %s: unexpected status %d", resp.Request.URL, code)
	}
}

func classifyWriteResponse(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401 || code == 403:
		return errkind.Authf("request %s: status %d", resp.Request.URL, code)
	default:
		return errkind.Persistencef("request %s: status %d", resp.Request.URL, code)
	}
}

// Client is a Service backed by the tracking backend's REST API.
type Client struct {
	client *resty.Client
}

var _ Service = (*Client)(nil)

// NewClient creates a tracking-service client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{client: newRestClient(cfg)}
}

// GetLastSeenValues implements Service.
func (c *Client) GetLastSeenValues(ctx context.Context, uid uuid.UUID) (airflow.LastSeenValues, error) {
	var raw map[string]any
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().SetContext(ctx).
			SetResult(&raw).
			Get(fmt.Sprintf("/api/v1/integrations/%s/last_seen_values", uid))
		if err != nil {
			return errkind.Transientf("get last seen values: %w", err)
		}
		return classifyReadResponse(resp)
	}, newReadRetryPolicy(), isRetriableError)
	if err != nil {
		return airflow.LastSeenValues{}, err
	}
	return airflow.LastSeenValuesFromMap(raw), nil
}

// SaveFullData implements Service.
func (c *Client) SaveFullData(ctx context.Context, uid uuid.UUID, data airflow.DagRunsFullData) error {
	resp, err := c.client.R().SetContext(ctx).
		SetBody(data.AsMap()).
		Post(fmt.Sprintf("/api/v1/integrations/%s/dag_runs/full", uid))
	if err != nil {
		return errkind.Persistencef("save full data: %w", err)
	}
	return classifyWriteResponse(resp)
}

// SaveStateData implements Service.
func (c *Client) SaveStateData(ctx context.Context, uid uuid.UUID, data airflow.DagRunsStateData) error {
	resp, err := c.client.R().SetContext(ctx).
		SetBody(data.AsMap()).
		Post(fmt.Sprintf("/api/v1/integrations/%s/dag_runs/state", uid))
	if err != nil {
		return errkind.Persistencef("save state data: %w", err)
	}
	return classifyWriteResponse(resp)
}

// UpdateLastSeenValues implements Service.
func (c *Client) UpdateLastSeenValues(ctx context.Context, uid uuid.UUID, values airflow.LastSeenValues) error {
	resp, err := c.client.R().SetContext(ctx).
		SetBody(values.AsMap()).
		Put(fmt.Sprintf("/api/v1/integrations/%s/last_seen_values", uid))
	if err != nil {
		return errkind.Persistencef("update last seen values: %w", err)
	}
	return classifyWriteResponse(resp)
}

// GetSourceConfig implements Service.
func (c *Client) GetSourceConfig(ctx context.Context, uid uuid.UUID) (*IntegrationConfig, error) {
	var cfg IntegrationConfig
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().SetContext(ctx).
			SetResult(&cfg).
			Get(fmt.Sprintf("/api/v1/integrations/%s/config", uid))
		if err != nil {
			return errkind.Transientf("get source config: %w", err)
		}
		return classifyReadResponse(resp)
	}, newReadRetryPolicy(), isRetriableError)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ManagementClient is a ManagementService backed by the same REST API.
type ManagementClient struct {
	client *resty.Client
}

var _ ManagementService = (*ManagementClient)(nil)

// NewManagementClient creates an integration-management client.
func NewManagementClient(cfg ClientConfig) *ManagementClient {
	return &ManagementClient{client: newRestClient(cfg)}
}

// ListActiveIntegrations implements ManagementService.
func (c *ManagementClient) ListActiveIntegrations(ctx context.Context) ([]IntegrationConfig, error) {
	var configs []IntegrationConfig
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().SetContext(ctx).
			SetQueryParam("monitor_type", "airflow").
			SetResult(&configs).
			Get("/api/v1/integrations")
		if err != nil {
			return errkind.Transientf("list active integrations: %w", err)
		}
		return classifyReadResponse(resp)
	}, newReadRetryPolicy(), isRetriableError)
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// ReportHeartbeat implements ManagementService.
func (c *ManagementClient) ReportHeartbeat(ctx context.Context, uid uuid.UUID, status Status, ts time.Time) error {
	resp, err := c.client.R().SetContext(ctx).
		SetBody(map[string]any{
			"status":    string(status),
			"timestamp": ts.UTC().Format(time.RFC3339),
		}).
		Post(fmt.Sprintf("/api/v1/integrations/%s/heartbeat", uid))
	if err != nil {
		return errkind.Transientf("report heartbeat: %w", err)
	}
	return classifyWriteResponse(resp)
}
