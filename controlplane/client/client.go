// Package client is the worker-side client for the control plane.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/kbukum/e2ekit/component"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/httpclient"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/version"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     component.HealthStatus `json:"status"`
	Service    string                 `json:"service"`
	Version    string                 `json:"version"`
	Build      version.Build          `json:"build"`
	Timestamp  string                 `json:"timestamp"`
	Components []component.Health     `json:"components"`
}

// Config configures a Client.
type Config struct {
	// URL is the control-plane base URL, e.g. http://127.0.0.1:41234.
	URL string `yaml:"url" mapstructure:"url"`
	// Timeout bounds one request. Restores restart an application, so the
	// default is generous.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Retries is the number of extra attempts after a connection failure.
	// Negative disables retries.
	Retries int `yaml:"retries" mapstructure:"retries"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Minute
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
}

// Client calls the control plane.
type Client struct {
	http *httpclient.Client
	url  string
	log  *logger.Logger
}

// New creates a client for the control plane at cfg.URL.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if cfg.URL == "" {
		return nil, errors.InvalidInput("url", "control plane url is required")
	}
	hc := httpclient.Config{BaseURL: cfg.URL, Timeout: cfg.Timeout}
	if cfg.Retries > 0 {
		hc.Retry = httpclient.DefaultRetryConfig()
		hc.Retry.MaxAttempts = cfg.Retries + 1
	}
	h, err := httpclient.New(hc)
	if err != nil {
		return nil, errors.InvalidInput("url", err.Error())
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{http: h, url: cfg.URL, log: log.WithComponent("controlplane-client")}, nil
}

// URL returns the control-plane base URL.
func (c *Client) URL() string { return c.url }

// Snapshot asks the control plane to take a container-level snapshot.
func (c *Client) Snapshot(ctx context.Context, suiteID, name string) (*SnapshotResponse, error) {
	return post[SnapshotResponse](c, ctx, ActionSnapshot, suiteID, name)
}

// Restore asks the control plane to restore a container-level snapshot. The
// returned URLs replace any cached ones.
func (c *Client) Restore(ctx context.Context, suiteID, name string) (*RestoreResponse, error) {
	return post[RestoreResponse](c, ctx, ActionRestore, suiteID, name)
}

// ClearCache restarts the suite's application.
func (c *Client) ClearCache(ctx context.Context, suiteID string) (*ClearCacheResponse, error) {
	return post[ClearCacheResponse](c, ctx, ActionClearCache, suiteID, "")
}

// Suites lists suites known to the control plane.
func (c *Client) Suites(ctx context.Context) ([]SuiteInfo, error) {
	resp, err := httpclient.Get[SuitesResponse](ctx, c.http, "/suites")
	if err != nil {
		return nil, c.translate("suites", err)
	}
	return resp.Data.Suites, nil
}

// Health returns the aggregated health report. An unhealthy control plane
// answers 503; the report is still returned alongside the error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := httpclient.Get[HealthResponse](ctx, c.http, "/health")
	if err != nil {
		if resp != nil {
			return &resp.Data, c.translate("health", err)
		}
		return nil, c.translate("health", err)
	}
	return &resp.Data, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func post[T any](c *Client, ctx context.Context, action, suiteID, name string) (*T, error) {
	path := "/" + action + "/" + url.PathEscape(suiteID)
	if name != "" {
		path += "/" + url.PathEscape(name)
	}
	start := time.Now()
	resp, err := httpclient.Post[T](ctx, c.http, path, nil)
	fields := logger.MergeWithDuration(logger.Fields(logger.FieldOperation, action, logger.FieldSuiteID, suiteID), time.Since(start))
	if resp != nil && resp.Attempts > 1 {
		fields["attempts"] = resp.Attempts
	}
	if err != nil {
		err = c.translate(action, err)
		c.log.Warn("Control plane call failed", logger.MergeWithError(fields, err))
		return nil, err
	}
	c.log.Debug("Control plane call completed", fields)
	return &resp.Data, nil
}

// translate turns transport errors into AppErrors, decoding the server's
// error body when there is one.
func (c *Client) translate(action string, err error) error {
	herr, ok := httpclient.AsError(err)
	if !ok {
		return errors.ExternalServiceError("control plane", err)
	}
	switch {
	case herr.StatusCode > 0:
		var body errors.ErrorResponse
		_ = json.Unmarshal(herr.Body, &body)
		return errors.FromResponse(herr.StatusCode, body)
	case herr.Code == httpclient.ErrCodeTimeout:
		return errors.Timeout(fmt.Sprintf("control plane %s", action)).WithCause(err)
	default:
		return errors.ConnectionFailed("control plane at " + c.url).WithCause(err)
	}
}
