package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kbukum/e2ekit/resilience"
)

// Client sends JSON requests to one base URL.
type Client struct {
	hc      *http.Client
	baseURL string
	header  http.Header
	retry   *resilience.RetryConfig
	maxBody int64
}

// New creates a client. Calls never go through a proxy; the control plane
// and the apps under test listen on loopback.
func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	header := make(http.Header, len(cfg.Headers)+2)
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", cfg.UserAgent)

	return &Client{
		hc:      &http.Client{Transport: transport, Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		header:  header,
		retry:   cfg.Retry,
		maxBody: cfg.MaxResponseBytes,
	}, nil
}

// BaseURL returns the base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Do sends req, retrying per the client's retry policy. A non-2xx answer is
// returned together with an *Error so callers can read its body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	attempts := 0
	var resp *Response
	send := func() error {
		attempts++
		r, err := c.send(ctx, req)
		resp = r
		return err
	}

	var err error
	if c.retry == nil {
		err = send()
	} else {
		err = resilience.RetryFunc(ctx, *c.retry, send)
	}
	if resp != nil {
		resp.Attempts = attempts
		resp.Elapsed = time.Since(start)
	}
	return resp, err
}

// CloseIdleConnections releases keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.hc.CloseIdleConnections()
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := c.hc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, NewTimeoutError(err)
		}
		return nil, NewConnectionError(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody))
	if err != nil {
		return nil, NewConnectionError(fmt.Errorf("read %s %s: %w", req.Method, req.Path, err))
	}

	resp := &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}
	if statusErr := ClassifyStatusCode(res.StatusCode, body); statusErr != nil {
		return resp, statusErr
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := req.Path
	if c.baseURL != "" {
		target = c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("encode %s body: %v", req.Path, err))
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, NewValidationError(err.Error())
	}
	if len(req.Query) > 0 {
		httpReq.URL.RawQuery = req.Query.Encode()
	}
	for k, v := range c.header {
		httpReq.Header[k] = v
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}
