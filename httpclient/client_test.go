package httpclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/e2ekit/resilience"
	"github.com/kbukum/e2ekit/version"
)

func TestClient_Do_GET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/suites" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected json accept header, got %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("User-Agent") != version.UserAgent() {
			t.Errorf("expected e2ekit user agent, got %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("X-Run-Id") != "run-1" {
			t.Errorf("expected default header, got %q", r.Header.Get("X-Run-Id"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"suiteId": "dashboard"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/", Headers: map[string]string{"X-Run-Id": "run-1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/suites"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Attempts != 1 {
		t.Errorf("unexpected response %d after %d attempts", resp.StatusCode, resp.Attempts)
	}
	var body struct {
		SuiteID string `json:"suiteId"`
	}
	if err := resp.Decode(&body); err != nil || body.SuiteID != "dashboard" {
		t.Errorf("unexpected body %+v, %v", body, err)
	}
}

func TestPost_SendsJSONAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/restore/admin/seeded" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "suiteId": "admin", "note": in["note"]})
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	type result struct {
		Success bool   `json:"success"`
		SuiteID string `json:"suiteId"`
		Note    string `json:"note"`
	}
	res, err := Post[result](context.Background(), c, "/restore/admin/seeded", map[string]string{"note": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Data.Success || res.Data.SuiteID != "admin" || res.Data.Note != "hi" {
		t.Errorf("unexpected body: %+v", res.Data)
	}
}

func TestCall_ErrorBodyStillDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("verbose") != "1" {
			t.Errorf("expected query, got %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"UNHEALTHY"}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	type health struct {
		Status string `json:"status"`
	}
	res, err := Call[health](context.Background(), c, Request{Method: http.MethodGet, Path: "/health", Query: url.Values{"verbose": {"1"}}})
	if !IsServerError(err) {
		t.Fatalf("expected server error, got %v", err)
	}
	if res == nil || res.Data.Status != "UNHEALTHY" || res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected decoded error body, got %+v", res)
	}

	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not json"))
	}))
	defer missing.Close()

	c, _ = New(Config{BaseURL: missing.URL})
	res, err = Get[health](context.Background(), c, "/health")
	if !IsNotFound(err) || res != nil {
		t.Errorf("expected bare not-found error, got %+v, %v", res, err)
	}
}

func TestClient_TruncatesLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, MaxResponseBytes: 16})
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Body) != 16 {
		t.Errorf("expected 16 bytes, got %d", len(resp.Body))
	}
}

func TestClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusNotFound, ErrCodeNotFound, false},
		{http.StatusBadRequest, ErrCodeValidation, false},
		{http.StatusConflict, ErrCodeValidation, false},
		{http.StatusInternalServerError, ErrCodeServer, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			c, _ := New(Config{BaseURL: srv.URL})
			resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x"})
			e, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if e.Code != tt.code || e.Retryable != tt.retryable || e.StatusCode != tt.status {
				t.Errorf("unexpected classification: %+v", e)
			}
			if string(e.Body) != `{"error":"nope"}` || resp == nil {
				t.Errorf("expected body and response to be preserved")
			}
		})
	}
}

func TestClient_RetriesConnectionErrorsOnly(t *testing.T) {
	// Grab a port and close it so every dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	var attempts atomic.Int32
	retry := DefaultRetryConfig()
	retry.InitialBackoff = time.Millisecond
	retry.OnRetry = func(int, error, time.Duration) { attempts.Add(1) }

	c, _ := New(Config{BaseURL: "http://" + addr, Retry: retry})
	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/health"})
	if !IsConnection(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if attempts.Load() != int32(retry.MaxAttempts-1) {
		t.Errorf("expected %d retries, got %d", retry.MaxAttempts-1, attempts.Load())
	}

	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c, _ = New(Config{BaseURL: srv.URL, Retry: &resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, RetryIf: IsConnection}})
	_, _ = c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/restore/a/b"})
	if served.Load() != 1 {
		t.Errorf("server errors must not be retried, served %d", served.Load())
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/slow"})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url"}); err == nil {
		t.Error("expected invalid base url error")
	}
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Timeout != defaultTimeout || cfg.MaxResponseBytes != defaultMaxResponseBytes || cfg.UserAgent != version.UserAgent() {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
