package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Request is one call against the client's base URL.
type Request struct {
	Method string
	// Path is joined to the base URL. Callers escape path segments.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is sent as JSON when non-nil.
	Body any
}

// Response is a completed call, including non-2xx answers.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Attempts counts transport attempts, retries included.
	Attempts int
	Elapsed  time.Duration
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("httpclient: decode %d response: %w", r.StatusCode, err)
	}
	return nil
}
