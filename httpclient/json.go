package httpclient

import (
	"context"
	"net/http"
)

// Result is a response whose body was decoded as T.
type Result[T any] struct {
	*Response
	Data T
}

// Call sends req and decodes the JSON answer into T. When the server answers
// non-2xx with a body that still decodes as T, the result is returned
// alongside the *Error.
func Call[T any](ctx context.Context, c *Client, req Request) (*Result[T], error) {
	resp, err := c.Do(ctx, req)
	if resp == nil {
		return nil, err
	}
	res := &Result[T]{Response: resp}
	if decodeErr := resp.Decode(&res.Data); decodeErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, decodeErr
	}
	return res, err
}

// Get is Call with GET and no body.
func Get[T any](ctx context.Context, c *Client, path string) (*Result[T], error) {
	return Call[T](ctx, c, Request{Method: http.MethodGet, Path: path})
}

// Post is Call with POST.
func Post[T any](ctx context.Context, c *Client, path string, body any) (*Result[T], error) {
	return Call[T](ctx, c, Request{Method: http.MethodPost, Path: path, Body: body})
}
