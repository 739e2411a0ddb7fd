// Package httpclient is the JSON client test workers use to call the
// control plane.
//
// Non-2xx answers come back as *Error values carrying the status and raw
// body, next to the decoded Result when the body still fits the expected
// type. Only connection failures are retried.
//
//	c, err := httpclient.New(httpclient.Config{
//	    BaseURL: "http://127.0.0.1:41234",
//	    Retry:   httpclient.DefaultRetryConfig(),
//	})
//	res, err := httpclient.Post[RestoreResponse](ctx, c, "/restore/dashboard/seeded", nil)
package httpclient
