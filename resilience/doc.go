// Package resilience retries operations that fail transiently: connecting to
// a database container that is still booting, or calling a control plane
// that is restarting an app.
//
//	pool, err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() (*pgxpool.Pool, error) {
//	    return open(ctx, url)
//	})
package resilience
