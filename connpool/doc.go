// Package connpool provides an injectable, process-scoped cache of pgx pools
// keyed by database URL.
//
// A test process resolves its suite many times; every resolution for the same
// database URL returns the same pool. The registry is owned by the process
// bootstrap (usually TestMain) and torn down with Close:
//
//	pools := connpool.NewRegistry(connpool.Config{MaxConns: 1})
//	defer pools.Close()
//
//	pool, err := pools.Get(ctx, databaseURL)
package connpool
