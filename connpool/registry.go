package connpool

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/resilience"
)

// Opener creates a pool for a database URL.
type Opener func(ctx context.Context, databaseURL string) (*pgxpool.Pool, error)

// Config controls how pools are opened.
type Config struct {
	// MaxConns caps each pool. Snapshot pools use one connection so that
	// administrative statements against a suite database are serialized.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	// ConnectAttempts is the number of ping attempts before giving up.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
}

// Registry caches one pool per database URL for the lifetime of a process.
// It replaces a package-level cache: whoever bootstraps the process owns the
// registry and must call Close when done.
type Registry struct {
	cfg    Config
	log    *logger.Logger
	open   Opener
	flight singleflight.Group

	mu     sync.Mutex
	pools  map[string]*pgxpool.Pool
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithOpener replaces the pgxpool opener.
func WithOpener(fn Opener) Option {
	return func(r *Registry) { r.open = fn }
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	cfg.ApplyDefaults()
	r := &Registry{
		cfg:   cfg,
		log:   logger.Get(logger.ComponentConnPool),
		pools: make(map[string]*pgxpool.Pool),
	}
	r.open = r.openPool
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New(errors.ErrCodeInternal, "connection pool registry is closed", http.StatusInternalServerError)

// Get returns the pool for databaseURL, opening it on first use. Concurrent
// callers asking for the same URL share one open attempt.
func (r *Registry) Get(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if p, ok := r.pools[databaseURL]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	// The open is shared with every caller waiting on the same URL, so it
	// must not die with the first caller's context.
	ch := r.flight.DoChan(databaseURL, func() (interface{}, error) {
		p, err := r.open(context.WithoutCancel(ctx), databaseURL)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			p.Close()
			return nil, ErrClosed
		}
		r.pools[databaseURL] = p
		return p, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*pgxpool.Pool), nil
	}
}

func (r *Registry) openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.InvalidInput("database_url", err.Error())
	}
	poolConfig.MaxConns = r.cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("create pool: %w", err))
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = r.cfg.ConnectAttempts
	retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		r.log.Debug("database ping failed, retrying", logger.Fields("attempt", attempt, logger.FieldError, err.Error()))
	}
	err = resilience.RetryFunc(ctx, retry, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, errors.ConnectionFailed("postgres").WithCause(err)
	}

	r.log.Debug("opened pool", logger.Fields("max_conns", poolConfig.MaxConns, logger.FieldURL, Redact(databaseURL)))
	return pool, nil
}

// Evict closes and forgets the pool for databaseURL, if any. Use it when a
// suite's database moves to a new URL.
func (r *Registry) Evict(databaseURL string) {
	r.mu.Lock()
	p, ok := r.pools[databaseURL]
	delete(r.pools, databaseURL)
	r.mu.Unlock()
	if ok {
		p.Close()
	}
}

// URLs returns the cached database URLs, sorted.
func (r *Registry) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls := make([]string, 0, len(r.pools))
	for u := range r.pools {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Len returns the number of open pools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Close closes every pool. The registry cannot be used afterwards. Close is
// safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pools := r.pools
	r.pools = make(map[string]*pgxpool.Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
	if len(pools) > 0 {
		r.log.Debug("closed pools", logger.Fields("count", len(pools)))
	}
}

// Redact hides the password in a database URL for logs and error messages.
func Redact(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.User == nil {
		return databaseURL
	}
	return u.Redacted()
}
