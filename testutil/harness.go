package testutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/kbukum/e2ekit/config"
	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/controlplane/client"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/handoff"
	"github.com/kbukum/e2ekit/isolation"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/resolver"
	"github.com/kbukum/e2ekit/snapshot"
)

// Option configures a Harness.
type Option func(*options)

type options struct {
	cfg       *Config
	loader    []config.LoaderOption
	doc       *handoff.Document
	log       *logger.Logger
	pools     *connpool.Registry
	snapshots isolation.Snapshots
}

// WithConfig uses cfg instead of loading e2ekit.yml.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = &cfg }
}

// WithLoaderOptions passes options to the config loader.
func WithLoaderOptions(opts ...config.LoaderOption) Option {
	return func(o *options) { o.loader = append(o.loader, opts...) }
}

// WithDocument uses doc instead of reading the hand-off file.
func WithDocument(doc *handoff.Document) Option {
	return func(o *options) { o.doc = doc }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithPools supplies the pool registry. The harness closes it.
func WithPools(r *connpool.Registry) Option {
	return func(o *options) { o.pools = r }
}

// WithSnapshots replaces the snapshot engine used by isolation.
func WithSnapshots(s isolation.Snapshots) Option {
	return func(o *options) { o.snapshots = s }
}

// Harness holds everything one test binary needs to talk to its suites.
type Harness struct {
	doc      *handoff.Document
	log      *logger.Logger
	resolver *resolver.Resolver
	pools    *connpool.Registry
	snaps    isolation.Snapshots
	cp       *client.Client

	mu      sync.Mutex
	facades map[string]*isolation.Facade
}

// New builds a Harness from the hand-off file.
func New(opts ...Option) (*Harness, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.GetGlobalLogger()
	}

	var cfg Config
	if o.cfg != nil {
		cfg = *o.cfg
		cfg.ApplyDefaults()
	} else {
		loaded, err := LoadConfig(o.loader...)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	doc := o.doc
	if doc == nil {
		d, err := handoff.Read(cfg.Handoff)
		if err != nil {
			return nil, err
		}
		doc = d
	}

	h := &Harness{
		doc:     doc,
		log:     o.log,
		pools:   o.pools,
		snaps:   o.snapshots,
		facades: make(map[string]*isolation.Facade),
	}
	if h.pools == nil {
		h.pools = connpool.NewRegistry(cfg.Pools, connpool.WithLogger(o.log.WithComponent(logger.ComponentConnPool)))
	}
	h.resolver = resolver.New(doc, h.pools,
		resolver.WithStrategies(cfg.Resolve.Strategies()...),
		resolver.WithLogger(o.log.WithComponent(logger.ComponentResolver)))

	if h.snaps == nil {
		engine, err := snapshot.NewEngine(cfg.Snapshots, h.resolver, h.pools,
			snapshot.WithLogger(o.log.WithComponent(logger.ComponentSnapshot)))
		if err != nil {
			h.pools.Close()
			return nil, err
		}
		h.snaps = engine
	}

	if doc.ControlPlaneURL != "" {
		cfg.Client.URL = doc.ControlPlaneURL
		cp, err := client.New(cfg.Client, o.log)
		if err != nil {
			h.pools.Close()
			return nil, err
		}
		h.cp = cp
	}
	return h, nil
}

// Main is the body of a TestMain: it builds the harness into *dst, runs the
// tests, fails the binary on leaked isolation scopes and releases
// everything. Pass the result to os.Exit.
func Main(m *testing.M, dst **Harness, opts ...Option) int {
	h, err := New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2ekit: %v\n", err)
		return 1
	}
	*dst = h
	defer h.Close()

	code := m.Run()
	if err := h.CheckLeaks(); err != nil {
		fmt.Fprintf(os.Stderr, "e2ekit: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// Document returns the hand-off document the harness was built from.
func (h *Harness) Document() *handoff.Document { return h.doc }

// Resolver returns the suite resolver.
func (h *Harness) Resolver() *resolver.Resolver { return h.resolver }

// Pools returns the pool registry.
func (h *Harness) Pools() *connpool.Registry { return h.pools }

// Client returns the control-plane client, or nil when the hand-off file
// has no control-plane URL.
func (h *Harness) Client() *client.Client { return h.cp }

// Facade returns the isolation facade for suiteID, creating it on first use.
func (h *Harness) Facade(suiteID string) (*isolation.Facade, error) {
	if _, ok := h.resolver.Suite(suiteID); !ok {
		return nil, errors.SuiteNotFound(suiteID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.facades[suiteID]; ok {
		return f, nil
	}
	opts := []isolation.Option{
		isolation.WithSuites(h.resolver),
		isolation.WithPools(h.pools),
		isolation.WithLogger(h.log.WithComponent(logger.ComponentIsolation)),
	}
	if h.cp != nil {
		opts = append(opts, isolation.WithControlPlane(h.cp))
	}
	f, err := isolation.New(suiteID, h.snaps, opts...)
	if err != nil {
		return nil, err
	}
	h.facades[suiteID] = f
	return f, nil
}

// Resolve returns the worker context for the calling test. It fails the
// test when no suite matches.
func (h *Harness) Resolve(tb testing.TB) *resolver.WorkerContext {
	tb.Helper()
	return h.resolve(tb, resolver.InfoFromCaller(1))
}

func (h *Harness) resolve(tb testing.TB, info resolver.TestInfo) *resolver.WorkerContext {
	tb.Helper()
	wc, err := h.resolver.Resolve(context.Background(), info)
	if err != nil {
		tb.Fatalf("resolve suite: %v", err)
	}
	return wc
}

// Env is an isolated test's view of its suite.
type Env struct {
	*resolver.WorkerContext
	Facade *isolation.Facade
}

// Isolate resolves the calling test's suite, restores its baseline and
// restores it again when the test finishes.
func (h *Harness) Isolate(tb testing.TB) *Env {
	tb.Helper()
	wc := h.resolve(tb, resolver.InfoFromCaller(1))
	return h.isolate(tb, wc)
}

// IsolateSuite is Isolate for an explicit suite id.
func (h *Harness) IsolateSuite(tb testing.TB, suiteID string) *Env {
	tb.Helper()
	s, ok := h.resolver.Suite(suiteID)
	if !ok {
		tb.Fatalf("resolve suite: %v", errors.SuiteNotFound(suiteID))
	}
	wc := &resolver.WorkerContext{Suite: s, Method: "explicit", ControlPlaneURL: h.doc.ControlPlaneURL}
	pool, err := h.pools.Get(context.Background(), s.DatabaseURL)
	if err != nil {
		tb.Fatalf("open pool for %s: %v", suiteID, err)
	}
	wc.Pool = pool
	return h.isolate(tb, wc)
}

func (h *Harness) isolate(tb testing.TB, wc *resolver.WorkerContext) *Env {
	tb.Helper()
	f, err := h.Facade(wc.Suite.SuiteID)
	if err != nil {
		tb.Fatalf("isolation facade: %v", err)
	}
	scope, err := f.Isolate(context.Background(), tb.Name())
	if err != nil {
		tb.Fatalf("isolate %s: %v", wc.Suite.SuiteID, err)
	}
	tb.Cleanup(func() {
		if err := scope.Cleanup(context.Background()); err != nil {
			tb.Errorf("restore baseline for %s: %v", wc.Suite.SuiteID, err)
		}
	})
	return &Env{WorkerContext: wc, Facade: f}
}

// CheckLeaks reports isolation scopes that are still open in any suite.
func (h *Harness) CheckLeaks() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, f := range h.facades {
		if err := f.CheckLeaks(); err != nil {
			errs = append(errs, fmt.Errorf("suite %s: %w", f.SuiteID(), err))
		}
	}
	return stderrors.Join(errs...)
}

// Close releases pools and client connections.
func (h *Harness) Close() {
	if h.cp != nil {
		h.cp.Close()
	}
	h.pools.Close()
}
