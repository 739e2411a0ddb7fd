// Package isolation is the API test code uses to keep tests independent.
//
// A Facade is bound to one suite. Isolate restores the "initial" snapshot
// before a test and returns a Scope whose Cleanup restores it again; every
// open scope counts towards Depth, and CheckLeaks reports scopes that were
// never cleaned up. Row-level snapshots run directly against the suite's
// database. Operations that must restart the application go through the
// control plane.
//
//	scope, err := iso.Isolate(ctx, t.Name())
//	if err != nil {
//	    t.Fatal(err)
//	}
//	t.Cleanup(func() { _ = scope.Cleanup(context.Background()) })
package isolation

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/kbukum/e2ekit/controlplane/client"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/handoff"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/snapshot"
)

// Snapshots creates and restores row-level snapshots. *snapshot.Engine
// implements it.
type Snapshots interface {
	CreateSnapshot(ctx context.Context, suiteID, name string) error
	RestoreSnapshot(ctx context.Context, suiteID, name string) error
}

// ControlPlane restarts applications and restores containers on behalf of
// the worker. *client.Client implements it.
type ControlPlane interface {
	Restore(ctx context.Context, suiteID, name string) (*client.RestoreResponse, error)
	ClearCache(ctx context.Context, suiteID string) (*client.ClearCacheResponse, error)
}

// Suites tracks the worker's view of suite URLs. *resolver.Resolver
// implements it.
type Suites interface {
	Suite(suiteID string) (handoff.Suite, bool)
	Update(s handoff.Suite)
}

// PoolEvicter drops cached pools for a database URL. *connpool.Registry
// implements it.
type PoolEvicter interface {
	Evict(databaseURL string)
}

// Option configures a Facade.
type Option func(*Facade)

// WithControlPlane enables RestoreContainer and ClearCache.
func WithControlPlane(cp ControlPlane) Option {
	return func(f *Facade) { f.cp = cp }
}

// WithSuites keeps s up to date when a container restore moves the suite.
func WithSuites(s Suites) Option {
	return func(f *Facade) { f.suites = s }
}

// WithPools evicts pools for database URLs that a container restore retired.
func WithPools(p PoolEvicter) Option {
	return func(f *Facade) { f.pools = p }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(f *Facade) { f.log = l.WithComponent(logger.ComponentIsolation) }
}

// WithBaseline changes the snapshot restored around each scope. Defaults to
// snapshot.Initial.
func WithBaseline(name string) Option {
	return func(f *Facade) { f.baseline = name }
}

// Facade is the per-suite isolation API.
type Facade struct {
	suiteID  string
	baseline string
	snaps    Snapshots
	cp       ControlPlane
	suites   Suites
	pools    PoolEvicter
	log      *logger.Logger

	mu     sync.Mutex
	open   []*Scope
	nextID int
}

// New creates a facade for suiteID.
func New(suiteID string, snaps Snapshots, opts ...Option) (*Facade, error) {
	if suiteID == "" {
		return nil, errors.InvalidInput("suite_id", "is required")
	}
	if snaps == nil {
		return nil, errors.InvalidInput("snapshots", "is required")
	}
	f := &Facade{
		suiteID:  suiteID,
		baseline: snapshot.Initial,
		snaps:    snaps,
		log:      logger.Get(logger.ComponentIsolation),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithSuite(suiteID)
	return f, nil
}

// SuiteID returns the suite this facade operates on.
func (f *Facade) SuiteID() string { return f.suiteID }

// Scope is an open isolation guard returned by Isolate.
type Scope struct {
	f     *Facade
	id    int
	label string

	mu   sync.Mutex
	done bool
}

// Label returns the label passed to Isolate.
func (s *Scope) Label() string { return s.label }

// Isolate restores the baseline snapshot and opens a scope. The depth only
// increases when the restore succeeded.
func (f *Facade) Isolate(ctx context.Context, label string) (*Scope, error) {
	if err := f.snaps.RestoreSnapshot(ctx, f.suiteID, f.baseline); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.nextID++
	s := &Scope{f: f, id: f.nextID, label: label}
	f.open = append(f.open, s)
	depth := len(f.open)
	f.mu.Unlock()

	f.log.Debug("Isolation scope opened", logger.Fields("label", label, "depth", depth))
	return s, nil
}

// Cleanup closes the scope and restores the baseline again. The depth is
// decremented exactly once even if the restore fails; a second call
// returns an error without touching the database.
func (s *Scope) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidAction,
			fmt.Sprintf("isolation scope %q was already cleaned up", s.label), http.StatusConflict)
	}
	s.done = true
	s.mu.Unlock()

	f := s.f
	f.mu.Lock()
	f.open = slices.DeleteFunc(f.open, func(o *Scope) bool { return o.id == s.id })
	depth := len(f.open)
	f.mu.Unlock()

	if err := f.snaps.RestoreSnapshot(ctx, f.suiteID, f.baseline); err != nil {
		f.log.Error("Isolation cleanup failed to restore baseline", logger.MergeWithError(
			logger.Fields("label", s.label, logger.FieldSnapshot, f.baseline), err))
		return err
	}
	f.log.Debug("Isolation scope closed", logger.Fields("label", s.label, "depth", depth))
	return nil
}

// Depth returns the number of open scopes.
func (f *Facade) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// CheckLeaks returns ISOLATION_LEAK when scopes are still open.
func (f *Facade) CheckLeaks() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.open) == 0 {
		return nil
	}
	labels := make([]string, len(f.open))
	for i, s := range f.open {
		labels[i] = s.label
	}
	return errors.IsolationLeak(len(labels), labels)
}

// Create captures the suite's current rows as snapshot name.
func (f *Facade) Create(ctx context.Context, name string) error {
	return f.snaps.CreateSnapshot(ctx, f.suiteID, name)
}

// Restore replaces the suite's rows with snapshot name.
func (f *Facade) Restore(ctx context.Context, name string) error {
	return f.snaps.RestoreSnapshot(ctx, f.suiteID, name)
}

// WithSnapshot restores name, runs fn, and always restores the baseline
// afterwards. fn is skipped when the first restore fails. All errors are
// joined.
func (f *Facade) WithSnapshot(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var errs []error
	if err := f.snaps.RestoreSnapshot(ctx, f.suiteID, name); err != nil {
		errs = append(errs, err)
	} else if err := fn(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := f.snaps.RestoreSnapshot(ctx, f.suiteID, f.baseline); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// RestoreContainer asks the control plane for a container-level restore.
// The application is restarted and the suite may come back on a new
// database URL; the worker's suite table and pool cache are updated.
func (f *Facade) RestoreContainer(ctx context.Context, name string) (handoff.Suite, error) {
	if f.cp == nil {
		return handoff.Suite{}, errNoControlPlane
	}
	resp, err := f.cp.Restore(ctx, f.suiteID, name)
	if err != nil {
		return handoff.Suite{}, err
	}

	current := f.current()
	next := current
	next.SuiteID = f.suiteID
	next.AppURL = resp.AppURL
	next.DatabaseURL = resp.DatabaseURL
	// The database is dropped and recreated even when the URL stays the
	// same, so pooled connections to it are dead.
	if f.pools != nil && current.DatabaseURL != "" {
		f.pools.Evict(current.DatabaseURL)
	}
	if f.suites != nil {
		f.suites.Update(next)
	}
	f.log.Info("Container restored", logger.Fields(logger.FieldSnapshot, name, logger.FieldURL, next.AppURL))
	return next, nil
}

// ClearCache restarts the suite's application through the control plane.
func (f *Facade) ClearCache(ctx context.Context) (handoff.Suite, error) {
	if f.cp == nil {
		return handoff.Suite{}, errNoControlPlane
	}
	resp, err := f.cp.ClearCache(ctx, f.suiteID)
	if err != nil {
		return handoff.Suite{}, err
	}
	next := f.current()
	next.SuiteID = f.suiteID
	if resp.AppURL != "" && resp.AppURL != next.AppURL {
		next.AppURL = resp.AppURL
		if f.suites != nil {
			f.suites.Update(next)
		}
	}
	return next, nil
}

func (f *Facade) current() handoff.Suite {
	if f.suites == nil {
		return handoff.Suite{SuiteID: f.suiteID}
	}
	s, _ := f.suites.Suite(f.suiteID)
	return s
}

var errNoControlPlane = errors.New(errors.ErrCodeInvalidAction,
	"no control plane configured for container operations", http.StatusBadRequest)
