// Package resolver maps a running test onto its suite.
//
// Workers learn the suites from the hand-off file and try an ordered list
// of pure strategies: the file path under suites/, the runner project name,
// the base URL, and finally a fallback suite. The first match wins.
//
//	r := resolver.New(doc, pools, resolver.WithStrategies(
//	    resolver.DefaultStrategies(pathTable, projectTable, "interview")...))
//	wc, err := r.Resolve(ctx, resolver.InfoFromTest(t))
//
// Pools come from an injected connpool.Registry keyed by database URL, so
// every resolution in one process shares one pool per database. The owner
// of the registry closes it at process exit.
package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/handoff"
	"github.com/kbukum/e2ekit/logger"
)

// Environment variables read by InfoFromTest.
const (
	EnvProject = "E2E_PROJECT"
	EnvBaseURL = "E2E_BASE_URL"
)

// ErrUnresolved is wrapped by the error Resolve returns when no strategy
// matched.
var ErrUnresolved = stderrors.New("resolver: no suite matched")

// PoolSource returns a pool for a database URL.
type PoolSource interface {
	Get(ctx context.Context, databaseURL string) (*pgxpool.Pool, error)
}

// WorkerContext is the resolved suite plus its cached pool.
type WorkerContext struct {
	Suite           handoff.Suite
	Method          string
	ControlPlaneURL string
	Pool            *pgxpool.Pool
}

// Attempt records one strategy evaluation.
type Attempt struct {
	Method  string `json:"method"`
	Input   string `json:"input"`
	Matched bool   `json:"matched"`
	SuiteID string `json:"suiteId,omitempty"`
}

// Diagnosis explains how a test was, or was not, resolved.
type Diagnosis struct {
	Method   string    `json:"method,omitempty"`
	SuiteID  string    `json:"suiteId,omitempty"`
	Known    []string  `json:"known"`
	Attempts []Attempt `json:"attempts"`
}

// Resolved reports whether a strategy matched.
func (d Diagnosis) Resolved() bool { return d.Method != "" }

// Err returns a RESOLUTION_FAILED error for an unresolved diagnosis.
func (d Diagnosis) Err() error {
	if d.Resolved() {
		return nil
	}
	attempted := make([]string, 0, len(d.Attempts))
	for _, a := range d.Attempts {
		input := a.Input
		if input == "" {
			input = "<empty>"
		}
		attempted = append(attempted, fmt.Sprintf("%s=%s", a.Method, input))
	}
	return errors.ResolutionFailed(attempted, d.Known).WithCause(ErrUnresolved)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategies replaces the default strategies.
func WithStrategies(s ...Strategy) Option {
	return func(r *Resolver) { r.strategies = s }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver resolves tests against the suites of one hand-off document.
type Resolver struct {
	strategies      []Strategy
	pools           PoolSource
	log             *logger.Logger
	controlPlaneURL string

	mu    sync.RWMutex
	known []handoff.Suite
}

// New creates a Resolver for doc. pools may be nil, in which case resolved
// contexts carry no pool.
func New(doc *handoff.Document, pools PoolSource, opts ...Option) *Resolver {
	r := &Resolver{
		strategies: DefaultStrategies(nil, nil, DefaultFallback),
		pools:      pools,
		log:        logger.Get(logger.ComponentResolver),
	}
	if doc != nil {
		r.controlPlaneURL = doc.ControlPlaneURL
		r.known = append(r.known, doc.Suites...)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Known returns the known suite ids in sorted order.
func (r *Resolver) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.known))
	for _, s := range r.known {
		ids = append(ids, s.SuiteID)
	}
	sort.Strings(ids)
	return ids
}

// Suite returns the known entry for suiteID.
func (r *Resolver) Suite(suiteID string) (handoff.Suite, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return find(r.known, suiteID)
}

// DatabaseURL returns the current database URL of suiteID, so the resolver
// can back a snapshot engine in worker processes.
func (r *Resolver) DatabaseURL(suiteID string) (string, error) {
	s, ok := r.Suite(suiteID)
	if !ok {
		return "", errors.SuiteNotFound(suiteID)
	}
	return s.DatabaseURL, nil
}

// Update replaces the entry for s.SuiteID, for example after a container
// restore moved the suite to a new database URL.
func (r *Resolver) Update(s handoff.Suite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.known {
		if r.known[i].SuiteID == s.SuiteID {
			r.known[i] = s
			return
		}
	}
	r.known = append(r.known, s)
}

func (r *Resolver) snapshot() []handoff.Suite {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]handoff.Suite(nil), r.known...)
}

// Diagnose runs every strategy in order and records which one matched
// first.
func (r *Resolver) Diagnose(info TestInfo) Diagnosis {
	known := r.snapshot()
	d := Diagnosis{Known: r.Known(), Attempts: make([]Attempt, 0, len(r.strategies))}
	for _, s := range r.strategies {
		a := Attempt{Method: s.Method}
		if s.Input != nil {
			a.Input = s.Input(info)
		}
		if !d.Resolved() {
			if suite, ok := s.Match(info, known); ok {
				a.Matched, a.SuiteID = true, suite.SuiteID
				d.Method, d.SuiteID = s.Method, suite.SuiteID
			}
		}
		d.Attempts = append(d.Attempts, a)
	}
	return d
}

// Resolve returns the worker context for info. When nothing matches it
// returns a nil context and an error wrapping ErrUnresolved.
func (r *Resolver) Resolve(ctx context.Context, info TestInfo) (*WorkerContext, error) {
	known := r.snapshot()
	for _, s := range r.strategies {
		suite, ok := s.Match(info, known)
		if !ok {
			continue
		}
		wc := &WorkerContext{Suite: suite, Method: s.Method, ControlPlaneURL: r.controlPlaneURL}
		if r.pools != nil {
			pool, err := r.pools.Get(ctx, suite.DatabaseURL)
			if err != nil {
				return nil, err
			}
			wc.Pool = pool
		}
		r.log.Debug("Suite resolved", logger.Fields(logger.FieldSuiteID, suite.SuiteID, "method", s.Method))
		return wc, nil
	}
	return nil, r.Diagnose(info).Err()
}

// InfoFromTest builds TestInfo for the calling test: the caller's source
// file, E2E_PROJECT and E2E_BASE_URL.
func InfoFromTest(tb testing.TB) TestInfo {
	tb.Helper()
	return InfoFromCaller(1)
}

// InfoFromCaller is InfoFromTest for a caller skip frames above it.
func InfoFromCaller(skip int) TestInfo {
	_, file, _, _ := runtime.Caller(skip + 1)
	return TestInfo{
		FilePath:    file,
		ProjectName: os.Getenv(EnvProject),
		BaseURL:     os.Getenv(EnvBaseURL),
	}
}
