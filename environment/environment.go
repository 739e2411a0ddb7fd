package environment

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kbukum/e2ekit/component"
	"github.com/kbukum/e2ekit/database"
	"github.com/kbukum/e2ekit/database/fixtures"
	"github.com/kbukum/e2ekit/database/migration"
	"github.com/kbukum/e2ekit/dbcontainer"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/observability"
	"github.com/kbukum/e2ekit/process"
	"github.com/kbukum/e2ekit/snapshot"
	"github.com/kbukum/e2ekit/validation"
)

// Supervisor starts and stops application instances.
type Supervisor interface {
	Start(ctx context.Context, req process.StartRequest) (*process.Instance, error)
	Stop(ctx context.Context, suiteID string) error
}

// Ports hands out application ports.
type Ports interface {
	Next() (int, error)
	Release(port int)
}

// Migrator applies schema migrations to a database URL.
type Migrator interface {
	Up(ctx context.Context, databaseURL string, src migration.Source) (migration.Result, error)
}

// Snapshotter records file snapshots of a suite database.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, suiteID, name string) error
}

// PoolEvicter drops cached pools for a database URL.
type PoolEvicter interface {
	Evict(databaseURL string)
}

// Connector opens the GORM client for a suite database.
type Connector func(ctx context.Context, databaseURL string) (*database.DB, error)

// Deps are the collaborators shared by all environments of a run.
type Deps struct {
	Provider   dbcontainer.Provider
	Supervisor Supervisor
	Ports      Ports
	// Migrator is required when a Definition has migrations.
	Migrator Migrator
	// Snapshots, when set, records the "initial" file snapshot after seeding.
	Snapshots Snapshotter
	// Connect defaults to database.Open with default settings.
	Connect Connector
	// Pools is told to forget a database URL before a container checkpoint
	// or restore.
	Pools PoolEvicter
	// ContainerBacked selects the longer application readiness timeout.
	ContainerBacked bool
}

func (d *Deps) validate() error {
	if d.Provider == nil {
		return fmt.Errorf("environment: database provider is required")
	}
	if d.Supervisor == nil || d.Ports == nil {
		return fmt.Errorf("environment: supervisor and port allocator are required")
	}
	if d.Connect == nil {
		d.Connect = func(ctx context.Context, url string) (*database.DB, error) {
			return database.Open(ctx, database.Config{URL: url}, nil)
		}
	}
	return nil
}

// Option configures an Environment.
type Option func(*Environment)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Environment) { e.log = l }
}

// WithMetrics sets the otel instruments used for suite operations.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Environment) { e.metrics = m }
}

// Environment owns one suite for its lifetime.
type Environment struct {
	def     Definition
	deps    Deps
	log     *logger.Logger
	metrics *observability.Metrics

	// opMu serializes lifecycle operations: stop → restore → start is never
	// interleaved with another operation on the same suite.
	opMu sync.Mutex
	inst dbcontainer.Instance
	db   *database.DB
	app  *process.Instance

	mu    sync.RWMutex
	suite Suite
}

var _ component.Component = (*Environment)(nil)

// New creates an Environment. Nothing is provisioned until Initialise.
func New(def Definition, deps Deps, opts ...Option) (*Environment, error) {
	if err := validation.Validate(def); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if def.Migrations != nil && deps.Migrator == nil {
		return nil, fmt.Errorf("environment %s: migrations configured without a migrator", def.SuiteID)
	}
	e := &Environment{
		def:   def,
		deps:  deps,
		log:   logger.Get(logger.ComponentEnvironment),
		suite: Suite{SuiteID: def.SuiteID},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithSuite(def.SuiteID)
	return e, nil
}

// ID returns the suite id.
func (e *Environment) ID() string { return e.def.SuiteID }

// Suite returns a copy of the current suite state.
func (e *Environment) Suite() Suite {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.suite
	if e.suite.TestData != nil {
		s.TestData = make(map[string]interface{}, len(e.suite.TestData))
		for k, v := range e.suite.TestData {
			s.TestData[k] = v
		}
	}
	return s
}

// DatabaseURL returns the current connection string.
func (e *Environment) DatabaseURL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.suite.DatabaseURL
}

func (e *Environment) update(fn func(s *Suite)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.suite)
}

// DB returns the suite's GORM client, or nil while disconnected.
func (e *Environment) DB() *database.DB {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.db
}

// Initialise provisions the suite: database, migrations, seed, port and
// application. On failure everything built so far is torn down.
func (e *Environment) Initialise(ctx context.Context) (_ Suite, err error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.inst != nil {
		return Suite{}, errors.AlreadyExists("environment for suite " + e.def.SuiteID)
	}

	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp, logger.ComponentEnvironment, "initialise", e.def.SuiteID, e.metrics)
	defer func() { err = op.End(ctx, err) }()

	e.log.Info("Initialising suite")
	if err := e.provision(ctx); err != nil {
		e.log.Error("Suite initialisation failed", logger.ErrorFields("initialise", err))
		e.teardown(context.WithoutCancel(ctx))
		return Suite{}, err
	}

	s := e.Suite()
	e.log.Info("Suite ready", logger.MergeWithDuration(
		logger.Fields(logger.FieldPort, s.Port, "app_url", s.AppURL), op.Duration()))
	return s, nil
}

func (e *Environment) provision(ctx context.Context) error {
	inst, err := e.deps.Provider.Start(ctx, e.def.SuiteID)
	if err != nil {
		return err
	}
	e.inst = inst

	url, err := inst.ConnectionString(ctx)
	if err != nil {
		return errors.ExternalServiceError("database", err)
	}
	e.update(func(s *Suite) {
		s.DatabaseURL = url
		s.DatabaseID = inst.ID()
	})

	if e.def.Migrations != nil {
		if _, err := e.deps.Migrator.Up(ctx, url, *e.def.Migrations); err != nil {
			return err
		}
	}

	if err := e.connect(ctx); err != nil {
		return err
	}
	if err := e.seed(ctx); err != nil {
		return err
	}

	if e.def.Checkpoint != "" {
		e.disconnect()
		if err := inst.Snapshot(ctx, e.def.Checkpoint); err != nil {
			return err
		}
		if err := e.connect(ctx); err != nil {
			return err
		}
	}

	if e.deps.Snapshots != nil {
		if err := e.deps.Snapshots.CreateSnapshot(ctx, e.def.SuiteID, snapshot.Initial); err != nil {
			return err
		}
	}

	if e.def.NoApp {
		return nil
	}
	port, err := e.deps.Ports.Next()
	if err != nil {
		return errors.Internal(err)
	}
	e.update(func(s *Suite) { s.Port = port })
	return e.startApp(ctx)
}

func (e *Environment) seed(ctx context.Context) error {
	if len(e.def.SeedFiles) == 0 && e.def.Seed == nil {
		return nil
	}
	sc := SeedContext{SuiteID: e.def.SuiteID, DB: e.db, Log: e.log}
	if e.db != nil {
		sc.Fixtures = fixtures.NewLoader(e.db.GormDB, e.log)
	}
	if len(e.def.SeedFiles) > 0 {
		if sc.Fixtures == nil {
			return errors.Internal(fmt.Errorf("seed files need a database client"))
		}
		if err := sc.Fixtures.ExecFiles(ctx, e.def.SeedFiles...); err != nil {
			return err
		}
	}
	if e.def.Seed == nil {
		return nil
	}
	data, err := e.def.Seed(ctx, sc)
	if err != nil {
		return fmt.Errorf("seed suite %s: %w", e.def.SuiteID, err)
	}
	e.update(func(s *Suite) { s.TestData = data })
	return nil
}

func (e *Environment) connect(ctx context.Context) error {
	db, err := e.deps.Connect(ctx, e.DatabaseURL())
	if err != nil {
		return err
	}
	e.db = db
	return nil
}

func (e *Environment) disconnect() {
	if e.db == nil {
		return
	}
	if err := e.db.Close(); err != nil {
		e.log.Warn("Closing database client failed", logger.ErrorFields("disconnect", err))
	}
	e.db = nil
}

func (e *Environment) startApp(ctx context.Context) error {
	s := e.Suite()
	app, err := e.deps.Supervisor.Start(ctx, process.StartRequest{
		SuiteID:         s.SuiteID,
		Port:            s.Port,
		DatabaseURL:     s.DatabaseURL,
		ContainerBacked: e.deps.ContainerBacked,
		Env:             e.def.Env,
	})
	if err != nil {
		return err
	}
	e.app = app
	e.update(func(s *Suite) { s.AppURL = app.URL })
	return nil
}

func (e *Environment) stopApp(ctx context.Context) error {
	if e.app == nil {
		return nil
	}
	if err := e.deps.Supervisor.Stop(ctx, e.def.SuiteID); err != nil {
		return err
	}
	e.app = nil
	return nil
}

// resume reconnects the client and restarts the application.
func (e *Environment) resume(ctx context.Context) error {
	if err := e.connect(ctx); err != nil {
		return err
	}
	if e.def.NoApp {
		return nil
	}
	return e.startApp(ctx)
}

func (e *Environment) requireInitialised() error {
	if e.inst == nil {
		return errors.New(errors.ErrCodeInternal, "suite "+e.def.SuiteID+" is not initialised", http.StatusConflict)
	}
	return nil
}

// CreateSnapshot takes a container-level checkpoint. The application and
// client are paused around it because checkpoints need an idle database.
func (e *Environment) CreateSnapshot(ctx context.Context, name string) (err error) {
	if !validation.IsIdent(name) {
		return errors.InvalidInput("name", "snapshot names may only contain letters, digits, '-' and '_'")
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.requireInitialised(); err != nil {
		return err
	}

	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp, logger.ComponentEnvironment, "snapshot", e.def.SuiteID, e.metrics)
	defer func() { err = op.End(ctx, err) }()

	if err := e.stopApp(ctx); err != nil {
		return err
	}
	e.disconnect()
	if e.deps.Pools != nil {
		e.deps.Pools.Evict(e.DatabaseURL())
	}

	snapErr := e.inst.Snapshot(ctx, name)
	if err := e.resume(ctx); err != nil {
		return stderrors.Join(snapErr, err)
	}
	if snapErr != nil {
		return snapErr
	}
	e.log.Info("Container checkpoint created", logger.Fields(logger.FieldSnapshot, name))
	return nil
}

// RestoreSnapshot returns the database to a container-level checkpoint:
// stop app, close client, restore, reconnect, restart app. The database URL
// may change; the returned Suite carries the new one.
func (e *Environment) RestoreSnapshot(ctx context.Context, name string) (_ Suite, err error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.requireInitialised(); err != nil {
		return Suite{}, err
	}

	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp, logger.ComponentEnvironment, "restore", e.def.SuiteID, e.metrics)
	defer func() { err = op.End(ctx, err) }()

	if err := e.stopApp(ctx); err != nil {
		return Suite{}, err
	}
	e.disconnect()

	oldURL := e.DatabaseURL()
	if e.deps.Pools != nil {
		e.deps.Pools.Evict(oldURL)
	}

	newURL, restoreErr := e.inst.Restore(ctx, name)
	if restoreErr == nil && newURL != "" {
		e.update(func(s *Suite) { s.DatabaseURL = newURL })
	}
	if err := e.resume(ctx); err != nil {
		return Suite{}, stderrors.Join(restoreErr, err)
	}
	if restoreErr != nil {
		return Suite{}, restoreErr
	}

	s := e.Suite()
	fields := logger.Fields(logger.FieldSnapshot, name, "app_url", s.AppURL)
	if s.DatabaseURL != oldURL {
		fields["database_changed"] = true
	}
	e.log.Info("Container checkpoint restored", fields)
	return s, nil
}

// ClearCache restarts the application against the same database.
func (e *Environment) ClearCache(ctx context.Context) (_ Suite, err error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.requireInitialised(); err != nil {
		return Suite{}, err
	}
	if e.def.NoApp {
		return Suite{}, errors.New(errors.ErrCodeInvalidAction, "suite "+e.def.SuiteID+" has no application to restart", http.StatusBadRequest)
	}

	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp, logger.ComponentEnvironment, "clear_cache", e.def.SuiteID, e.metrics)
	defer func() { err = op.End(ctx, err) }()

	if err := e.stopApp(ctx); err != nil {
		return Suite{}, err
	}
	if err := e.startApp(ctx); err != nil {
		return Suite{}, err
	}
	e.log.Info("Application restarted")
	return e.Suite(), nil
}

// Cleanup tears the suite down. Steps run concurrently and failures are
// logged, never returned, so one failed step does not block the others.
func (e *Environment) Cleanup(ctx context.Context) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.teardown(ctx)
}

func (e *Environment) teardown(ctx context.Context) {
	start := time.Now()
	var wg sync.WaitGroup
	step := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				e.log.Warn("Cleanup step failed", logger.ErrorFields(name, err))
			}
		}()
	}

	if db := e.db; db != nil {
		step("disconnect", db.Close)
	}
	if e.app != nil {
		step("stop_app", func() error { return e.deps.Supervisor.Stop(ctx, e.def.SuiteID) })
	}
	if inst := e.inst; inst != nil {
		step("terminate_database", func() error { return inst.Terminate(ctx) })
	}
	wg.Wait()

	if url := e.DatabaseURL(); url != "" && e.deps.Pools != nil {
		e.deps.Pools.Evict(url)
	}
	if port := e.Suite().Port; port > 0 {
		e.deps.Ports.Release(port)
	}
	e.db, e.app, e.inst = nil, nil, nil
	e.update(func(s *Suite) { *s = Suite{SuiteID: s.SuiteID} })
	e.log.Debug("Suite cleaned up", logger.DurationFields("cleanup", time.Since(start)))
}

// Name implements component.Component.
func (e *Environment) Name() string { return "suite:" + e.def.SuiteID }

// Start implements component.Component.
func (e *Environment) Start(ctx context.Context) error {
	_, err := e.Initialise(ctx)
	return err
}

// Stop implements component.Component.
func (e *Environment) Stop(ctx context.Context) error {
	e.Cleanup(ctx)
	return nil
}

// Health implements component.Component.
func (e *Environment) Health(ctx context.Context) component.Health {
	h := component.Health{Name: e.Name(), Status: component.StatusHealthy}

	if !e.opMu.TryLock() {
		h.Status, h.Message = component.StatusDegraded, "operation in progress"
		return h
	}
	inst, app := e.inst, e.app
	e.opMu.Unlock()

	switch {
	case inst == nil:
		h.Status, h.Message = component.StatusUnhealthy, "not initialised"
	case app != nil && app.HasExited():
		h.Status, h.Message = component.StatusUnhealthy, "application exited: "+app.State().String()
	case app == nil && !e.def.NoApp:
		h.Status, h.Message = component.StatusDegraded, "application not running"
	}
	return h
}
