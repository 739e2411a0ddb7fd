package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kbukum/e2ekit/component"
	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/controlplane"
	"github.com/kbukum/e2ekit/database/migration"
	"github.com/kbukum/e2ekit/dbcontainer"
	"github.com/kbukum/e2ekit/environment"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/handoff"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/observability"
	"github.com/kbukum/e2ekit/portalloc"
	"github.com/kbukum/e2ekit/process"
	"github.com/kbukum/e2ekit/snapshot"
	"github.com/kbukum/e2ekit/version"
)

const metricsNamespace = "e2ekit"

// Hook is a lifecycle callback run after setup or during teardown.
type Hook func(ctx context.Context) error

// Option configures Setup.
type Option func(*options)

type options struct {
	log        *logger.Logger
	seeds      map[string]environment.SeedFunc
	migrations map[string]migration.Source
	provider   dbcontainer.Provider
	supervisor environment.Supervisor
	connect    environment.Connector
	snapshots  environment.Snapshotter
	summary    io.Writer
	onReady    []Hook
	onStop     []Hook
}

// WithLogger sets the logger used by the run and every component it builds.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSeed registers the seed callback for suiteID.
func WithSeed(suiteID string, fn environment.SeedFunc) Option {
	return func(o *options) { o.seeds[suiteID] = fn }
}

// WithMigrations sets the migration source for suiteID, typically an
// embed.FS. It overrides the suite's configured directory.
func WithMigrations(suiteID string, src migration.Source) Option {
	return func(o *options) { o.migrations[suiteID] = src }
}

// WithProvider replaces the database provider selected by config.
func WithProvider(p dbcontainer.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithSupervisor replaces the application supervisor.
func WithSupervisor(s environment.Supervisor) Option {
	return func(o *options) { o.supervisor = s }
}

// WithConnector replaces how suite GORM clients are opened.
func WithConnector(fn environment.Connector) Option {
	return func(o *options) { o.connect = fn }
}

// WithBaseline replaces the snapshot engine as the recorder of the
// "initial" file snapshot.
func WithBaseline(s environment.Snapshotter) Option {
	return func(o *options) { o.snapshots = s }
}

// WithSummary prints the startup summary to w once the run is ready.
func WithSummary(w io.Writer) Option {
	return func(o *options) { o.summary = w }
}

// OnReady registers hooks that run after the hand-off file is written.
func OnReady(hooks ...Hook) Option {
	return func(o *options) { o.onReady = append(o.onReady, hooks...) }
}

// OnStop registers hooks that run first during teardown.
func OnStop(hooks ...Hook) Option {
	return func(o *options) { o.onStop = append(o.onStop, hooks...) }
}

// Run is a provisioned set of suites plus the control plane serving them.
type Run struct {
	id         string
	cfg        Config
	log        *logger.Logger
	components *component.Registry
	envs       *environment.Registry
	server     *controlplane.Server
	engine     *snapshot.Engine
	pools      *connpool.Registry
	supervisor *process.Supervisor
	writer     *handoff.Writer
	summary    *Summary

	onStop    []Hook
	telemetry Hook
	createdAt time.Time
	stopOnce  sync.Once
}

// Setup provisions every configured suite concurrently, starts the control
// plane and writes the hand-off file. If anything fails, whatever was built
// is torn down before the error is returned.
func Setup(ctx context.Context, cfg Config, opts ...Option) (_ *Run, err error) {
	start := time.Now()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("config", err.Error())
	}

	o := &options{
		seeds:      make(map[string]environment.SeedFunc),
		migrations: make(map[string]migration.Source),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.GetGlobalLogger()
	}

	r := &Run{
		id:         uuid.NewString(),
		cfg:        cfg,
		components: component.NewRegistry(),
		envs:       environment.NewRegistry(),
		writer:     handoff.NewWriter(cfg.Handoff),
		onStop:     o.onStop,
		summary:    NewSummary(cfg.Name, version.Get()),
	}
	r.log = o.log.WithComponent(logger.ComponentOrchestrator).WithFields(logger.Fields("run_id", r.id))
	r.components.SetStopTimeout(cfg.ShutdownTimeout)

	defer func() {
		if err != nil {
			r.log.Error("Setup failed, tearing down", logger.ErrorFields("setup", err))
			r.Teardown(context.WithoutCancel(ctx))
		}
	}()

	shutdownTelemetry, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, err
	}
	r.telemetry = shutdownTelemetry
	telemetry := observability.DefaultMetrics()

	reg := prometheus.NewRegistry()
	deps, err := r.buildDeps(ctx, o, reg, telemetry)
	if err != nil {
		return nil, err
	}

	members := make([]component.Component, 0, len(cfg.Suites))
	for _, def := range cfg.Definitions() {
		if src, ok := o.migrations[def.SuiteID]; ok {
			def.Migrations = &src
		}
		def.Seed = o.seeds[def.SuiteID]
		env, err := environment.New(def, deps,
			environment.WithLogger(o.log.WithComponent(logger.ComponentEnvironment)),
			environment.WithMetrics(telemetry))
		if err != nil {
			return nil, err
		}
		if err := r.envs.Add(env); err != nil {
			return nil, err
		}
		members = append(members, env)
	}

	r.server, err = controlplane.New(cfg.ControlPlane, controlplane.FromRegistry(r.envs),
		controlplane.WithLogger(o.log),
		controlplane.WithTelemetry(telemetry),
		controlplane.WithMetrics(controlplane.NewMetrics(metricsNamespace, reg)),
		controlplane.WithGatherer(reg),
		controlplane.OnSuiteChanged(r.suiteChanged),
	)
	if err != nil {
		return nil, errors.InvalidInput("control_plane", err.Error())
	}

	if err := r.components.Register(component.NewGroup("suites", members...)); err != nil {
		return nil, err
	}
	if err := r.components.Register(r.server); err != nil {
		return nil, err
	}

	r.log.Info("Provisioning suites", logger.Fields("suites", r.envs.IDs(), "mode", cfg.Database.Mode))
	if err := r.components.StartAll(ctx); err != nil {
		return nil, err
	}

	r.createdAt = time.Now().UTC()
	if err := r.writeHandoff(); err != nil {
		return nil, err
	}
	r.ReadyCheck(ctx)
	for i, h := range o.onReady {
		if err := h(ctx); err != nil {
			return nil, fmt.Errorf("onReady hook %d failed: %w", i, err)
		}
	}

	r.summary.SetStartupDuration(time.Since(start))
	if o.summary != nil {
		r.summary.Display(o.summary, r)
	}
	r.log.Info("Run ready", logger.MergeWithDuration(logger.Fields(
		logger.FieldURL, r.URL(), "handoff", r.writer.Path()), time.Since(start)))
	return r, nil
}

func (r *Run) buildDeps(ctx context.Context, o *options, reg prometheus.Registerer, telemetry *observability.Metrics) (environment.Deps, error) {
	cfg := r.cfg

	provider := o.provider
	if provider == nil {
		p, err := dbcontainer.NewProvider(cfg.Database, r.id, o.log.WithComponent(logger.ComponentContainer))
		if err != nil {
			return environment.Deps{}, errors.InvalidInput("database", err.Error())
		}
		provider = p
	}

	supervisor := o.supervisor
	if supervisor == nil {
		if r.needsApp() {
			s, err := process.New(cfg.App,
				process.WithLogger(o.log.WithComponent(logger.ComponentSupervisor)),
				process.WithMetrics(process.NewPrometheusMetrics(metricsNamespace, reg)))
			if err != nil {
				return environment.Deps{}, errors.InvalidInput("app", err.Error())
			}
			if err := s.Build(ctx); err != nil {
				return environment.Deps{}, err
			}
			r.supervisor = s
			supervisor = s
		} else {
			supervisor = noApps{}
		}
	}

	ports, err := portalloc.New(cfg.Ports.Start, cfg.Ports.End, portalloc.WithHost(cfg.App.Hostname))
	if err != nil {
		return environment.Deps{}, errors.InvalidInput("ports", err.Error())
	}

	r.pools = connpool.NewRegistry(cfg.Pools, connpool.WithLogger(o.log.WithComponent(logger.ComponentConnPool)))
	r.engine, err = snapshot.NewEngine(cfg.Snapshots, r.envs, r.pools,
		snapshot.WithLogger(o.log.WithComponent(logger.ComponentSnapshot)),
		snapshot.WithMetrics(telemetry))
	if err != nil {
		return environment.Deps{}, errors.InvalidInput("snapshots", err.Error())
	}

	baseline := o.snapshots
	if baseline == nil {
		baseline = r.engine
	}

	return environment.Deps{
		Provider:        provider,
		Supervisor:      supervisor,
		Ports:           ports,
		Migrator:        migration.NewRunner(migration.NewTracker(), o.log.WithComponent(logger.ComponentMigration)),
		Snapshots:       baseline,
		Connect:         o.connect,
		Pools:           r.pools,
		ContainerBacked: cfg.Database.Mode == dbcontainer.ModeContainer,
	}, nil
}

func (r *Run) needsApp() bool {
	for _, s := range r.cfg.Suites {
		if !s.NoApp {
			return true
		}
	}
	return false
}

// ID returns the run id. Containers started by the run carry it as a label.
func (r *Run) ID() string { return r.id }

// URL returns the control-plane base URL.
func (r *Run) URL() string {
	if r.server == nil {
		return ""
	}
	return r.server.URL()
}

// HandoffPath returns where the hand-off file was written.
func (r *Run) HandoffPath() string { return r.writer.Path() }

// Environments returns the suite registry.
func (r *Run) Environments() *environment.Registry { return r.envs }

// Snapshots returns the file snapshot engine.
func (r *Run) Snapshots() *snapshot.Engine { return r.engine }

// Suites returns the current state of every suite.
func (r *Run) Suites() []environment.Suite { return r.envs.Suites() }

// Document returns the hand-off document for the current suite state.
func (r *Run) Document() handoff.Document {
	suites := r.envs.Suites()
	doc := handoff.Document{
		ControlPlaneURL: r.URL(),
		CreatedAt:       r.createdAt,
		RunID:           r.id,
		Suites:          make([]handoff.Suite, 0, len(suites)),
	}
	for _, s := range suites {
		doc.Suites = append(doc.Suites, handoff.Suite{
			SuiteID:     s.SuiteID,
			AppURL:      s.AppURL,
			DatabaseURL: s.DatabaseURL,
			TestData:    s.TestData,
		})
	}
	return doc
}

func (r *Run) writeHandoff() error {
	if err := r.writer.Write(r.Document()); err != nil {
		return err
	}
	r.log.Debug("Hand-off file written", logger.Fields("path", r.writer.Path()))
	return nil
}

func (r *Run) suiteChanged(s environment.Suite) error {
	r.log.Info("Suite moved, rewriting hand-off file", logger.Fields(
		logger.FieldSuiteID, s.SuiteID, logger.FieldURL, s.AppURL))
	return r.writeHandoff()
}

// Health returns the health of the suites and the control plane.
func (r *Run) Health(ctx context.Context) []component.Health {
	return r.components.HealthAll(ctx)
}

// ReadyCheck logs components that are not healthy. It never fails setup:
// a degraded suite can still serve database-only tests.
func (r *Run) ReadyCheck(ctx context.Context) bool {
	ok := true
	for _, h := range r.Health(ctx) {
		if h.Status != component.StatusHealthy {
			ok = false
			r.log.Warn("Component not healthy after setup", logger.Fields(
				"component", h.Name, "status", string(h.Status), "message", h.Message))
		}
	}
	return ok
}

// Wait blocks until SIGINT, SIGTERM or ctx cancellation and returns the
// signal, or nil when ctx ended first.
func (r *Run) Wait(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		r.log.Info("Received shutdown signal", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		return nil
	}
}

// Teardown stops the control plane and every suite, closes pools and
// removes the hand-off file. It is best-effort: failures are logged and
// the remaining steps still run. Only the first call has any effect.
func (r *Run) Teardown(ctx context.Context) {
	r.stopOnce.Do(func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(ctx, r.cfg.ShutdownTimeout)
		defer cancel()

		for i, h := range r.onStop {
			if err := h(ctx); err != nil {
				r.log.Warn("OnStop hook failed", logger.MergeWithError(logger.Fields("hook", i), err))
			}
		}
		if err := r.components.StopAll(ctx); err != nil {
			r.log.Warn("Teardown completed with errors", logger.ErrorFields("stop_components", err))
		}
		if r.supervisor != nil {
			r.supervisor.StopAll(ctx)
		}
		if r.pools != nil {
			r.pools.Close()
		}
		if err := r.writer.Remove(); err != nil {
			r.log.Warn("Removing hand-off file failed", logger.ErrorFields("remove_handoff", err))
		}
		if r.telemetry != nil {
			if err := r.telemetry(ctx); err != nil {
				r.log.Warn("Flushing telemetry failed", logger.ErrorFields("telemetry", err))
			}
		}
		r.log.Info("Run torn down", logger.DurationFields("teardown", time.Since(start)))
	})
}

// noApps backs runs where every suite is database-only.
type noApps struct{}

func (noApps) Start(context.Context, process.StartRequest) (*process.Instance, error) {
	return nil, errors.New(errors.ErrCodeInvalidAction, "no application configured", http.StatusBadRequest)
}

func (noApps) Stop(context.Context, string) error { return nil }
