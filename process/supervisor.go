package process

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/validation"
)

// StartRequest describes one application instance to launch.
type StartRequest struct {
	SuiteID     string `json:"suiteId" validate:"required,ident"`
	Port        int    `json:"port" validate:"gt=0,lte=65535"`
	DatabaseURL string `json:"databaseUrl" validate:"required"`
	// ContainerBacked selects the longer readiness timeout.
	ContainerBacked bool `json:"containerBacked"`
	// Env holds extra KEY=VALUE pairs for this instance only.
	Env []string `json:"env,omitempty"`
}

// Supervisor spawns, health-checks and stops application instances, at most
// one live instance per suite.
type Supervisor struct {
	cfg     Config
	log     *logger.Logger
	metrics MetricsCollector
	client  *http.Client

	mu        sync.RWMutex
	instances map[string]*Instance
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Instance output is logged through it, tagged
// with the suite id.
func WithLogger(l *logger.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// New creates a Supervisor.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Supervisor{
		cfg:       cfg,
		log:       logger.Get(logger.ComponentSupervisor),
		metrics:   NewNoopMetrics(),
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = &http.Client{
		Timeout: probeTimeout(cfg.PollInterval),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return s, nil
}

func probeTimeout(poll time.Duration) time.Duration {
	t := 4 * poll
	if t > 5*time.Second {
		t = 5 * time.Second
	}
	if t < time.Second {
		t = time.Second
	}
	return t
}

// Build runs the configured one-shot build command, if any.
func (s *Supervisor) Build(ctx context.Context) error {
	if s.cfg.Build == nil {
		return nil
	}
	s.log.Info("building app", logger.Fields("binary", s.cfg.Build.Binary))
	res, err := Run(ctx, *s.cfg.Build, s.log.WithFields(logger.Fields(logger.FieldOperation, "build")))
	if err != nil {
		var stderr string
		if res != nil {
			stderr = string(res.Stderr)
		}
		return errors.New(errors.ErrCodeProcessCrashed, "app build failed", http.StatusInternalServerError).
			WithCause(err).
			WithDetail("stderr", tail(stderr, s.cfg.StderrLines))
	}
	s.log.Info("app built", logger.DurationFields("build", res.Duration))
	return nil
}

func tail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Start launches an instance and blocks until it answers HTTP, crashes, or
// the readiness timeout expires. A crash fails immediately with the exit
// status and the stderr tail. On timeout the process is stopped.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (*Instance, error) {
	if err := validation.Validate(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.instances[req.SuiteID]; ok && !existing.HasExited() {
		s.mu.Unlock()
		return nil, errors.AlreadyExists("app instance for suite " + req.SuiteID)
	}
	inst, err := s.spawn(req)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.instances[req.SuiteID] = inst
	s.mu.Unlock()

	timeout := s.cfg.ReadyTimeout
	if req.ContainerBacked {
		timeout = s.cfg.ContainerReadyTimeout
	}

	start := time.Now()
	err = s.waitReady(ctx, inst, timeout)
	s.metrics.ReadyDuration(req.SuiteID, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Restart stops the suite's instance, if any, and starts a new one.
func (s *Supervisor) Restart(ctx context.Context, req StartRequest) (*Instance, error) {
	if err := s.Stop(ctx, req.SuiteID); err != nil {
		return nil, err
	}
	return s.Start(ctx, req)
}

func (s *Supervisor) spawn(req StartRequest) (*Instance, error) {
	log := s.log.WithSuite(req.SuiteID)
	inst := newInstance(req, instanceURL(s.cfg.Hostname, req.Port), s.cfg.StderrLines)
	inst.onTransition = func(from, to State) {
		s.metrics.StateTransition(req.SuiteID, from, to)
		log.Debug("app state changed", logger.Fields("from", from.String(), "to", to.String()))
	}

	fwd := outputForwarder{log: log, mode: s.cfg.OutputMode}
	stdout := newLineWriter(func(line string) {
		inst.recent.Add(line)
		fwd.forward("stdout", line)
	})
	stderr := newLineWriter(func(line string) {
		inst.stderr.Add(line)
		inst.recent.Add(line)
		fwd.forward("stderr", line)
	})

	c := exec.Command(s.cfg.Command.Binary, s.cfg.Command.Args...) //nolint:gosec // running the configured command is the point
	c.Dir = s.cfg.Command.Dir
	c.Env = buildEnv(&s.cfg, req)
	c.Stdout = stdout
	c.Stderr = stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Bounds how long Wait blocks on output pipes held open by grandchildren.
	c.WaitDelay = s.cfg.GracePeriod

	if err := c.Start(); err != nil {
		return nil, errors.ProcessCrashed(req.SuiteID, "failed to spawn: "+err.Error(), nil).WithCause(err)
	}
	inst.cmd = c

	log.Info("app spawned", logger.Fields(logger.FieldPID, c.Process.Pid, logger.FieldPort, req.Port, logger.FieldURL, inst.URL))

	go s.watch(inst, stdout, stderr)
	return inst, nil
}

// watch waits for the process to exit, records the exit and removes the
// instance from the live registry.
func (s *Supervisor) watch(inst *Instance, stdout, stderr *lineWriter) {
	_ = inst.cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	from, to := inst.markExited(inst.cmd.ProcessState)
	if to == StateCrashed {
		s.log.WithSuite(inst.SuiteID).Error("app exited unexpectedly", logger.Fields(
			"previous_state", from.String(),
			"exit", inst.exitStatus(),
			"stderr_tail", inst.StderrTail(),
		))
	}
	s.remove(inst)
}

func (s *Supervisor) waitReady(ctx context.Context, inst *Instance, timeout time.Duration) error {
	target := inst.URL + s.cfg.ReadyPath
	log := s.log.WithSuite(inst.SuiteID)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if s.probe(ctx, target) {
			if !inst.transition(StateReady) {
				return s.crashError(inst)
			}
			log.Info("app ready", logger.MergeWithDuration(logger.Fields(logger.FieldURL, inst.URL), time.Since(inst.StartedAt)))
			return nil
		}

		select {
		case <-inst.Exited():
			return s.crashError(inst)
		case <-ctx.Done():
			_ = s.stopInstance(context.WithoutCancel(ctx), inst)
			return errors.Timeout("app readiness").WithCause(ctx.Err()).WithDetail(logger.FieldURL, target)
		case <-deadline.C:
			err := timeoutError(inst, target, timeout)
			log.Error("app did not become ready", logger.Fields(logger.FieldURL, target, "timeout", timeout.String()))
			_ = s.stopInstance(context.WithoutCancel(ctx), inst)
			return err
		case <-ticker.C:
		}
	}
}

// probe reports whether target returned any HTTP response. Redirects are not
// followed: a redirect to a login page still means the server is up.
func (s *Supervisor) probe(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (s *Supervisor) crashError(inst *Instance) error {
	<-inst.Exited()
	return errors.ProcessCrashed(inst.SuiteID, inst.exitStatus(), inst.StderrTail()).
		WithDetail(logger.FieldURL, inst.URL).
		WithDetail(logger.FieldPort, inst.Port)
}

func timeoutError(inst *Instance, target string, timeout time.Duration) error {
	alive := !inst.HasExited()
	msg := fmt.Sprintf("app for suite %q did not respond at %s within %s (process running: %t, database: %s)",
		inst.SuiteID, target, timeout, alive, redactURL(inst.DatabaseURL))
	if out := inst.RecentOutput(); len(out) > 0 {
		msg += "\nrecent output:\n" + strings.Join(out, "\n")
	}
	return errors.New(errors.ErrCodeTimeout, msg, http.StatusGatewayTimeout).WithDetails(map[string]any{
		"suite_id": inst.SuiteID,
		"url":      target,
		"alive":    alive,
		"timeout":  timeout.String(),
	})
}

// Stop terminates the suite's instance: SIGTERM to the process group, then
// SIGKILL if it has not exited within the grace period. Stopping a suite with
// no live instance is a no-op.
func (s *Supervisor) Stop(ctx context.Context, suiteID string) error {
	inst := s.Get(suiteID)
	if inst == nil {
		s.log.Debug("stop requested for suite with no live app", logger.Fields(logger.FieldSuiteID, suiteID))
		return nil
	}
	return s.stopInstance(ctx, inst)
}

func (s *Supervisor) stopInstance(ctx context.Context, inst *Instance) error {
	defer s.remove(inst)
	log := s.log.WithSuite(inst.SuiteID)

	if !inst.transition(StateStopping) {
		// Already stopping elsewhere or already exited.
		select {
		case <-inst.Exited():
			return nil
		case <-ctx.Done():
			return errors.Timeout("app shutdown").WithCause(ctx.Err())
		}
	}

	start := time.Now()
	if err := inst.signal(syscall.SIGTERM); err != nil {
		log.Warn("failed to send SIGTERM", logger.Fields(logger.FieldError, err.Error()))
	}

	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()

	forced := false
	select {
	case <-inst.Exited():
	case <-grace.C:
		forced = true
	case <-ctx.Done():
		forced = true
	}

	if forced {
		log.Warn("app did not exit after SIGTERM, sending SIGKILL", logger.Fields(logger.FieldPID, inst.PID()))
		if err := inst.signal(syscall.SIGKILL); err != nil {
			log.Error("failed to send SIGKILL", logger.Fields(logger.FieldError, err.Error()))
		}
		select {
		case <-inst.Exited():
		case <-time.After(s.cfg.GracePeriod):
			return errors.Timeout("app shutdown").WithDetail(logger.FieldSuiteID, inst.SuiteID).WithDetail(logger.FieldPID, inst.PID())
		}
	}

	s.metrics.StopDuration(inst.SuiteID, time.Since(start), forced)
	log.Info("app stopped", logger.MergeWithDuration(logger.Fields("forced", forced), time.Since(start)))
	return nil
}

// remove deletes inst from the live registry exactly once, and only if the
// registry still points at this instance rather than a newer one.
func (s *Supervisor) remove(inst *Instance) {
	inst.removeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.instances[inst.SuiteID]; ok && cur == inst {
			delete(s.instances, inst.SuiteID)
		}
	})
}

// StopAll stops every live instance concurrently. Failures are logged, not returned.
func (s *Supervisor) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range s.Instances() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.stopInstance(ctx, inst); err != nil {
				s.log.WithSuite(inst.SuiteID).Error("failed to stop app", logger.Fields(logger.FieldError, err.Error()))
			}
		}()
	}
	wg.Wait()
}

// Get returns the live instance for a suite, or nil.
func (s *Supervisor) Get(suiteID string) *Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[suiteID]
}

// Instances returns the live instances ordered by suite id.
func (s *Supervisor) Instances() []*Instance {
	s.mu.RLock()
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SuiteID < out[j].SuiteID })
	return out
}

func instanceURL(hostname string, port int) string {
	host := hostname
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// redactURL hides the password in a connection string for diagnostics.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	if user, _, hasPass := strings.Cut(creds, ":"); hasPass {
		creds = user + ":xxxxx"
	}
	return scheme + "://" + creds + "@" + host
}
