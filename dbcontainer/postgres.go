package dbcontainer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/observability"
)

// Postgres starts one Postgres container per suite with testcontainers.
type Postgres struct {
	cfg   Config
	runID string
	log   *logger.Logger
}

// NewPostgres creates a container provider.
func NewPostgres(cfg Config, runID string, log *logger.Logger) *Postgres {
	return &Postgres{cfg: cfg, runID: runID, log: log}
}

func (p *Postgres) labels(suiteID string) map[string]string {
	labels := map[string]string{
		LabelManaged: "true",
		LabelRun:     p.runID,
		LabelSuite:   suiteID,
	}
	for k, v := range p.cfg.Labels {
		labels[k] = v
	}
	return labels
}

// Start runs a container for suiteID and waits until it accepts connections.
func (p *Postgres) Start(ctx context.Context, suiteID string) (_ Instance, err error) {
	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp,
		logger.ComponentContainer, "start", suiteID, nil)
	defer func() { err = op.End(ctx, err) }()

	startCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()

	c, err := tcpostgres.Run(startCtx, p.cfg.Image,
		tcpostgres.WithDatabase(p.cfg.Database),
		tcpostgres.WithUsername(p.cfg.Username),
		tcpostgres.WithPassword(p.cfg.Password),
		tcpostgres.BasicWaitStrategies(),
		testcontainers.WithLabels(p.labels(suiteID)),
	)
	if err != nil {
		if c != nil {
			_ = c.Terminate(context.WithoutCancel(ctx))
		}
		return nil, errors.ExternalServiceError("docker", fmt.Errorf("start postgres for suite %s: %w", suiteID, err))
	}

	inst := &postgresInstance{
		c:       c,
		suiteID: suiteID,
		db:      p.cfg.Database,
		user:    p.cfg.Username,
		log:     p.log.WithSuite(suiteID),
	}
	url, err := inst.ConnectionString(ctx)
	if err != nil {
		_ = c.Terminate(context.WithoutCancel(ctx))
		return nil, err
	}
	inst.log.Info("database container ready", logger.Fields(
		logger.FieldContainerID, shortID(c.GetContainerID()),
		logger.FieldURL, connpool.Redact(url),
	))
	return inst, nil
}

type postgresInstance struct {
	c       *tcpostgres.PostgresContainer
	suiteID string
	db      string
	user    string
	log     *logger.Logger

	// testcontainers snapshot/restore are not safe to interleave.
	mu sync.Mutex
}

func (i *postgresInstance) ID() string { return i.c.GetContainerID() }

func (i *postgresInstance) ConnectionString(ctx context.Context) (string, error) {
	url, err := i.c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", errors.ExternalServiceError("docker", fmt.Errorf("connection string: %w", err))
	}
	return url, nil
}

func (i *postgresInstance) Snapshot(ctx context.Context, name string) (err error) {
	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp,
		logger.ComponentContainer, "snapshot", i.suiteID, nil)
	defer func() { err = op.End(ctx, err) }()

	i.mu.Lock()
	defer i.mu.Unlock()
	// CREATE DATABASE ... TEMPLATE fails while worker pools hold sessions.
	if err := i.terminateBackends(ctx); err != nil {
		return errors.ExternalServiceError("docker", fmt.Errorf("snapshot %s: %w", name, err))
	}
	if err := i.c.Snapshot(ctx, tcpostgres.WithSnapshotName(checkpointName("cp_", name))); err != nil {
		return errors.ExternalServiceError("docker", fmt.Errorf("snapshot %s: %w", name, err))
	}
	i.log.Info("container checkpoint created", logger.Fields(logger.FieldSnapshot, name))
	return nil
}

// terminateBackends runs terminateBackendsSQL through psql inside the
// container, connected to the maintenance database.
func (i *postgresInstance) terminateBackends(ctx context.Context) error {
	sql := strings.Replace(terminateBackendsSQL, "$1", quoteLiteral(i.db), 1)
	code, out, err := i.c.Exec(ctx, []string{
		"psql", "-v", "ON_ERROR_STOP=1", "-U", i.user, "-d", "postgres", "-c", sql,
	})
	if err != nil {
		return fmt.Errorf("terminate backends: %w", err)
	}
	if code != 0 {
		msg, _ := io.ReadAll(out)
		return fmt.Errorf("terminate backends: psql exited %d: %s", code, strings.TrimSpace(string(msg)))
	}
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (i *postgresInstance) Restore(ctx context.Context, name string) (_ string, err error) {
	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp,
		logger.ComponentContainer, "restore", i.suiteID, nil)
	defer func() { err = op.End(ctx, err) }()

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.c.Restore(ctx, tcpostgres.WithSnapshotName(checkpointName("cp_", name))); err != nil {
		return "", errors.RestoreFailed(i.suiteID, name, err)
	}
	i.log.Info("container checkpoint restored", logger.Fields(logger.FieldSnapshot, name))
	return i.ConnectionString(ctx)
}

func (i *postgresInstance) Terminate(ctx context.Context) error {
	if err := i.c.Terminate(ctx); err != nil {
		return errors.ExternalServiceError("docker", fmt.Errorf("terminate %s: %w", shortID(i.ID()), err))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
