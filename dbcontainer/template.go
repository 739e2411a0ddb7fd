package dbcontainer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/observability"
)

// Template gives each suite its own database on an existing Postgres server.
// Checkpoints are template databases: a snapshot is CREATE DATABASE ...
// TEMPLATE <suite db>, a restore drops the suite database and recreates it
// from the checkpoint.
type Template struct {
	cfg   Config
	runID string
	log   *logger.Logger
}

// NewTemplate creates a template-database provider.
func NewTemplate(cfg Config, runID string, log *logger.Logger) *Template {
	return &Template{cfg: cfg, runID: runID, log: log}
}

// Start creates an empty database for suiteID.
func (t *Template) Start(ctx context.Context, suiteID string) (Instance, error) {
	dbName := databaseName(t.runID, suiteID)
	suiteURL, err := withDatabase(t.cfg.AdminURL, dbName)
	if err != nil {
		return nil, err
	}

	inst := &templateInstance{
		adminURL: t.cfg.AdminURL,
		url:      suiteURL,
		db:       dbName,
		suiteID:  suiteID,
		log:      t.log.WithSuite(suiteID),
	}
	err = inst.admin(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize())
		return err
	})
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("create database %s: %w", dbName, err))
	}
	inst.log.Info("suite database created", logger.Fields("database", dbName, logger.FieldURL, connpool.Redact(suiteURL)))
	return inst, nil
}

type templateInstance struct {
	adminURL string
	url      string
	db       string
	suiteID  string
	log      *logger.Logger

	mu          sync.Mutex
	checkpoints []string
}

func (i *templateInstance) ID() string { return i.db }

func (i *templateInstance) ConnectionString(context.Context) (string, error) {
	return i.url, nil
}

func (i *templateInstance) admin(ctx context.Context, fn func(*pgx.Conn) error) error {
	conn, err := pgx.Connect(ctx, i.adminURL)
	if err != nil {
		return errors.ConnectionFailed("postgres").WithCause(err)
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return fn(conn)
}

const terminateBackendsSQL = `
SELECT pg_terminate_backend(pid)
FROM pg_stat_activity
WHERE datname = $1 AND pid <> pg_backend_pid()`

func (i *templateInstance) Snapshot(ctx context.Context, name string) (err error) {
	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp,
		logger.ComponentContainer, "snapshot", i.suiteID, nil)
	defer func() { err = op.End(ctx, err) }()

	i.mu.Lock()
	defer i.mu.Unlock()
	cp := checkpointName(i.db+"_cp_", name)
	err = i.admin(ctx, func(conn *pgx.Conn) error {
		// CREATE DATABASE ... TEMPLATE fails while the source has sessions.
		if _, err := conn.Exec(ctx, terminateBackendsSQL, i.db); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{cp}.Sanitize()); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s",
			pgx.Identifier{cp}.Sanitize(), pgx.Identifier{i.db}.Sanitize()))
		return err
	})
	if err != nil {
		return errors.DatabaseError(fmt.Errorf("checkpoint %s: %w", name, err))
	}
	i.remember(cp)
	i.log.Info("database checkpoint created", logger.Fields(logger.FieldSnapshot, name))
	return nil
}

func (i *templateInstance) Restore(ctx context.Context, name string) (_ string, err error) {
	ctx, op := observability.StartOperation(ctx, observability.SpanContainerOp,
		logger.ComponentContainer, "restore", i.suiteID, nil)
	defer func() { err = op.End(ctx, err) }()

	i.mu.Lock()
	defer i.mu.Unlock()
	cp := checkpointName(i.db+"_cp_", name)
	if !i.has(cp) {
		return "", errors.SnapshotNotFound(i.suiteID, name, "database "+cp)
	}
	err = i.admin(ctx, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, terminateBackendsSQL, i.db); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{i.db}.Sanitize()); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s",
			pgx.Identifier{i.db}.Sanitize(), pgx.Identifier{cp}.Sanitize()))
		return err
	})
	if err != nil {
		return "", errors.RestoreFailed(i.suiteID, name, err)
	}
	i.log.Info("database checkpoint restored", logger.Fields(logger.FieldSnapshot, name))
	return i.url, nil
}

func (i *templateInstance) Terminate(ctx context.Context) error {
	i.mu.Lock()
	dbs := append([]string{i.db}, i.checkpoints...)
	i.mu.Unlock()

	return i.admin(ctx, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, terminateBackendsSQL, i.db); err != nil {
			return errors.DatabaseError(err)
		}
		for _, db := range dbs {
			if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{db}.Sanitize()); err != nil {
				return errors.DatabaseError(fmt.Errorf("drop %s: %w", db, err))
			}
		}
		return nil
	})
}

func (i *templateInstance) remember(cp string) {
	if !i.has(cp) {
		i.checkpoints = append(i.checkpoints, cp)
	}
}

func (i *templateInstance) has(cp string) bool {
	for _, c := range i.checkpoints {
		if c == cp {
			return true
		}
	}
	return false
}

// databaseName returns e2e_<suite>_<first 8 chars of run id>.
func databaseName(runID, suiteID string) string {
	run := strings.ReplaceAll(runID, "-", "")
	if len(run) > 8 {
		run = run[:8]
	}
	return checkpointName("e2e_", suiteID+"_"+run)
}

func withDatabase(rawURL, db string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "", errors.InvalidInput("admin_url", "expected a postgres:// URL")
	}
	u.Path = "/" + db
	return u.String(), nil
}
