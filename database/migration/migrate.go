// Package migration applies file-based migrations to suite databases with
// golang-migrate.
//
// Migration files follow the golang-migrate naming pattern
// (VERSION_name.up.sql / VERSION_name.down.sql) and are read from any fs.FS,
// so both embedded and on-disk directories work:
//
//	//go:embed migrations/*.sql
//	var migrationsFS embed.FS
//
//	runner := migration.NewRunner(migration.NewTracker(), log)
//	res, err := runner.Up(ctx, suite.DatabaseURL, migration.Source{FS: migrationsFS, Path: "migrations"})
//
// The Tracker remembers which database URLs have been migrated in this
// process, so suites sharing a URL are migrated once.
package migration

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/database"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
)

// Source locates migration files inside a file system.
type Source struct {
	FS   fs.FS
	Path string
}

// Dir returns a Source for an on-disk directory.
func Dir(path string) Source {
	return Source{FS: os.DirFS(path), Path: "."}
}

// Result describes the outcome of Up.
type Result struct {
	Version uint
	// Applied is false when the database was already at the latest version.
	Applied bool
	// Skipped is true when the tracker had already seen the URL.
	Skipped bool
}

// Runner applies migrations to databases identified by URL.
type Runner struct {
	tracker *Tracker
	log     *logger.Logger
}

// NewRunner creates a Runner. A nil tracker disables skip tracking.
func NewRunner(tracker *Tracker, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Get(logger.ComponentMigration)
	}
	return &Runner{tracker: tracker, log: log}
}

// Up applies all pending migrations. migrate.ErrNoChange is not an error.
func (r *Runner) Up(ctx context.Context, databaseURL string, src Source) (Result, error) {
	if r.tracker != nil {
		if v, ok := r.tracker.Done(databaseURL); ok {
			return Result{Version: v, Skipped: true}, nil
		}
		v, err, _ := r.tracker.flight.Do(databaseURL, func() (interface{}, error) {
			if v, ok := r.tracker.Done(databaseURL); ok {
				return Result{Version: v, Skipped: true}, nil
			}
			res, err := r.up(ctx, databaseURL, src)
			if err == nil {
				r.tracker.Mark(databaseURL, res.Version)
			}
			return res, err
		})
		if err != nil {
			return Result{}, err
		}
		return v.(Result), nil
	}
	return r.up(ctx, databaseURL, src)
}

func (r *Runner) up(ctx context.Context, databaseURL string, src Source) (Result, error) {
	log := r.log.WithFields(logger.Fields("database", connpool.Redact(databaseURL)))
	start := time.Now()

	var res Result
	err := r.with(ctx, databaseURL, src, func(m *migrate.Migrate) error {
		err := m.Up()
		switch {
		case stderrors.Is(err, migrate.ErrNoChange):
		case err != nil:
			return fmt.Errorf("migrate up: %w", err)
		default:
			res.Applied = true
		}
		v, _, verr := m.Version()
		if verr != nil && !stderrors.Is(verr, migrate.ErrNilVersion) {
			return fmt.Errorf("read version: %w", verr)
		}
		res.Version = v
		return nil
	})
	if err != nil {
		log.Error("Migration failed", logger.ErrorFields("migrate_up", err))
		return Result{}, err
	}

	log.Info("Migrations applied", logger.MergeWithDuration(
		logger.Fields("version", res.Version, "changed", res.Applied), time.Since(start)))
	return res, nil
}

// Down rolls back all applied migrations.
func (r *Runner) Down(ctx context.Context, databaseURL string, src Source) error {
	err := r.with(ctx, databaseURL, src, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
	if err == nil && r.tracker != nil {
		r.tracker.Forget(databaseURL)
	}
	return err
}

// Steps runs n migrations: positive applies, negative rolls back.
func (r *Runner) Steps(ctx context.Context, databaseURL string, src Source, n int) error {
	err := r.with(ctx, databaseURL, src, func(m *migrate.Migrate) error {
		if err := m.Steps(n); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate steps: %w", err)
		}
		return nil
	})
	if err == nil && r.tracker != nil {
		r.tracker.Forget(databaseURL)
	}
	return err
}

// Version returns the current migration version and dirty flag.
func (r *Runner) Version(ctx context.Context, databaseURL string, src Source) (version uint, dirty bool, err error) {
	err = r.with(ctx, databaseURL, src, func(m *migrate.Migrate) error {
		version, dirty, err = m.Version()
		if stderrors.Is(err, migrate.ErrNilVersion) {
			err = nil
		}
		return err
	})
	return version, dirty, err
}

// with opens a migrator, runs fn and closes it. Cancelling ctx asks
// golang-migrate to stop after the migration in progress.
func (r *Runner) with(ctx context.Context, databaseURL string, src Source, fn func(*migrate.Migrate) error) error {
	drv, err := openSource(src)
	if err != nil {
		return err
	}
	target, err := driverURL(databaseURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", drv, target)
	if err != nil {
		_ = drv.Close()
		return database.FromDatabase(fmt.Errorf("open migrator: %w", err))
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			r.log.Debug("Closing migrator failed", logger.Fields("source_error", fmt.Sprint(srcErr), "database_error", fmt.Sprint(dbErr)))
		}
	}()
	m.Log = migrateLogger{log: r.log}

	done := make(chan error, 1)
	go func() { done <- fn(m) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		m.GracefulStop <- true
		<-done
		return errors.Timeout("migrate").WithCause(ctx.Err())
	}
}

func openSource(src Source) (source.Driver, error) {
	if src.FS == nil {
		return nil, errors.InvalidInput("migrations", "no migration source configured")
	}
	path := src.Path
	if path == "" {
		path = "."
	}
	drv, err := iofs.New(src.FS, path)
	if err != nil {
		return nil, errors.InvalidInput("migrations", err.Error())
	}
	return drv, nil
}

// driverURL rewrites a postgres URL to the scheme registered by the pgx/v5
// migrate driver.
func driverURL(databaseURL string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://", "pgx5://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix), nil
		}
	}
	return "", errors.InvalidInput("database_url", "expected a postgres:// URL")
}

type migrateLogger struct {
	log *logger.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }
