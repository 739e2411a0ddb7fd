package snapshot

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/observability"
	"github.com/kbukum/e2ekit/resilience"
)

// SuiteLookup maps a suite id to its current database URL.
type SuiteLookup interface {
	DatabaseURL(suiteID string) (string, error)
}

// StaticSuites is a fixed suite id to database URL table.
type StaticSuites map[string]string

// DatabaseURL implements SuiteLookup.
func (s StaticSuites) DatabaseURL(suiteID string) (string, error) {
	if u, ok := s[suiteID]; ok {
		return u, nil
	}
	return "", errors.SuiteNotFound(suiteID)
}

// PoolSource hands out the pool for a database URL. *connpool.Registry
// implements it.
type PoolSource interface {
	Get(ctx context.Context, databaseURL string) (*pgxpool.Pool, error)
}

// Engine dumps and restores the row state of suite databases to and from
// named snapshot files.
type Engine struct {
	cfg      Config
	excluded map[string]bool
	store    *FileStore
	suites   SuiteLookup
	pools    PoolSource
	log      *logger.Logger
	metrics  *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics instruments. Nil disables recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, suites SuiteLookup, pools PoolSource, opts ...Option) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		excluded: cfg.excluded(),
		store:    NewFileStore(cfg.Dir),
		suites:   suites,
		pools:    pools,
		log:      logger.Get(logger.ComponentSnapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store returns the engine's file store.
func (e *Engine) Store() *FileStore { return e.store }

// Excluded reports whether table is never captured or truncated.
func (e *Engine) Excluded(table string) bool {
	return e.excluded[strings.ToLower(table)]
}

func (e *Engine) pool(ctx context.Context, suiteID string) (*pgxpool.Pool, error) {
	url, err := e.suites.DatabaseURL(suiteID)
	if err != nil {
		return nil, err
	}
	return e.pools.Get(ctx, url)
}

// CreateSnapshot captures every non-excluded table of the suite's schema
// into <dir>/<suite>/<name>.json. Rows are read in one REPEATABLE READ
// transaction so the snapshot is consistent across tables.
func (e *Engine) CreateSnapshot(ctx context.Context, suiteID, name string) (err error) {
	if err := checkNames(suiteID, name); err != nil {
		return err
	}
	ctx, op := observability.StartOperation(ctx, observability.SpanSnapshotCreate,
		logger.ComponentSnapshot, "create", suiteID, e.metrics)
	defer func() { err = op.End(ctx, err) }()

	pool, err := e.pool(ctx, suiteID)
	if err != nil {
		return err
	}

	var file File
	err = pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly},
		func(tx pgx.Tx) error {
			tables, err := listTables(ctx, tx, e.cfg.Schema, e.excluded)
			if err != nil {
				return err
			}
			file = make(File, 0, len(tables))
			for _, table := range tables {
				t, err := dumpTable(ctx, tx, e.cfg.Schema, table)
				if err != nil {
					return err
				}
				file = append(file, t)
			}
			return nil
		})
	if err != nil {
		return errors.DatabaseError(fmt.Errorf("create snapshot %q for suite %q: %w", name, suiteID, err))
	}

	path, err := e.store.Write(suiteID, name, file)
	if err != nil {
		return err
	}

	rows := file.RowCount()
	op.SetAttributes(attribute.String(observability.AttrSnapshot, name),
		attribute.Int(observability.AttrTables, len(file)), attribute.Int(observability.AttrRows, rows))
	e.metrics.RecordRows(ctx, "create", suiteID, int64(rows))
	e.log.WithSuite(suiteID).Info("snapshot created", logger.MergeWithDuration(logger.Fields(
		logger.FieldSnapshot, name, "tables", len(file), logger.FieldRows, rows, "path", path,
	), op.Duration()))
	return nil
}

// RestoreSnapshot replaces the contents of the snapshot's tables with its
// rows. Everything runs in one SERIALIZABLE transaction with triggers
// suppressed for the session; on any failure the transaction is rolled back
// and the database is left as it was. Only tables present in the file are
// truncated.
func (e *Engine) RestoreSnapshot(ctx context.Context, suiteID, name string) (err error) {
	file, err := e.store.Read(suiteID, name)
	if err != nil {
		return err
	}

	ctx, op := observability.StartOperation(ctx, observability.SpanSnapshotRestore,
		logger.ComponentSnapshot, "restore", suiteID, e.metrics)
	defer func() { err = op.End(ctx, err) }()
	op.SetAttributes(attribute.String(observability.AttrSnapshot, name),
		attribute.Int(observability.AttrTables, len(file)))

	pool, err := e.pool(ctx, suiteID)
	if err != nil {
		return err
	}

	rctx := ctx
	if e.cfg.StatementTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.cfg.StatementTimeout)
		defer cancel()
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = e.cfg.RestoreAttempts
	retry.InitialBackoff = 50 * time.Millisecond
	retry.RetryIf = isSerializationFailure
	retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		e.log.WithSuite(suiteID).Debug("restore lost a serialization race, retrying",
			logger.Fields(logger.FieldSnapshot, name, "attempt", attempt))
	}
	err = resilience.RetryFunc(rctx, retry, func() error {
		return e.restore(rctx, pool, file)
	})
	if err != nil {
		return errors.RestoreFailed(suiteID, name, err)
	}

	rows := file.RowCount()
	e.metrics.RecordRows(ctx, "restore", suiteID, int64(rows))
	e.log.WithSuite(suiteID).Debug("snapshot restored", logger.MergeWithDuration(logger.Fields(
		logger.FieldSnapshot, name, "tables", len(file), logger.FieldRows, rows,
	), op.Duration()))
	return nil
}

func (e *Engine) restore(ctx context.Context, pool *pgxpool.Pool, file File) (err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !stderrors.Is(rbErr, pgx.ErrTxClosed) {
				err = stderrors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, "SET session_replication_role = replica"); err != nil {
		return fmt.Errorf("disable triggers: %w", err)
	}

	tables := file.TableNames()
	if len(tables) > 0 {
		if _, err = tx.Exec(ctx, truncateSQL(e.cfg.Schema, tables)); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	for _, t := range file {
		if err = e.insertRows(ctx, tx, t); err != nil {
			return err
		}
		if err = resyncSequences(ctx, tx, e.cfg.Schema, t.TableName); err != nil {
			return err
		}
	}

	if _, err = tx.Exec(ctx, "SET session_replication_role = DEFAULT"); err != nil {
		return fmt.Errorf("enable triggers: %w", err)
	}
	return tx.Commit(ctx)
}

func (e *Engine) insertRows(ctx context.Context, tx pgx.Tx, t Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	arrays, err := arrayColumns(ctx, tx, e.cfg.Schema, t.TableName)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, row := range t.Rows {
		sql, args, err := insertSQL(e.cfg.Schema, t.TableName, row, arrays)
		if err != nil {
			return fmt.Errorf("insert into %s row %d: %w", t.TableName, i, err)
		}
		batch.Queue(sql, args...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert into %s: %w", t.TableName, err)
	}
	return nil
}

// isSerializationFailure matches SQLSTATE 40001 and 40P01, which mean
// another transaction won and the restore can simply be run again.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Exists reports whether a snapshot file is present for the suite.
func (e *Engine) Exists(suiteID, name string) bool {
	return e.store.Exists(suiteID, name)
}

// List returns the names of the suite's snapshots.
func (e *Engine) List(suiteID string) ([]string, error) {
	return e.store.List(suiteID)
}

// Delete removes a snapshot file.
func (e *Engine) Delete(suiteID, name string) error {
	return e.store.Delete(suiteID, name)
}

