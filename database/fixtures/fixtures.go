// Package fixtures loads seed data into a suite database.
//
// Seed callbacks receive a Loader bound to the suite's GORM client. Rows are
// plain maps, so fixtures do not depend on application models:
//
//	set := fixtures.NewSet().
//	    Add("organization", map[string]any{"id": 1, "name": "Acme"}).
//	    Add("participant", map[string]any{"id": 1, "organization_id": 1, "name": "Ada"})
//	if err := seed.Fixtures.Load(ctx, set); err != nil {
//	    return nil, err
//	}
package fixtures

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"

	"github.com/kbukum/e2ekit/database"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
)

// Rows is a list of table rows keyed by column name.
type Rows []map[string]interface{}

type entry struct {
	table string
	rows  Rows
}

// Set is an ordered collection of table rows. Tables are inserted in the
// order they were added, so parents go before children.
type Set struct {
	entries []entry
}

// NewSet creates an empty Set.
func NewSet() *Set { return &Set{} }

// Add appends rows for table.
func (s *Set) Add(table string, rows ...map[string]interface{}) *Set {
	s.entries = append(s.entries, entry{table: table, rows: rows})
	return s
}

// Tables returns the tables in insertion order, without duplicates.
func (s *Set) Tables() []string {
	seen := make(map[string]bool, len(s.entries))
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if !seen[e.table] {
			seen[e.table] = true
			out = append(out, e.table)
		}
	}
	return out
}

// Len returns the total number of rows.
func (s *Set) Len() int {
	n := 0
	for _, e := range s.entries {
		n += len(e.rows)
	}
	return n
}

// Loader writes fixtures through a GORM connection.
type Loader struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewLoader creates a Loader.
func NewLoader(db *gorm.DB, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Get(logger.ComponentDatabase)
	}
	return &Loader{db: db, log: log}
}

// Insert inserts rows into table.
func (l *Loader) Insert(ctx context.Context, table string, rows ...map[string]interface{}) error {
	return insert(l.db.WithContext(ctx), table, rows)
}

func insert(tx *gorm.DB, table string, rows Rows) error {
	for _, row := range rows {
		if err := tx.Table(table).Create(row).Error; err != nil {
			return fmt.Errorf("insert fixture row into %s: %w", table, database.FromDatabase(err))
		}
	}
	return nil
}

// Load inserts every row of set in a single transaction.
func (l *Loader) Load(ctx context.Context, set *Set) error {
	if set == nil || set.Len() == 0 {
		return nil
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range set.entries {
			if err := insert(tx, e.table, e.rows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Debug("Fixtures loaded", logger.Fields("tables", len(set.Tables()), "rows", set.Len()))
	return nil
}

// ExecFile runs the SQL statements in path. Files may contain several
// statements separated by semicolons.
func (l *Loader) ExecFile(ctx context.Context, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return errors.InvalidInput("seed_file", err.Error())
	}
	if err := l.db.WithContext(ctx).Exec(string(sql)).Error; err != nil {
		return fmt.Errorf("seed file %s: %w", filepath.Base(path), database.FromDatabase(err))
	}
	l.log.Debug("Seed file applied", logger.Fields("file", path))
	return nil
}

// ExecFiles runs ExecFile for each path in order, stopping at the first error.
func (l *Loader) ExecFiles(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if err := l.ExecFile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of rows in table.
func (l *Loader) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM " + quote(table)).Scan(&count).Error
	if err != nil {
		return 0, database.FromDatabase(err)
	}
	return count, nil
}

// Tables lists the base tables of schema.
func (l *Loader) Tables(ctx context.Context, schema string) ([]string, error) {
	var tables []string
	err := l.db.WithContext(ctx).Raw(
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`, schema).
		Scan(&tables).Error
	if err != nil {
		return nil, database.FromDatabase(err)
	}
	return tables, nil
}

// TruncateAll empties every table in schema except those in keep.
func (l *Loader) TruncateAll(ctx context.Context, schema string, keep ...string) error {
	tables, err := l.Tables(ctx, schema)
	if err != nil {
		return err
	}
	sql := truncateSQL(schema, tables, keep)
	if sql == "" {
		return nil
	}
	if err := l.db.WithContext(ctx).Exec(sql).Error; err != nil {
		return database.FromDatabase(err)
	}
	return nil
}

func truncateSQL(schema string, tables, keep []string) string {
	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[k] = true
	}
	var list string
	for _, t := range tables {
		if skip[t] {
			continue
		}
		if list != "" {
			list += ", "
		}
		list += pgx.Identifier{schema, t}.Sanitize()
	}
	if list == "" {
		return ""
	}
	return "TRUNCATE TABLE " + list + " RESTART IDENTITY CASCADE"
}

func quote(table string) string {
	return pgx.Identifier{table}.Sanitize()
}

// MustLoad loads set and fails the test on error.
func MustLoad(tb testing.TB, l *Loader, set *Set) {
	tb.Helper()
	if err := l.Load(context.Background(), set); err != nil {
		tb.Fatalf("load fixtures: %v", err)
	}
}

// AssertRowCount fails the test if table doesn't have the expected row count.
func AssertRowCount(tb testing.TB, l *Loader, table string, expected int64) {
	tb.Helper()
	count, err := l.Count(context.Background(), table)
	if err != nil {
		tb.Fatalf("count rows in %s: %v", table, err)
	}
	if count != expected {
		tb.Errorf("table %s row count = %d, want %d", table, count, expected)
	}
}
