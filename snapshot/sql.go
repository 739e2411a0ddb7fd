package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is the read side of a pool, connection or transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

// listTables returns the base tables in schema minus the excluded set.
func listTables(ctx context.Context, q Querier, schema string, excluded map[string]bool) ([]string, error) {
	rows, err := q.Query(ctx, listTablesSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if !excluded[strings.ToLower(n)] {
			out = append(out, n)
		}
	}
	return out, nil
}

func qualified(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// dumpTable reads every row of table as a JSON object. Numbers are kept as
// json.Number so bigint and numeric values survive the round trip.
func dumpTable(ctx context.Context, q Querier, schema, table string) (Table, error) {
	sql := fmt.Sprintf("SELECT row_to_json(t)::text FROM (SELECT * FROM %s) t", qualified(schema, table))
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return Table{}, fmt.Errorf("dump %s: %w", table, err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Table{}, fmt.Errorf("dump %s: %w", table, err)
	}

	t := Table{TableName: table, Rows: make([]map[string]any, 0, len(raw))}
	for _, r := range raw {
		dec := json.NewDecoder(strings.NewReader(r))
		dec.UseNumber()
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return Table{}, fmt.Errorf("decode row of %s: %w", table, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func truncateSQL(schema string, tables []string) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = qualified(schema, t)
	}
	return "TRUNCATE TABLE " + strings.Join(names, ", ") + " CASCADE"
}

const arrayColumnsSQL = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND data_type = 'ARRAY'`

// arrayColumns returns the columns of table declared with an array type.
func arrayColumns(ctx context.Context, q Querier, schema, table string) (map[string]bool, error) {
	rows, err := q.Query(ctx, arrayColumnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("array columns of %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("array columns of %s: %w", table, err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// insertSQL builds a parameterized INSERT for row with columns in sorted
// order, returning the statement and its arguments. Values of the columns
// in arrays are sent as Postgres array literals.
func insertSQL(schema, table string, row map[string]any, arrays map[string]bool) (string, []any, error) {
	if len(row) == 0 {
		return "INSERT INTO " + qualified(schema, table) + " DEFAULT VALUES", nil, nil
	}

	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		var (
			v   any
			err error
		)
		if arrays[c] {
			v, err = encodeArray(row[c])
		} else {
			v, err = encodeValue(row[c])
		}
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", c, err)
		}
		quoted[i] = pgx.Identifier{c}.Sanitize()
		params[i] = "$" + strconv.Itoa(i+1)
		args[i] = v
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified(schema, table), strings.Join(quoted, ", "), strings.Join(params, ", "))
	return sql, args, nil
}

// encodeValue converts a decoded JSON value into a query argument. Objects
// and arrays are re-encoded as JSON text for json and jsonb columns; the
// driver does not do this for maps and slices. Numbers go over as their literal text so the server
// parses them with the column's own type.
func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// encodeArray converts the JSON form row_to_json gives an array column
// back into an array literal such as {"a","b"} or {{1,2},{3,4}}.
func encodeArray(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		var b strings.Builder
		if err := writeArrayLiteral(&b, x); err != nil {
			return nil, err
		}
		return b.String(), nil
	default:
		return encodeValue(v)
	}
}

func writeArrayLiteral(b *strings.Builder, elems []any) error {
	b.WriteByte('{')
	for i, e := range elems {
		if i > 0 {
			b.WriteByte(',')
		}
		switch x := e.(type) {
		case nil:
			b.WriteString("NULL")
		case []any:
			if err := writeArrayLiteral(b, x); err != nil {
				return err
			}
		case bool:
			b.WriteString(strconv.FormatBool(x))
		case json.Number:
			b.WriteString(x.String())
		case float64:
			b.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
		case string:
			writeArrayString(b, x)
		case map[string]any:
			// json[] and jsonb[] elements
			raw, err := json.Marshal(x)
			if err != nil {
				return err
			}
			writeArrayString(b, string(raw))
		default:
			return fmt.Errorf("unsupported array element type %T", e)
		}
	}
	b.WriteByte('}')
	return nil
}

func writeArrayString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
}

const serialColumnsSQL = `
SELECT a.attname, pg_get_serial_sequence($1::text, a.attname)
FROM pg_attribute a
WHERE a.attrelid = $1::text::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
  AND pg_get_serial_sequence($1::text, a.attname) IS NOT NULL`

type serialColumn struct {
	column   string
	sequence string
}

// resyncSequences moves every sequence owned by table past the largest value
// now in its column, so inserts after a restore do not collide.
func resyncSequences(ctx context.Context, tx pgx.Tx, schema, table string) error {
	rel := qualified(schema, table)
	rows, err := tx.Query(ctx, serialColumnsSQL, rel)
	if err != nil {
		return fmt.Errorf("find sequences of %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (serialColumn, error) {
		var c serialColumn
		err := r.Scan(&c.column, &c.sequence)
		return c, err
	})
	if err != nil {
		return fmt.Errorf("find sequences of %s: %w", table, err)
	}

	for _, c := range cols {
		sql := fmt.Sprintf("SELECT setval($1::regclass, COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)",
			pgx.Identifier{c.column}.Sanitize(), rel)
		if _, err := tx.Exec(ctx, sql, c.sequence); err != nil {
			return fmt.Errorf("resync %s: %w", c.sequence, err)
		}
	}
	return nil
}
