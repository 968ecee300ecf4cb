// Package dbxtest records the statements a repository sends through a
// dbx.Querier so tests can check SQL and bind arguments without Postgres.
package dbxtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Call struct {
	Method string
	SQL    string
	Args   []any
}

// Recorder answers Exec with Tag, QueryRow with Row and Query with Rows.
// A nil Row scans as pgx.ErrNoRows.
type Recorder struct {
	mu    sync.Mutex
	Calls []Call

	Tag  pgconn.CommandTag
	Err  error
	Row  []any
	Rows [][]any
}

func (r *Recorder) record(method, sql string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, Call{Method: method, SQL: sql, Args: args})
}

func (r *Recorder) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.record("Exec", sql, args)
	return r.Tag, r.Err
}

func (r *Recorder) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	r.record("Query", sql, args)
	if r.Err != nil {
		return nil, r.Err
	}
	return &rows{data: r.Rows, pos: -1}, nil
}

func (r *Recorder) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	r.record("QueryRow", sql, args)
	if r.Err != nil {
		return row{err: r.Err}
	}
	if r.Row == nil {
		return row{err: pgx.ErrNoRows}
	}
	return row{values: r.Row}
}

// Last panics when nothing was recorded.
func (r *Recorder) Last() Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Calls) == 0 {
		panic("dbxtest: no calls recorded")
	}
	return r.Calls[len(r.Calls)-1]
}

// Compact collapses whitespace so assertions can match SQL fragments.
func Compact(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

type row struct {
	values []any
	err    error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type rows struct {
	data [][]any
	pos  int
}

func (r *rows) Close()                                       {}
func (r *rows) Err() error                                   { return nil }
func (r *rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rows) RawValues() [][]byte                          { return nil }
func (r *rows) Conn() *pgx.Conn                              { return nil }
func (r *rows) Values() ([]any, error)                       { return r.data[r.pos], nil }
func (r *rows) Scan(dest ...any) error                       { return assign(r.data[r.pos], dest) }

func (r *rows) Next() bool {
	r.pos++
	return r.pos < len(r.data)
}

func assign(values, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("dbxtest: %d values for %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		val := reflect.ValueOf(v)
		if !val.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("dbxtest: column %d: cannot assign %s to %s", i, val.Type(), target.Type())
		}
		target.Set(val)
	}
	return nil
}
