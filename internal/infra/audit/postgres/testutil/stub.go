// Package testutil fakes just enough of a Postgres connection for the audit
// sink: DDL is recorded, inserts into excel_audit are kept in memory with a
// serial seq column, and the sink's SELECT is answered with equality filters,
// its ORDER BY terms, and a limit.
package testutil

import (
	"cmp"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Faults injects failures into the fake connection. Zero means no failure.
type Faults struct {
	Ping   bool
	DDL    bool
	Begin  bool
	Commit bool
	// InsertN fails the Nth insert (1-based) seen by the connection.
	InsertN int
}

// AuditConn is the shared connection behind a fake *sql.DB.
type AuditConn struct {
	Faults Faults

	mu         sync.Mutex
	statements []string
	rows       []row
	staged     []row
	tx         bool
	inserts    int
	serial     int64
	closed     bool
}

type row struct {
	cols map[string]driver.Value
}

// NewAuditDB returns a *sql.DB whose only connection is conn.
func NewAuditDB() (*sql.DB, *AuditConn) {
	conn := &AuditConn{}
	db := sql.OpenDB(connector{conn: conn})
	db.SetMaxOpenConns(1)
	return db, conn
}

// Statements lists every non-query statement executed so far.
func (c *AuditConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.statements)
}

// Closed reports whether the *sql.DB built by NewAuditDB was closed.
func (c *AuditConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Committed reports how many rows are visible outside a transaction.
func (c *AuditConn) Committed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

type connector struct{ conn *AuditConn }

func (k connector) Connect(context.Context) (driver.Conn, error) { return k.conn, nil }
func (k connector) Driver() driver.Driver                       { return fakeDriver{k.conn} }

// Close is called by sql.DB.Close.
func (k connector) Close() error {
	k.conn.mu.Lock()
	defer k.conn.mu.Unlock()
	k.conn.closed = true
	return nil
}

type fakeDriver struct{ conn *AuditConn }

func (d fakeDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *AuditConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("fake postgres: prepared statements unsupported")
}

func (c *AuditConn) Close() error { return nil }

func (c *AuditConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *AuditConn) Ping(context.Context) error {
	if c.Faults.Ping {
		return errors.New("fake postgres: connection refused")
	}
	return nil
}

func (c *AuditConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.Faults.Begin {
		return nil, errors.New("fake postgres: begin refused")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tx, c.staged = true, nil
	return fakeTx{c}, nil
}

func (c *AuditConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statements = append(c.statements, query)
	head := strings.ToUpper(strings.Fields(query)[0])
	if head != "INSERT" {
		if c.Faults.DDL {
			return nil, errors.New("fake postgres: permission denied")
		}
		return driver.RowsAffected(0), nil
	}
	c.inserts++
	if c.inserts == c.Faults.InsertN {
		return nil, errors.New("fake postgres: insert " + strconv.Itoa(c.inserts) + " rejected")
	}
	cols, err := insertColumns(query)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, errors.New("fake postgres: column count does not match arguments")
	}
	c.serial++
	r := row{cols: map[string]driver.Value{"seq": c.serial}}
	for i, col := range cols {
		r.cols[col] = args[i].Value
	}
	if c.tx {
		c.staged = append(c.staged, r)
	} else {
		c.rows = append(c.rows, r)
	}
	return driver.RowsAffected(1), nil
}

// QueryContext answers "SELECT cols FROM t [WHERE a = $1 AND ...]
// [ORDER BY a [DESC], ...] [LIMIT $n]".
func (c *AuditConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	arg := func(ref string) driver.Value {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(ref), "$"))
		if err != nil || n < 1 || n > len(args) {
			return nil
		}
		return args[n-1].Value
	}
	body, ok := strings.CutPrefix(query, "SELECT ")
	if !ok {
		return nil, errors.New("fake postgres: unsupported query")
	}
	selected, rest, ok := strings.Cut(body, " FROM ")
	if !ok {
		return nil, errors.New("fake postgres: unsupported query")
	}
	rest, limitRef, hasLimit := strings.Cut(rest, " LIMIT ")
	rest, orderBy, _ := strings.Cut(rest, " ORDER BY ")
	filters := map[string]driver.Value{}
	if _, where, found := strings.Cut(rest, " WHERE "); found {
		for _, cond := range strings.Split(where, " AND ") {
			col, ref, _ := strings.Cut(cond, "=")
			filters[strings.TrimSpace(col)] = arg(ref)
		}
	}

	var matched []row
	for _, r := range c.rows {
		keep := true
		for col, want := range filters {
			if r.cols[col] != want {
				keep = false
				break
			}
		}
		if keep {
			matched = append(matched, r)
		}
	}
	if orderBy != "" {
		terms := strings.Split(orderBy, ",")
		slices.SortStableFunc(matched, func(a, b row) int {
			for _, term := range terms {
				fields := strings.Fields(term)
				n := compareValues(a.cols[fields[0]], b.cols[fields[0]])
				if len(fields) > 1 && strings.EqualFold(fields[1], "DESC") {
					n = -n
				}
				if n != 0 {
					return n
				}
			}
			return 0
		})
	}
	if hasLimit {
		if n, ok := arg(limitRef).(int64); ok && int(n) < len(matched) {
			matched = matched[:n]
		}
	}
	return &fakeRows{cols: splitList(selected), rows: matched}, nil
}

type fakeTx struct{ conn *AuditConn }

func (t fakeTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	staged := t.conn.staged
	t.conn.tx, t.conn.staged = false, nil
	if t.conn.Faults.Commit {
		return errors.New("fake postgres: commit refused")
	}
	t.conn.rows = append(t.conn.rows, staged...)
	return nil
}

func (t fakeTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.tx, t.conn.staged = false, nil
	return nil
}

type fakeRows struct {
	cols []string
	rows []row
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	for i, col := range r.cols {
		dest[i] = r.rows[0].cols[col]
	}
	r.rows = r.rows[1:]
	return nil
}

func compareValues(a, b driver.Value) int {
	switch x := a.(type) {
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case int64:
		y, _ := b.(int64)
		return cmp.Compare(x, y)
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	}
	return 0
}

// insertColumns extracts the column list of "INSERT INTO t (a, b) VALUES ...".
func insertColumns(query string) ([]string, error) {
	_, rest, ok := strings.Cut(query, "(")
	if !ok {
		return nil, errors.New("fake postgres: malformed insert")
	}
	list, _, ok := strings.Cut(rest, ")")
	if !ok {
		return nil, errors.New("fake postgres: malformed insert")
	}
	return splitList(list), nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
