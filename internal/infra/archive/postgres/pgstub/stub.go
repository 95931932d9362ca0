// Package pgstub provides an in-memory database/sql driver understanding the
// handful of statements the postgres archive issues.
package pgstub

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Conn records statements and keeps table rows keyed by column name.
type Conn struct {
	mu       sync.Mutex
	Execs    []string
	Tables   map[string][]map[string]any
	FailPing bool
	FailExec bool
	RowsErr  error
}

var seq uint64

// NewDB registers a fresh stub driver and opens a sql.DB on it.
func NewDB() (*sql.DB, *Conn) {
	conn := &Conn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("pgstub%d", atomic.AddUint64(&seq, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *Conn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *Conn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *Conn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *Conn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO"):
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = cloneValue(args[i].Value)
		}
		if strings.Contains(upper, "DO NOTHING") {
			for _, existing := range c.Tables[table] {
				if existing[cols[0]] == row[cols[0]] {
					return driver.RowsAffected(0), nil
				}
			}
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		table, where, err := splitWhere(strings.TrimSpace(query[len("DELETE FROM "):]))
		if err != nil {
			return nil, err
		}
		match, err := predicate(where, args)
		if err != nil {
			return nil, err
		}
		var kept []map[string]any
		var removed int64
		for _, row := range c.Tables[table] {
			if match(row) {
				removed++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(removed), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lower := strings.ToLower(query)
	if !strings.HasPrefix(lower, "select ") {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := splitColumns(query[len("select "):fromIdx])
	rest := strings.TrimSpace(query[fromIdx+len(" from "):])
	var orderBy string
	if idx := strings.Index(strings.ToLower(rest), " order by "); idx != -1 {
		orderBy = strings.ToLower(strings.TrimSpace(rest[idx+len(" order by "):]))
		rest = rest[:idx]
	}
	table, where, err := splitWhere(rest)
	if err != nil {
		return nil, err
	}
	match, err := predicate(where, args)
	if err != nil {
		return nil, err
	}
	var selected []map[string]any
	for _, row := range c.Tables[table] {
		if match(row) {
			selected = append(selected, row)
		}
	}
	if orderBy != "" {
		sort.SliceStable(selected, func(i, j int) bool {
			return fmt.Sprint(selected[i][orderBy]) < fmt.Sprint(selected[j][orderBy])
		})
	}
	values := make([][]driver.Value, 0, len(selected))
	for _, row := range selected {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = cloneValue(row[col])
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// splitWhere separates "table WHERE cond" into its parts. cond may be empty.
func splitWhere(rest string) (string, string, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", fmt.Errorf("missing table")
	}
	table := strings.ToLower(fields[0])
	idx := strings.Index(strings.ToLower(rest), " where ")
	if idx == -1 {
		return table, "", nil
	}
	return table, strings.TrimSpace(rest[idx+len(" where "):]), nil
}

// predicate understands "col = $1" and "col LIKE $1 [ESCAPE ...]".
func predicate(where string, args []driver.NamedValue) (func(map[string]any) bool, error) {
	if where == "" {
		return func(map[string]any) bool { return true }, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("missing argument for %q", where)
	}
	fields := strings.Fields(where)
	if len(fields) < 3 {
		return nil, fmt.Errorf("cannot parse predicate %q", where)
	}
	col := strings.ToLower(fields[0])
	arg := fmt.Sprint(args[0].Value)
	switch strings.ToUpper(fields[1]) {
	case "=":
		return func(row map[string]any) bool { return fmt.Sprint(row[col]) == arg }, nil
	case "LIKE":
		prefix := unescapeLike(strings.TrimSuffix(arg, "%"))
		return func(row map[string]any) bool { return strings.HasPrefix(fmt.Sprint(row[col]), prefix) }, nil
	}
	return nil, fmt.Errorf("unsupported predicate %q", where)
}

func unescapeLike(s string) string {
	return strings.NewReplacer(`\\`, `\`, `\%`, `%`, `\_`, `_`).Replace(s)
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	return strings.ToLower(strings.TrimSpace(rest[:open])), splitColumns(rest[open+1 : closeIdx]), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}

func cloneValue(v any) any {
	if b, ok := v.([]byte); ok {
		if b == nil {
			return nil
		}
		return append([]byte(nil), b...)
	}
	return v
}
