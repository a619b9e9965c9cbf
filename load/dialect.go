package load

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ColumnType is the portable type of a column; each dialect maps it to DDL.
type ColumnType string

const (
	TypeInt       ColumnType = "int"
	TypeFloat     ColumnType = "float"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
	TypeCreatedAt ColumnType = "created_at"
)

// Dialect renders the SQL that differs between backends: bind parameters,
// identifier quoting, insert-if-absent statements and DDL.
type Dialect struct {
	name        string
	placeholder func(n int) string
	quote       func(ident string) string
	returning   bool
	cascade     bool
	types       map[ColumnType]string
	// identity returns the surrogate key column definition and any statement
	// that must run before the CREATE TABLE (sequences).
	identity func(d *Dialect, table, column string) (string, []string)
	// createTable wraps a column list into an idempotent CREATE TABLE.
	createTable func(d *Dialect, table, body string) string
	// insertIfAbsent renders an INSERT that silently skips rows colliding on
	// the conflict columns. Only dialects with returning support get a
	// non-empty returning column.
	insertIfAbsent func(d *Dialect, table string, columns, conflict []string, returning string) string
	classify       func(err error) ErrorKind
}

func (d *Dialect) Name() string {
	return d.name
}

// Placeholder returns the bind parameter for the n-th argument, starting at 1.
func (d *Dialect) Placeholder(n int) string {
	return d.placeholder(n)
}

func (d *Dialect) Quote(ident string) string {
	return d.quote(ident)
}

func (d *Dialect) SupportsReturning() bool {
	return d.returning
}

func (d *Dialect) InsertIfAbsent(table string, columns, conflict []string, returning string) string {
	if !d.returning {
		returning = ""
	}
	return d.insertIfAbsent(d, table, columns, conflict, returning)
}

// Classify maps a driver error onto the upsert error taxonomy.
func (d *Dialect) Classify(err error) ErrorKind {
	if kind := classifyCommon(err); kind != "" {
		return kind
	}
	if d.classify != nil {
		if kind := d.classify(err); kind != "" {
			return kind
		}
	}
	return KindDatabase
}

func (d *Dialect) columnType(t ColumnType) string {
	if s, ok := d.types[t]; ok {
		return s
	}
	return d.types[TypeText]
}

func (d *Dialect) quoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, ident := range idents {
		out[i] = d.quote(ident)
	}
	return out
}

func (d *Dialect) placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.placeholder(from + i)
	}
	return out
}

func classifyCommon(err error) ErrorKind {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return KindConnection
	}
	return ""
}

func classifyByMessage(err error, schema, constraint []string) ErrorKind {
	msg := strings.ToLower(err.Error())
	for _, s := range schema {
		if strings.Contains(msg, s) {
			return KindSchema
		}
	}
	for _, s := range constraint {
		if strings.Contains(msg, s) {
			return KindConstraint
		}
	}
	return ""
}

func dollarPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func questionPlaceholder(int) string {
	return "?"
}

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func createIfNotExists(d *Dialect, table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", d.quote(table), body)
}

// onConflictDoNothing is shared by postgres, sqlite and duckdb.
func onConflictDoNothing(d *Dialect, table string, columns, conflict []string, returning string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		d.quote(table),
		strings.Join(d.quoteAll(columns), ", "),
		strings.Join(d.placeholders(1, len(columns)), ", "),
		strings.Join(d.quoteAll(conflict), ", "),
	)
	if returning != "" {
		fmt.Fprintf(&b, " RETURNING %s", d.quote(returning))
	}
	return b.String()
}
