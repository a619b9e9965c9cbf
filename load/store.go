package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/datapipes/etl/config"
)

// Store is a relational backend the pipelines write to and the reports read from.
type Store interface {
	Dialect() *Dialect
	Begin(ctx context.Context) (Tx, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// Query runs a read-only statement and materializes the full result.
	Query(ctx context.Context, query string, args ...any) (*Result, error)
	Close() error
}

// Tx is the part of a transaction the upserter uses. Exec returns the number
// of affected rows.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Row scans a single row. Scan returns ErrNoRows when the query had no result.
type Row interface {
	Scan(dest ...any) error
}

// Result is a fully read query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// ByColumn returns the result as a map of column names to the string form of
// their values.
func (r *Result) ByColumn() map[string][]string {
	results := make(map[string][]string, len(r.Columns))
	for _, col := range r.Columns {
		results[col] = []string{}
	}
	for _, row := range r.Rows {
		for i, col := range r.Columns {
			results[col] = append(results[col], FormatValue(row[i]))
		}
	}
	return results
}

const timestampLayout = "2006-01-02 15:04:05"

// FormatValue renders a scanned value the way reports print it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(timestampLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Factory opens a store for one driver.
type Factory func(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver available to Open. Backends register themselves in init.
func Register(driver string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("load: Register factory is nil")
	}
	if _, dup := registry[driver]; dup {
		panic("load: Register called twice for driver " + driver)
	}
	registry[driver] = factory
}

// Drivers lists the registered driver names.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Driver]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (registered: %v)", cfg.Driver, Drivers())
	}

	store, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("error opening %s database: %w", cfg.Driver, err)
	}
	return store, nil
}

// sqlStore backs every driver that goes through database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect *Dialect
	closers []func() error
}

func (s *sqlStore) Dialect() *Dialect {
	return s.dialect
}

func (s *sqlStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlStore) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	// get column names
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return result, nil
}

func (s *sqlStore) Close() error {
	errs := []error{s.db.Close()}
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *sqlTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}
