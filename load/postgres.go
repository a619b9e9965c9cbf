package load

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/datapipes/etl/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func init() {
	Register("postgres", newPostgres)
}

var postgresDialect = &Dialect{
	name:        "postgres",
	placeholder: dollarPlaceholder,
	quote:       doubleQuote,
	returning:   true,
	cascade:     true,
	types: map[ColumnType]string{
		TypeInt:       "BIGINT",
		TypeFloat:     "DOUBLE PRECISION",
		TypeText:      "TEXT",
		TypeTimestamp: "TIMESTAMP",
		TypeCreatedAt: "TIMESTAMPTZ NOT NULL DEFAULT now()",
	},
	identity: func(d *Dialect, _, column string) (string, []string) {
		return d.quote(column) + " BIGSERIAL PRIMARY KEY", nil
	},
	createTable:    createIfNotExists,
	insertIfAbsent: onConflictDoNothing,
	classify: func(err error) ErrorKind {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
			return ""
		}
		switch pgErr.Code[:2] {
		case "42":
			return KindSchema
		case "23":
			return KindConstraint
		case "08", "57":
			return KindConnection
		case "40", "25":
			return KindTransaction
		}
		return ""
	},
}

// PostgresDSN builds a pgx connection string from the config, escaping the
// credentials.
func PostgresDSN(cfg config.DatabaseConfig) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": []string{sslmode}}.Encode(),
	}
	return u.String()
}

type postgresStore struct {
	pool *pgxpool.Pool
}

func newPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	poolCfg, err := pgxpool.ParseConfig(PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("error parsing postgres config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to postgres at %s: %w", poolCfg.ConnConfig.Host, err)
	}

	logger.Info(fmt.Sprintf("Connected to Postgres database %s at %s:%d", cfg.Name, cfg.Host, cfg.Port))
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Dialect() *Dialect {
	return postgresDialect
}

func (s *postgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

func (s *postgresStore) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query runs inside a READ ONLY transaction so a report can never write.
func (s *postgresStore) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return result, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgxTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return pgxRow{row: t.tx.QueryRow(ctx, query, args...)}
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

type pgxRow struct {
	row pgx.Row
}

func (r pgxRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}
