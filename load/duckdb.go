package load

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/datapipes/etl/config"
	"github.com/marcboeker/go-duckdb"
)

func init() {
	Register("duckdb", newDuckDB)
}

var duckdbDialect = &Dialect{
	name:        "duckdb",
	placeholder: questionPlaceholder,
	quote:       doubleQuote,
	returning:   true,
	// DuckDB rejects ON DELETE CASCADE on foreign keys.
	cascade: false,
	types: map[ColumnType]string{
		TypeInt:       "BIGINT",
		TypeFloat:     "DOUBLE",
		TypeText:      "VARCHAR",
		TypeTimestamp: "TIMESTAMP",
		TypeCreatedAt: "TIMESTAMP DEFAULT current_timestamp",
	},
	identity: func(d *Dialect, table, column string) (string, []string) {
		seq := table + "_" + column + "_seq"
		return fmt.Sprintf("%s BIGINT PRIMARY KEY DEFAULT nextval('%s')", d.quote(column), seq),
			[]string{fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s START 1", d.quote(seq))}
	},
	createTable:    createIfNotExists,
	insertIfAbsent: onConflictDoNothing,
	classify: func(err error) ErrorKind {
		return classifyByMessage(err,
			[]string{"catalog error", "binder error"},
			[]string{"constraint error"},
		)
	},
}

func newDuckDB(_ context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	var path string
	var dbType string
	if strings.HasPrefix(cfg.Path, "md:") {
		if cfg.Token == "" {
			return nil, fmt.Errorf("MOTHERDUCK_TOKEN is not set")
		}
		path = fmt.Sprintf("%s?motherduck_token=%s", cfg.Path, cfg.Token)
		dbType = ":md:"
	} else if cfg.Path == "" || cfg.Path == ":memory:" {
		path = ""
		dbType = ":memory:"
	} else {
		path = cfg.Path
		dbType = path
	}

	var connInitFn func(driver.ExecerContext) error
	if len(cfg.ConnInitFnQueries) > 0 {
		connInitFn = func(exec driver.ExecerContext) error {
			for _, path := range cfg.ConnInitFnQueries {
				query, err := readQuery(path)
				if err != nil {
					return err
				}

				// Execute the query read from the file
				_, err = exec.ExecContext(context.Background(), string(query), nil)
				if err != nil {
					return fmt.Errorf("failed to execute query from file %s: %w", path, err)
				}
			}
			return nil
		}
		logger.Debug(fmt.Sprintf("Connection initialization queries: %v", cfg.ConnInitFnQueries))
	}

	connector, err := duckdb.NewConnector(path, connInitFn)
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(connector)

	switch dbType {
	case ":memory:":
		logger.Info("Connected to DuckDB in-memory database")
	case ":md:":
		logger.Info("Connected to MotherDuck database")
	default:
		logger.Info(fmt.Sprintf("Connected to local DuckDB database at %s", dbType))
	}

	return &sqlStore{db: db, dialect: duckdbDialect, closers: []func() error{connector.Close}}, nil
}

func readQuery(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	query, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return query, nil
}
