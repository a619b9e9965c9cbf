package load

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/datapipes/etl/config"
	_ "modernc.org/sqlite"
)

func init() {
	Register("sqlite", newSQLite)
}

var sqliteDialect = &Dialect{
	name:        "sqlite",
	placeholder: questionPlaceholder,
	quote:       doubleQuote,
	returning:   true,
	cascade:     true,
	types: map[ColumnType]string{
		TypeInt:       "INTEGER",
		TypeFloat:     "REAL",
		TypeText:      "TEXT",
		TypeTimestamp: "TIMESTAMP",
		TypeCreatedAt: "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
	},
	identity: func(d *Dialect, _, column string) (string, []string) {
		return d.quote(column) + " INTEGER PRIMARY KEY AUTOINCREMENT", nil
	},
	createTable:    createIfNotExists,
	insertIfAbsent: onConflictDoNothing,
	classify: func(err error) ErrorKind {
		return classifyByMessage(err,
			[]string{"no such table", "no such column", "has no column named"},
			[]string{"constraint failed"},
		)
	},
}

// newSQLite opens a single-connection pool; an in-memory database lives only
// as long as its connection.
func newSQLite(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("error executing %q: %w", pragma, err)
		}
	}

	logger.Info(fmt.Sprintf("Connected to SQLite database at %s", path))
	return &sqlStore{db: db, dialect: sqliteDialect}, nil
}
