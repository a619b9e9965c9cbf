package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/datapipes/etl/config"
	mssql "github.com/microsoft/go-mssqldb"
)

func init() {
	Register("sqlserver", newSQLServer)
}

var sqlserverDialect = &Dialect{
	name: "sqlserver",
	placeholder: func(n int) string {
		return fmt.Sprintf("@p%d", n)
	},
	quote: func(ident string) string {
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	},
	returning: false,
	cascade:   true,
	types: map[ColumnType]string{
		TypeInt:   "BIGINT",
		TypeFloat: "FLOAT",
		// 450 characters keeps unique index keys under the 900 byte limit.
		TypeText:      "NVARCHAR(450)",
		TypeTimestamp: "DATETIME2",
		TypeCreatedAt: "DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()",
	},
	identity: func(d *Dialect, _, column string) (string, []string) {
		return d.quote(column) + " BIGINT IDENTITY(1,1) PRIMARY KEY", nil
	},
	createTable: func(d *Dialect, table, body string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n%s\n)",
			strings.ReplaceAll(table, "'", "''"), d.quote(table), body)
	},
	// No ON CONFLICT in T-SQL. UPDLOCK+HOLDLOCK takes a key-range lock so two
	// concurrent loads of the same key serialize instead of both inserting.
	insertIfAbsent: func(d *Dialect, table string, columns, conflict []string, _ string) string {
		conds := make([]string, len(conflict))
		for i, c := range conflict {
			idx := indexOf(columns, c)
			conds[i] = fmt.Sprintf("%s = %s", d.quote(c), d.placeholder(idx+1))
		}
		return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE %s)",
			d.quote(table),
			strings.Join(d.quoteAll(columns), ", "),
			strings.Join(d.placeholders(1, len(columns)), ", "),
			d.quote(table),
			strings.Join(conds, " AND "),
		)
	},
	classify: func(err error) ErrorKind {
		var msErr mssql.Error
		if !errors.As(err, &msErr) {
			return ""
		}
		switch msErr.Number {
		case 207, 208, 4902:
			return KindSchema
		case 515, 547, 2601, 2627:
			return KindConstraint
		case 1205:
			return KindTransaction
		}
		return ""
	},
}

// SQLServerDSN builds a sqlserver:// URL for go-mssqldb.
func SQLServerDSN(cfg config.DatabaseConfig) string {
	query := url.Values{}
	query.Set("database", cfg.Name)
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func newSQLServer(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	db, err := sql.Open("sqlserver", SQLServerDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("error opening sqlserver database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to sqlserver at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info(fmt.Sprintf("Connected to SQL Server database %s at %s:%d", cfg.Name, cfg.Host, cfg.Port))
	return &sqlStore{db: db, dialect: sqlserverDialect}, nil
}

func indexOf(items []string, item string) int {
	for i, it := range items {
		if it == item {
			return i
		}
	}
	return -1
}
