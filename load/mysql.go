package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/datapipes/etl/config"
	"github.com/go-sql-driver/mysql"
)

func init() {
	Register("mysql", newMySQL)
}

var mysqlDialect = &Dialect{
	name:        "mysql",
	placeholder: questionPlaceholder,
	quote: func(ident string) string {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	},
	returning: false,
	cascade:   true,
	types: map[ColumnType]string{
		TypeInt:   "BIGINT",
		TypeFloat: "DOUBLE",
		// Unique indexes need a bounded length.
		TypeText:      "VARCHAR(255)",
		TypeTimestamp: "DATETIME",
		TypeCreatedAt: "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
	},
	identity: func(d *Dialect, _, column string) (string, []string) {
		return d.quote(column) + " BIGINT AUTO_INCREMENT PRIMARY KEY", nil
	},
	createTable: createIfNotExists,
	// ON DUPLICATE KEY with a no-op assignment reports 0 affected rows for an
	// existing row.
	insertIfAbsent: func(d *Dialect, table string, columns, conflict []string, _ string) string {
		first := d.quote(conflict[0])
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s = %s",
			d.quote(table),
			strings.Join(d.quoteAll(columns), ", "),
			strings.Join(d.placeholders(1, len(columns)), ", "),
			first, first,
		)
	},
	classify: func(err error) ErrorKind {
		var myErr *mysql.MySQLError
		if !errors.As(err, &myErr) {
			return ""
		}
		switch myErr.Number {
		case 1146, 1054, 1049:
			return KindSchema
		case 1062, 1048, 1451, 1452:
			return KindConstraint
		case 1213, 1205:
			return KindTransaction
		}
		return ""
	},
}

// MySQLDSN builds a go-sql-driver DSN with parseTime enabled.
func MySQLDSN(cfg config.DatabaseConfig) string {
	myCfg := mysql.NewConfig()
	myCfg.User = cfg.User
	myCfg.Passwd = cfg.Password
	myCfg.Net = "tcp"
	myCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	myCfg.DBName = cfg.Name
	myCfg.ParseTime = true
	myCfg.Loc = time.UTC
	return myCfg.FormatDSN()
}

func newMySQL(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	db, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("error opening mysql database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to mysql at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info(fmt.Sprintf("Connected to MySQL database %s at %s:%d", cfg.Name, cfg.Host, cfg.Port))
	return &sqlStore{db: db, dialect: mysqlDialect}, nil
}
