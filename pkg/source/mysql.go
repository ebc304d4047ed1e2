package source

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/rowsync/pkg/config"
)

// DSN builds the driver connection string for cfg. Times are parsed into time.Time in UTC.
func DSN(cfg config.MySQL) string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN()
}

// OpenMySQL connects to the source database and verifies the connection before returning.
func OpenMySQL(ctx context.Context, cfg config.MySQL) (*SQLSource, error) {
	l := ctxzap.Extract(ctx)

	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("source: opening mysql: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("source: connecting to mysql %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	l.Debug("connected to mysql",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)
	return NewSQLSource(db, DialectMySQL), nil
}
