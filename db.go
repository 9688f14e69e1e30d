package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/cpuid/v2"
	"github.com/mattn/go-sqlite3"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "modernc.org/sqlite"
)

const pingTimeout = 5 * time.Second

// DB 数据库连接池
type DB struct {
	*sqlx.DB
}

// openDB 创建数据库连接池
//
//	driver=sqlite3 use github.com/mattn/go-sqlite3
//	driver=sqlite use modernc.org/sqlite
//	driver=pgx use github.com/jackc/pgx/v4/stdlib
func openDB(ctx context.Context, driverName, dsn string, maxConns int) (*DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return connect(ctx, db, dsn, maxConns)
}

// openSQLite go-sqlite3 的部分 pragma 需要通过 ConnectHook 设置
func openSQLite(ctx context.Context, driverName, file string, p Pragma, maxConns int) (*DB, error) {
	dsn := sqliteDSN(driverName, file, p)
	if driverName != "sqlite3" {
		return openDB(ctx, driverName, dsn, maxConns)
	}

	cmds := p.connectPragmas()
	c := &mattnConnector{
		dsn: dsn,
		driver: &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				for _, cmd := range cmds {
					if _, err := conn.Exec(cmd, nil); err != nil {
						return fmt.Errorf("%s, %w", cmd, err)
					}
				}
				return nil
			},
		},
	}
	return connect(ctx, sqlx.NewDb(sql.OpenDB(c), driverName), dsn, maxConns)
}

func connect(ctx context.Context, db *sqlx.DB, dsn string, maxConns int) (*DB, error) {
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("open pool", slog.String("dsn", dsn), slog.Int("conns", maxConns))
	return &DB{DB: db}, nil
}

// mattnConnector 保留驱动名 sqlite3, sqlx 的占位符和建表语句都按驱动名选择
type mattnConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
}

func (c *mattnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c *mattnConnector) Driver() driver.Driver {
	return c.driver
}

// Pools 单连接写池 + 多连接只读池
type Pools struct {
	Write *DB
	Read  *DB
}

// openPools 写池必须先打开, 只读连接无法创建数据库文件
func openPools(ctx context.Context, c Config) (*Pools, error) {
	open := func(readOnly bool, conns int) (*DB, error) {
		if c.Driver == "pgx" {
			dsn := c.PGDSN
			if readOnly {
				dsn = readOnlyPGDSN(dsn)
			}
			return openDB(ctx, c.Driver, dsn, conns)
		}

		p := benchPragma(c.Busy)
		p.ReadOnly = readOnly
		return openSQLite(ctx, c.Driver, c.File, p, conns)
	}

	write, err := open(false, 1)
	if err != nil {
		return nil, fmt.Errorf("open write pool, %w", err)
	}

	read, err := open(true, readConns(c))
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("open read pool, %w", err)
	}

	return &Pools{Write: write, Read: read}, nil
}

// Close 关闭两个连接池
func (p *Pools) Close() error {
	return errors.Join(p.Read.Close(), p.Write.Close())
}

// readConns 只读池大小, 默认为物理核数且不少于4
func readConns(c Config) int {
	if c.Conns > 0 {
		return c.Conns
	}

	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return max(n, 4)
}

func readOnlyPGDSN(dsn string) string {
	if dsn == "" {
		return ""
	}

	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		q := u.Query()
		q.Set("default_transaction_read_only", "on")
		u.RawQuery = q.Encode()
		return u.String()
	}
	return strings.TrimSpace(dsn) + " default_transaction_read_only=on"
}

// cleanup 删除上一次压测遗留的数据
func cleanup(ctx context.Context, c Config) error {
	if c.Driver == "pgx" {
		db, err := sqlx.ConnectContext(ctx, "pgx", c.PGDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		_, err = db.ExecContext(ctx, `DROP TABLE IF EXISTS test`)
		return err
	}

	var errs []error
	for _, suffix := range []string{"", "-shm", "-wal"} {
		if err := os.Remove(c.File + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
