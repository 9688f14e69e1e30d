package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	insertSQL = `INSERT INTO test (id, timestamp, counter) VALUES (:id, :timestamp, :counter)`
	selectSQL = `SELECT * FROM test WHERE id = ?`
	probeSQL  = `SELECT id FROM test ORDER BY id DESC LIMIT 1`
)

var schemas = map[string]string{
	"sqlite": `CREATE TABLE test (
		id BLOB NOT NULL PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		counter INT NOT NULL
	) STRICT`,
	"pgx": `CREATE TABLE test (
		id BYTEA NOT NULL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		counter BIGINT NOT NULL
	)`,
}

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	schemas["sqlite3"] = schemas["sqlite"]
}

type record struct {
	ID        []byte `db:"id"`
	Timestamp int64  `db:"timestamp"`
	Counter   int64  `db:"counter"`
}

// newRecord id 为 UUIDv7, 同一进程内单调递增
func newRecord(timestamp, counter int64) *record {
	id := uuid.Must(uuid.NewV7())
	return &record{
		ID:        id[:],
		Timestamp: timestamp,
		Counter:   counter,
	}
}

func createTable(ctx context.Context, db *DB) error {
	ddl, ok := schemas[db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}
	_, err := db.ExecContext(ctx, ddl)
	return err
}

// seed 分批写入 rows 行, 每 batch 行提交一次事务
func seed(ctx context.Context, db *DB, rows, batch int) error {
	stmt, err := db.PrepareNamedContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert, %w", err)
	}
	defer stmt.Close()

	timestamp := time.Now().UnixMilli()
	for start := 0; start < rows; start += batch {
		end := min(start+batch, rows)
		if err := insertBatch(ctx, db, stmt, timestamp, start, end); err != nil {
			return fmt.Errorf("insert rows %d-%d, %w", start, end, err)
		}
		slog.Info("batch committed", slog.String("rows", humanize.Comma(int64(end))))
	}
	return nil
}

func insertBatch(ctx context.Context, db *DB, stmt *sqlx.NamedStmt, timestamp int64, start, end int) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	s := tx.NamedStmtContext(ctx, stmt)
	for i := start; i < end; i++ {
		if _, err = s.ExecContext(ctx, newRecord(timestamp, int64(i))); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// maintain 回收空间并刷新查询计划统计信息
func maintain(ctx context.Context, db *DB) error {
	for _, cmd := range []string{"VACUUM", "ANALYZE"} {
		if _, err := db.ExecContext(ctx, cmd); err != nil {
			return fmt.Errorf("%s, %w", cmd, err)
		}
	}
	return nil
}

// probeKey 读协程查询的目标 id
func probeKey(ctx context.Context, db *DB) ([]byte, error) {
	var id []byte
	if err := db.GetContext(ctx, &id, probeSQL); err != nil {
		return nil, err
	}
	return id, nil
}

func countRecords(ctx context.Context, db *DB) (int64, error) {
	var n int64
	err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM test`)
	return n, err
}

// statements 所有协程共用的预编译语句
type statements struct {
	insert *sqlx.NamedStmt
	sel    *sqlx.Stmt
}

func prepareStatements(ctx context.Context, p *Pools) (*statements, error) {
	insert, err := p.Write.PrepareNamedContext(ctx, insertSQL)
	if err != nil {
		return nil, fmt.Errorf("prepare insert, %w", err)
	}

	sel, err := p.Read.PreparexContext(ctx, p.Read.Rebind(selectSQL))
	if err != nil {
		_ = insert.Close()
		return nil, fmt.Errorf("prepare select, %w", err)
	}

	return &statements{insert: insert, sel: sel}, nil
}

func (s *statements) Close() error {
	return errors.Join(s.insert.Close(), s.sel.Close())
}

func insertRecord(ctx context.Context, s *statements, r *record) error {
	_, err := s.insert.ExecContext(ctx, r)
	return err
}

func selectRecord(ctx context.Context, s *statements, id []byte) (*record, error) {
	r := &record{}
	if err := s.sel.GetContext(ctx, r, id); err != nil {
		return nil, err
	}
	return r, nil
}
