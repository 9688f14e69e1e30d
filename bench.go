package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// TPS 每秒事务完成度
type TPS struct {
	Worker  int
	Success atomic.Int64
	// Error 因出错而提前退出的协程数
	Error atomic.Int64
	// Missing 查询结果为空的次数, 已计入 Success
	Missing atomic.Int64
}

// PerSecond 按耗时换算吞吐
func (t *TPS) PerSecond(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(t.Success.Load()) / d.Seconds()
}

func (t *TPS) String() string {
	return fmt.Sprintf("worker: %d, success: %d, error: %d, missing: %d",
		t.Worker, t.Success.Load(), t.Error.Load(), t.Missing.Load())
}

// spin 循环执行 op 直到 ctx 结束
//
// n 为本协程已完成的次数. 已经开始的 op 不受 ctx 取消影响, 一定执行完并计数,
// 所以实际耗时最多超出一次 op. 出错时本协程退出并返回该错误, 其它协程不受影响.
func spin(ctx context.Context, tps *TPS, op func(ctx context.Context, n int64) error) error {
	var done, missing int64
	defer func() {
		tps.Success.Add(done)
		tps.Missing.Add(missing)
	}()

	opCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		err := op(opCtx, done)
		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			missing++
			slog.Error("record not found")
		default:
			tps.Error.Add(1)
			slog.Error("worker stopped", slog.Any("error", err))
			return err
		}
		done++
	}
	return nil
}

// Result 压测结果
type Result struct {
	Elapsed time.Duration
	Reads   *TPS
	Writes  *TPS
}

// runBenchmark 并发读写 c.Bench 时长
func runBenchmark(ctx context.Context, c Config, p *Pools, probe []byte) (*Result, error) {
	stmts, err := prepareStatements(ctx, p)
	if err != nil {
		return nil, err
	}
	defer stmts.Close()

	result := &Result{
		Reads:  &TPS{Worker: c.Readers},
		Writes: &TPS{Worker: c.Writers},
	}

	slog.Info("starting benchmark",
		slog.Int("readers", c.Readers),
		slog.Int("writers", c.Writers),
		slog.Duration("duration", c.Bench),
	)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.Bench)
	defer cancel()

	var g errgroup.Group
	for i := 0; i < c.Readers; i++ {
		g.Go(func() error {
			return spin(ctx, result.Reads, func(ctx context.Context, _ int64) error {
				_, err := selectRecord(ctx, stmts, probe)
				return err
			})
		})
	}

	for i := 0; i < c.Writers; i++ {
		g.Go(func() error {
			timestamp := time.Now().UnixMilli()
			return spin(ctx, result.Writes, func(ctx context.Context, n int64) error {
				return insertRecord(ctx, stmts, newRecord(timestamp, n))
			})
		})
	}

	// 出错的协程已计入 TPS.Error
	if err := g.Wait(); err != nil {
		slog.Warn("some workers stopped early",
			slog.Int64("readers", result.Reads.Error.Load()),
			slog.Int64("writers", result.Writes.Error.Load()),
			slog.Any("first_error", err),
		)
	}
	result.Elapsed = time.Since(start)

	slog.Info("benchmark stopped", slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (r *Result) ReadsPerSecond() float64 {
	return r.Reads.PerSecond(r.Elapsed)
}

func (r *Result) WritesPerSecond() float64 {
	return r.Writes.PerSecond(r.Elapsed)
}

const separator = "------------------------"

func (r *Result) report() {
	fmt.Println(separator)
	slog.Info(fmt.Sprintf("%s reads", humanize.Comma(r.Reads.Success.Load())))
	slog.Info(fmt.Sprintf("%s reads/s", humanize.CommafWithDigits(r.ReadsPerSecond(), 2)))
	fmt.Println(separator)
	slog.Info(fmt.Sprintf("%s writes", humanize.Comma(r.Writes.Success.Load())))
	slog.Info(fmt.Sprintf("%s writes/s", humanize.CommafWithDigits(r.WritesPerSecond(), 2)))

	if n := r.Reads.Missing.Load(); n > 0 {
		slog.Warn("probe record missed", slog.Int64("times", n))
	}
}

type jsonReport struct {
	Driver          string  `json:"driver"`
	Readers         int     `json:"readers"`
	Writers         int     `json:"writers"`
	ElapsedMillis   int64   `json:"elapsed_ms"`
	Reads           int64   `json:"reads"`
	ReadsPerSecond  float64 `json:"reads_per_second"`
	ReadErrors      int64   `json:"read_errors"`
	ReadMisses      int64   `json:"read_misses"`
	Writes          int64   `json:"writes"`
	WritesPerSecond float64 `json:"writes_per_second"`
	WriteErrors     int64   `json:"write_errors"`
}

// writeReport 结果保存为 json 文件
func (r *Result) writeReport(path, driver string) error {
	data, err := json.MarshalIndent(jsonReport{
		Driver:          driver,
		Readers:         r.Reads.Worker,
		Writers:         r.Writes.Worker,
		ElapsedMillis:   r.Elapsed.Milliseconds(),
		Reads:           r.Reads.Success.Load(),
		ReadsPerSecond:  r.ReadsPerSecond(),
		ReadErrors:      r.Reads.Error.Load(),
		ReadMisses:      r.Reads.Missing.Load(),
		Writes:          r.Writes.Success.Load(),
		WritesPerSecond: r.WritesPerSecond(),
		WriteErrors:     r.Writes.Error.Load(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
