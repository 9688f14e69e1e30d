package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, c)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, c)
	stop()

	if err != nil {
		slog.Error("benchmark failed", slog.Any("error", err))
	}
	if closeErr := closeLogger(logger); closeErr != nil {
		fmt.Fprintln(os.Stderr, "close log file:", closeErr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// run 准备数据并执行一次压测
func run(ctx context.Context, c Config) error {
	result, err := prepareAndRun(ctx, c)
	if err != nil {
		return err
	}

	result.report()
	if c.Report != "" {
		if err := result.writeReport(c.Report, c.Driver); err != nil {
			return fmt.Errorf("write report, %w", err)
		}
	}
	return nil
}

func prepareAndRun(ctx context.Context, c Config) (result *Result, err error) {
	if err := cleanup(ctx, c); err != nil {
		return nil, fmt.Errorf("cleanup, %w", err)
	}

	pools, err := openPools(ctx, c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := pools.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close pools, %w", closeErr)
		}
	}()

	probe, err := prepareData(ctx, c, pools)
	if err != nil {
		return nil, err
	}

	return runBenchmark(ctx, c, pools, probe)
}

// prepareData 建表, 写入初始数据, 返回探测用的 id
func prepareData(ctx context.Context, c Config, p *Pools) ([]byte, error) {
	if err := createTable(ctx, p.Write); err != nil {
		return nil, fmt.Errorf("create table, %w", err)
	}

	slog.Info(fmt.Sprintf("inserting %s rows", humanize.Comma(int64(c.Rows))))
	if err := seed(ctx, p.Write, c.Rows, c.Batch); err != nil {
		return nil, fmt.Errorf("seed, %w", err)
	}
	if err := maintain(ctx, p.Write); err != nil {
		return nil, fmt.Errorf("maintain, %w", err)
	}

	probe, err := probeKey(ctx, p.Read)
	if err != nil {
		return nil, fmt.Errorf("probe key, %w", err)
	}
	return probe, nil
}
