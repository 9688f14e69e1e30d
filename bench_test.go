package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpin(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("error stops the loop", func(t *testing.T) {
		tps := &TPS{Worker: 1}
		err := spin(context.Background(), tps, func(_ context.Context, n int64) error {
			if n == 5 {
				return errBoom
			}
			return nil
		})
		assert.ErrorIs(t, err, errBoom)
		assert.EqualValues(t, 5, tps.Success.Load())
		assert.EqualValues(t, 1, tps.Error.Load())
	})

	t.Run("not found is counted", func(t *testing.T) {
		tps := &TPS{Worker: 1}
		err := spin(context.Background(), tps, func(_ context.Context, n int64) error {
			switch {
			case n == 3:
				return errBoom
			case n%2 == 0:
				return sql.ErrNoRows
			}
			return nil
		})
		assert.ErrorIs(t, err, errBoom)
		assert.EqualValues(t, 3, tps.Success.Load())
		assert.EqualValues(t, 2, tps.Missing.Load())
		assert.EqualValues(t, 1, tps.Error.Load())
	})

	t.Run("started op outlives the deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		tps := &TPS{Worker: 1}
		err := spin(ctx, tps, func(opCtx context.Context, n int64) error {
			if n < 10 {
				return nil
			}
			<-ctx.Done()
			if opCtx.Err() != nil {
				return opCtx.Err()
			}
			return nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 11, tps.Success.Load())
		assert.Zero(t, tps.Error.Load())
	})

	t.Run("done context never runs op", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		tps := &TPS{Worker: 1}
		err := spin(ctx, tps, func(context.Context, int64) error {
			t.Fatal("op called")
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, tps.Success.Load())
	})
}

func TestProperty_SpinTotals(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	stop := errors.New("stop")

	properties.Property("shared counters equal the sum of per-worker counts", prop.ForAll(
		func(limits []int) bool {
			tps := &TPS{Worker: len(limits)}

			var wg sync.WaitGroup
			want := 0
			for _, limit := range limits {
				want += limit
				wg.Add(1)
				go func() {
					defer wg.Done()
					spin(context.Background(), tps, func(_ context.Context, n int64) error {
						if n == int64(limit) {
							return stop
						}
						return nil
					})
				}()
			}
			wg.Wait()

			return tps.Success.Load() == int64(want) &&
				tps.Error.Load() == int64(len(limits))
		},
		gen.SliceOf(gen.IntRange(0, 200)),
	))

	properties.TestingRun(t)
}

func TestRunBenchmark(t *testing.T) {
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			c := newTestConfig(t, driver)
			p := newTestPools(t, c)

			probe, err := prepareData(ctx, c, p)
			require.NoError(t, err)

			result, err := runBenchmark(ctx, c, p, probe)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, result.Elapsed, c.Bench)
			assert.Less(t, result.Elapsed, c.Bench+2*time.Second)

			assert.Equal(t, c.Readers, result.Reads.Worker)
			assert.Positive(t, result.Reads.Success.Load())
			assert.Zero(t, result.Reads.Error.Load())
			assert.Zero(t, result.Reads.Missing.Load(), "probe record must stay visible")

			assert.Positive(t, result.Writes.Success.Load())
			assert.Zero(t, result.Writes.Error.Load())

			n, err := countRecords(ctx, p.Write)
			require.NoError(t, err)
			assert.Equal(t, int64(c.Rows)+result.Writes.Success.Load(), n, "every write is a new row")

			assert.InDelta(t,
				float64(result.Reads.Success.Load())/result.Elapsed.Seconds(),
				result.ReadsPerSecond(), 1e-6)
		})
	}
}

func TestRunBenchmarkWriteCount(t *testing.T) {
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			c := newTestConfig(t, driver)
			c.Readers = 0
			c.Writers = 1
			c.Bench = 30 * time.Millisecond
			p := newTestPools(t, c)

			_, err := prepareData(ctx, c, p)
			require.NoError(t, err)

			// deadline lands mid-insert in most rounds
			for i := 0; i < 20; i++ {
				before, err := countRecords(ctx, p.Write)
				require.NoError(t, err)

				result, err := runBenchmark(ctx, c, p, nil)
				require.NoError(t, err)

				after, err := countRecords(ctx, p.Write)
				require.NoError(t, err)
				require.Equal(t, after-before, result.Writes.Success.Load(), "round %d", i)
			}
		})
	}
}

func TestRunBenchmarkWithoutWorkers(t *testing.T) {
	ctx := context.Background()
	c := newTestConfig(t, "sqlite")
	c.Readers = 0
	c.Writers = 0
	c.Bench = 50 * time.Millisecond
	p := newTestPools(t, c)

	probe, err := prepareData(ctx, c, p)
	require.NoError(t, err)

	result, err := runBenchmark(ctx, c, p, probe)
	require.NoError(t, err)
	assert.Zero(t, result.Reads.Success.Load())
	assert.Zero(t, result.Writes.Success.Load())
	assert.Less(t, result.Elapsed, c.Bench)
}

func TestWriteReport(t *testing.T) {
	result := &Result{
		Elapsed: 2 * time.Second,
		Reads:   &TPS{Worker: 500},
		Writes:  &TPS{Worker: 1},
	}
	result.Reads.Success.Store(1000)
	result.Reads.Missing.Store(3)
	result.Writes.Success.Store(40)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, result.writeReport(path, "sqlite"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got jsonReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, jsonReport{
		Driver:          "sqlite",
		Readers:         500,
		Writers:         1,
		ElapsedMillis:   2000,
		Reads:           1000,
		ReadsPerSecond:  500,
		ReadMisses:      3,
		Writes:          40,
		WritesPerSecond: 20,
	}, got)
}

func TestRun(t *testing.T) {
	c := newTestConfig(t, "sqlite")
	c.Bench = 100 * time.Millisecond
	c.Report = filepath.Join(t.TempDir(), "report.json")

	require.NoError(t, run(context.Background(), c))
	assert.FileExists(t, c.File)
	assert.FileExists(t, c.Report)
}
