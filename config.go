package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config 压测配置
//
// 默认: 500万行, 500个读协程, 1个写协程, 持续10秒
type Config struct {
	Driver  string `validate:"required,oneof=sqlite sqlite3 pgx"`
	File    string `validate:"required_unless=Driver pgx"`
	PGDSN   string `validate:"required_if=Driver pgx"`
	Report  string
	Rows    int           `validate:"gt=0"`
	Batch   int           `validate:"gt=0"`
	Readers int           `validate:"gte=0"`
	Writers int           `validate:"gte=0"`
	Conns   int           `validate:"gte=0"`
	Bench   time.Duration `validate:"gt=0"`
	Busy    time.Duration `validate:"gte=0"`

	Log struct {
		Env          string `validate:"required,oneof=dev prod"`
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

func defaultConfig() Config {
	var c Config
	c.Driver = "sqlite"
	c.File = "test.db"
	c.Rows = 5_000_000
	c.Batch = 500_000
	c.Readers = 500
	c.Writers = 1
	c.Bench = 10 * time.Second
	c.Busy = 5 * time.Second
	c.Log.Env = "prod"
	c.Log.ConsoleLevel = "info"
	c.Log.FileLevel = "debug"
	return c
}

// loadConfig 读取环境变量及可选的 .env 文件
func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env, %w", err)
	}

	c := defaultConfig()
	c.Driver = getenv("BENCH_DRIVER", c.Driver)
	c.File = getenv("BENCH_DB", c.File)
	c.PGDSN = os.Getenv("BENCH_PG_DSN")
	c.Report = os.Getenv("BENCH_REPORT")
	c.Log.Env = getenv("LOG_ENV", c.Log.Env)
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", c.Log.ConsoleLevel))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", c.Log.FileLevel))
	c.Log.File = os.Getenv("LOG_FILE")

	var errs []error
	for _, v := range []struct {
		key string
		dst *int
	}{
		{"BENCH_ROWS", &c.Rows},
		{"BENCH_BATCH", &c.Batch},
		{"BENCH_READERS", &c.Readers},
		{"BENCH_WRITERS", &c.Writers},
		{"BENCH_READ_CONNS", &c.Conns},
	} {
		errs = append(errs, getenvInt(v.key, v.dst))
	}
	errs = append(errs,
		getenvDuration("BENCH_DURATION", &c.Bench),
		getenvDuration("BENCH_BUSY_TIMEOUT", &c.Busy),
	)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, dst *int) error {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(strings.ReplaceAll(v, "_", ""))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", k, v)
	}
	*dst = n
	return nil
}

func getenvDuration(k string, dst *time.Duration) error {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", k, v)
	}
	*dst = d
	return nil
}
