package main

import (
	"fmt"
	"net/url"
	"time"
)

// Pragma sqlite数据库配置
//
// https://www.sqlite.org/pragma.html
type Pragma struct {
	BusyTimeout       int
	CacheSize         int
	ForeignKeys       bool
	JournalMode       string
	MmapSize          int
	Synchronous       string
	TempStore         string
	WALAutoCheckpoint int

	// TxLock deferred / immediate / exclusive
	TxLock   string
	ReadOnly bool
}

// benchPragma 压测使用的连接配置
func benchPragma(busy time.Duration) Pragma {
	return Pragma{
		BusyTimeout: int(busy.Milliseconds()),
		ForeignKeys: true,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		TempStore:   "MEMORY",
		TxLock:      "immediate",
	}
}

func (p Pragma) encode(driver string) string {
	switch driver {
	case "sqlite3":
		return p.encodeMattn()
	case "sqlite":
		return p.encodeModernc()
	}
	return ""
}

func (p Pragma) encodeMattn() string {
	val := url.Values{}

	if v := p.JournalMode; v != "" {
		val.Set("_journal_mode", v)
	}
	if v := p.Synchronous; v != "" {
		val.Set("_synchronous", v)
	}
	if v := p.CacheSize; v != 0 {
		val.Set("_cache_size", fmt.Sprintf("%d", v))
	}
	if v := p.BusyTimeout; v != 0 {
		val.Set("_busy_timeout", fmt.Sprintf("%d", v))
	}
	if p.ForeignKeys {
		val.Set("_foreign_keys", "1")
	}
	p.encodeOpen(val)

	result, _ := url.QueryUnescape(val.Encode())
	return result
}

func (p Pragma) encodeModernc() string {
	val := url.Values{}

	if v := p.JournalMode; v != "" {
		val.Add("_pragma", fmt.Sprintf("journal_mode(%s)", v))
	}
	if v := p.Synchronous; v != "" {
		val.Add("_pragma", fmt.Sprintf("synchronous(%s)", v))
	}
	if v := p.CacheSize; v != 0 {
		val.Add("_pragma", fmt.Sprintf("cache_size(%d)", v))
	}
	if v := p.BusyTimeout; v != 0 {
		val.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", v))
	}
	if p.ForeignKeys {
		val.Add("_pragma", "foreign_keys(1)")
	}
	if v := p.TempStore; v != "" {
		val.Add("_pragma", fmt.Sprintf("temp_store(%s)", v))
	}
	if v := p.MmapSize; v != 0 {
		val.Add("_pragma", fmt.Sprintf("mmap_size(%d)", v))
	}
	if v := p.WALAutoCheckpoint; v != 0 {
		val.Add("_pragma", fmt.Sprintf("wal_autocheckpoint(%d)", v))
	}
	p.encodeOpen(val)

	result, _ := url.QueryUnescape(val.Encode())
	return result
}

// connectPragmas go-sqlite3 的 DSN 不支持的设置, 由 ConnectHook 在每个新连接上执行
func (p Pragma) connectPragmas() []string {
	var cmds []string
	if v := p.TempStore; v != "" {
		cmds = append(cmds, fmt.Sprintf("PRAGMA temp_store = %s", v))
	}
	if v := p.MmapSize; v != 0 {
		cmds = append(cmds, fmt.Sprintf("PRAGMA mmap_size = %d", v))
	}
	if v := p.WALAutoCheckpoint; v != 0 {
		cmds = append(cmds, fmt.Sprintf("PRAGMA wal_autocheckpoint = %d", v))
	}
	return cmds
}

// encodeOpen 两个驱动写法相同的参数
func (p Pragma) encodeOpen(val url.Values) {
	if v := p.TxLock; v != "" {
		val.Set("_txlock", v)
	}
	if p.ReadOnly {
		val.Set("mode", "ro")
	} else {
		val.Set("mode", "rwc")
	}
}

// sqliteDSN mode 参数只有 file: 形式的 URI 才会生效
func sqliteDSN(driver, file string, p Pragma) string {
	return fmt.Sprintf("file:%s?%s", file, p.encode(driver))
}
