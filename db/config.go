package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DefaultSQLitePath sits next to the dead-letter log in the working directory.
	DefaultSQLitePath = "./deskmate.sqlite"
)

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
	ForeignKeys   bool
}

// PoolConfig zero values mean "use the driver default".
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Config struct {
	Driver      string
	DSN         string
	Pool        PoolConfig
	SQLite      SQLiteConfig
	AutoMigrate bool
}

func DefaultConfig() Config {
	return Config{
		Driver: DriverSQLite,
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
			ForeignKeys:   true,
		},
		AutoMigrate: true,
	}
}

// NormalizeDriver maps accepted driver aliases to DriverSQLite or DriverPostgres.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	case DriverPostgres, "postgresql", "pg":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db.driver: %s", driver)
	}
}

// DefaultPool sizes the pool for the inbound and delivery worker pools.
// SQLite keeps a single writer connection; busy_timeout absorbs the waits.
func DefaultPool(driver string) PoolConfig {
	if driver == DriverPostgres {
		return PoolConfig{
			MaxOpenConns:    16,
			MaxIdleConns:    8,
			ConnMaxLifetime: 30 * time.Minute,
		}
	}
	return PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}
}

func (p PoolConfig) withDefaults(def PoolConfig) PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = def.MaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = def.MaxIdleConns
	}
	if p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = def.ConnMaxLifetime
	}
	return p
}

// ResolveSQLiteDSN falls back to DefaultSQLitePath and makes sure the parent
// directory of a file database exists.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return dsn, nil
	}
	path, _, _ := strings.Cut(dsn, "?")
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return dsn, nil
}
