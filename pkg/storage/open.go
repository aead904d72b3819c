package storage

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Dialector returns the GORM driver for dsn. Anything that is not a
// PostgreSQL DSN is treated as a SQLite path or ":memory:".
func Dialector(dsn string) gorm.Dialector {
	if IsPostgresDSN(dsn) {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// GormConfig returns the settings every connection needs: translated
// driver errors, so unique violations become gorm.ErrDuplicatedKey, and
// UTC timestamps, so stored instants compare correctly as text on SQLite.
func GormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Open connects to dsn and configures the pool. SQLite is limited to a
// single connection that never expires; for ":memory:" a second
// connection would see an empty database.
func Open(dsn string, level logger.LogLevel, opts ...PoolOption) (*GormStorage, error) {
	db, err := gorm.Open(Dialector(dsn), GormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if !IsPostgresDSN(dsn) {
		opts = append([]PoolOption{}, opts...)
		opts = append(opts, SQLitePoolConfig().options()...)
	}
	return NewGormStorageWithPool(db, opts...)
}

// ParseLogLevel maps "silent", "error", "warn" and "info" to a GORM log
// level. Anything else is silent.
func ParseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}
