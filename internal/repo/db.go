// Package repo is the GORM persistence layer. Functions take the *gorm.DB to
// run on, so services can pass either the pool or an open transaction.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/casasegura/backend/internal/config"
	"github.com/casasegura/backend/internal/domain"
)

// sqlitePragmas are applied by the driver on every new connection. Setting
// them with Exec would only reach whichever pooled connection ran it.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

const pingTimeout = 5 * time.Second

// Open connects to the configured backend, sizes the pool, attaches tracing
// and checks the connection.
func Open(ctx context.Context, cfg config.DBConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:         queryLogger(cfg.SlowQuery),
		TranslateError: true,
	}

	var (
		db               *gorm.DB
		err              error
		defOpen, defIdle int
	)
	switch cfg.Driver {
	case "sqlite", "":
		var dsn string
		if dsn, err = sqliteDSN(cfg.Path); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
		defOpen, defIdle = 10, 10
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.URL), gcfg)
		defOpen, defIdle = 25, 10
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defOpen))
	sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defIdle))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	// Spans only; query metrics come from the Prometheus collectors.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDSN appends the connection pragmas to path. The parent directory
// must exist; the driver reports a missing one with an unhelpful error.
func sqliteDSN(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite path is empty")
	}
	file := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if dir := filepath.Dir(file); dir != "." && !strings.Contains(path, "mode=memory") {
		if _, err := os.Stat(dir); err != nil {
			return "", err
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	// BEGIN IMMEDIATE: writers queue on busy_timeout instead of failing when
	// a read transaction tries to upgrade.
	b.WriteString("&_txlock=immediate")
	return b.String(), nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// zerologWriter routes GORM's logger into the service log.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// queryLogger reports failed and slow queries. Bound values are left out of
// the SQL since they carry personal data.
func queryLogger(slow time.Duration) logger.Interface {
	return logger.New(zerologWriter{}, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})
}

// AutoMigrate creates or updates every table of the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Professional{},
		&domain.Address{},
		&domain.Job{},
		&domain.Quote{},
		&domain.JobStatusEvent{},
		&domain.Review{},
		&domain.CreditBalance{},
		&domain.CreditTransaction{},
		&domain.Referral{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Notification{},
		&domain.Idempotency{},
	)
}
