package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = time.Hour
	pingTimeout            = 5 * time.Second
)

// PoolConfig bounds the connection pool. Zero values fall back to defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// SlowQuery is the duration above which a statement is logged at warn level.
	SlowQuery time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = defaultMaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = defaultMaxIdleConns
	}
	if p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if p.SlowQuery <= 0 {
		p.SlowQuery = defaultSlowQuery
	}
	return p
}

// NewPostgres opens the lead store. Statements log through zap so SQL errors
// carry the same correlation fields as the rest of the engine.
func NewPostgres(ctx context.Context, dsn string, pool PoolConfig, log *zap.Logger) (*gorm.DB, error) {
	pool = pool.withDefaults()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 NewGormLogger(log, pool.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect postgres: %v", domain.ErrStoreUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: failed to ping postgres: %v", domain.ErrStoreUnavailable, err)
	}

	return db, nil
}
