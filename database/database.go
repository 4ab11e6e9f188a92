// Package database 提供 GORM 连接工厂，支持 mysql、postgres 与 sqlite，供 SQL 报文存储使用.
package database

import (
	"errors"
	"time"

	"github.com/wyfcoding/fixengine/breaker"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/xerrors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

// ErrTransactionFailed 事务执行失败.
var ErrTransactionFailed = errors.New("transaction failed")

const defaultSlowThreshold = 200 * time.Millisecond

// DB 封装了 GORM 实例与熔断器.
type DB struct {
	*gorm.DB
	breaker *breaker.Breaker
	logger  *logging.Logger
}

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite", "":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, xerrors.Config("unsupported database driver: "+cfg.Driver, nil)
	}
}

// NewDB 初始化并返回一个带熔断与追踪的数据库连接封装.
func NewDB(cfg config.DatabaseConfig, cbCfg config.CircuitBreakerConfig, logger *logging.Logger, m *metrics.Metrics) (*DB, error) {
	dialer, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowThreshold
	}

	gormDB, err := gorm.Open(dialer, &gorm.Config{
		Logger:      logging.NewGormLogger(logger, slow),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, xerrors.Store("open database", err)
	}

	if errTracing := gormDB.Use(tracing.NewPlugin()); errTracing != nil {
		return nil, xerrors.WrapInternal(errTracing, "failed to register gorm otel plugin")
	}

	sqlDB, errDB := gormDB.DB()
	if errDB != nil {
		return nil, xerrors.WrapInternal(errDB, "failed to get underlying sql.DB")
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	cb := breaker.NewBreaker(breaker.Settings{
		Name:   "database-" + cfg.Driver,
		Config: cbCfg,
	}, m)

	return &DB{DB: gormDB, breaker: cb, logger: logger}, nil
}

// Transaction 封装了带熔断保护的事务逻辑.
func (db *DB) Transaction(fc func(tx *gorm.DB) error) error {
	return db.breaker.Do(func() error {
		if err := db.DB.Transaction(fc); err != nil {
			return xerrors.Wrap(err, xerrors.ErrStore, ErrTransactionFailed.Error())
		}
		return nil
	})
}

// Protect 以熔断器保护单次调用.
func (db *DB) Protect(fn func(tx *gorm.DB) error) error {
	return db.breaker.Do(func() error { return fn(db.DB) })
}

// Close 关闭底层连接池.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
