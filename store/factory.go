package store

import (
	"context"
	"errors"

	"github.com/wyfcoding/fixengine/breaker"
	"github.com/wyfcoding/fixengine/cache"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/database"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/redis"
	"github.com/wyfcoding/fixengine/storage"
	"github.com/wyfcoding/fixengine/xerrors"
)

// Decorators 可选的包装层.
type Decorators struct {
	Cache         *cache.BigCache
	Archive       storage.Storage
	ArchivePrefix string
	Metrics       *metrics.Metrics
	Logger        *logging.Logger
}

// Decorate 按 Metrics、Cache、Archive 的顺序由内向外包装 base 创建的存储.
func Decorate(base Factory, backend string, d Decorators) Factory {
	return FactoryFunc(func(ctx context.Context, id message.SessionID) (MessageStore, error) {
		s, err := base.Create(ctx, id)
		if err != nil {
			return nil, err
		}
		s = Instrument(s, backend, d.Metrics)
		if d.Cache != nil {
			s = NewCachedStore(s, d.Cache, id.String())
		}
		if d.Archive != nil {
			s = NewArchivingStore(s, d.Archive, d.ArchivePrefix, id, d.Logger)
		}
		return s, nil
	})
}

// Open 根据配置打开存储后端及其依赖的客户端，返回工厂与关闭函数.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (Factory, func(), error) {
	var (
		base     Factory
		closers  []func() error
		cleanups []func()
	)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := errors.Join(errs...); err != nil {
			logger.Error("close store backend failed", "error", err)
		}
	}

	sc := cfg.Store
	switch sc.Type {
	case "memory", "":
		base = MemoryFactory{}
	case "file":
		base = FileFactory{Dir: sc.File.Dir, Sync: sc.File.Sync}
	case "badger":
		db, err := OpenBadger(sc.Badger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		base = BadgerFactory{DB: db}
	case "redis":
		client, closeFn, err := redis.NewClient(ctx, cfg.Data.Redis, logger, m)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, closeFn)
		base = RedisFactory{
			Client:    client,
			Breaker:   breaker.NewBreaker(breaker.Settings{Name: "store-redis", Config: cfg.CircuitBreaker}, m),
			KeyPrefix: sc.KeyPrefix,
		}
	case "sql":
		db, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, m)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		f := SQLFactory{DB: db}
		if err := f.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		base = f
	default:
		return nil, nil, xerrors.Config("unknown store type: "+sc.Type, nil)
	}

	d := Decorators{Metrics: m, Logger: logger, ArchivePrefix: sc.Archive.Prefix}
	if sc.Cache.Enabled {
		c, err := cache.NewBigCache(ctx, sc.Cache)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, c.Close)
		d.Cache = c
	}
	if sc.Archive.Enabled {
		mc, err := storage.NewMinIOClient(ctx, cfg.Minio)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		storage.RegisterReloadHook(mc)
		d.Archive = mc
	}

	logger.Info("message store opened", "type", sc.Type, "cache", sc.Cache.Enabled, "archive", sc.Archive.Enabled)
	return Decorate(base, sc.Type, d), cleanup, nil
}
