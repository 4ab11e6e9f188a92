// Package redis 提供带指标钩子的 go-redis 客户端工厂，供 Redis 报文存储使用.
package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/xerrors"
)

// Client 是 redis.Client 的别名，存储层无需直接导入原生包.
type Client = redis.Client

// Nil 键不存在.
var Nil = redis.Nil

type metricsHook struct {
	addr     string
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetricsHook(addr string, m *metrics.Metrics) *metricsHook {
	h := &metricsHook{addr: addr}
	if m == nil {
		return h
	}
	h.ops = m.NewCounterVec(&prometheus.CounterOpts{
		Name: "fix_redis_ops_total",
		Help: "The total number of redis operations",
	}, []string{"addr", "command", "status"})
	h.duration = m.NewHistogramVec(&prometheus.HistogramOpts{
		Name:    "fix_redis_duration_seconds",
		Help:    "The duration of redis operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"addr", "command"})
	return h
}

func (h *metricsHook) observe(command string, start time.Time, err error) {
	if h.ops == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	h.ops.WithLabelValues(h.addr, command, status).Inc()
	h.duration.WithLabelValues(h.addr, command).Observe(time.Since(start).Seconds())
}

func (h *metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), start, err)
		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", start, err)
		return err
	}
}

// NewClient 使用提供的配置创建 Redis 客户端并验证连通性.
// 返回客户端、清理函数和连接失败时的错误.
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *logging.Logger, m *metrics.Metrics) (*Client, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	client.AddHook(newMetricsHook(cfg.Addr, m))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, xerrors.Store("connect redis", err)
	}

	logger.Info("successfully connected to redis", "addr", client.Options().Addr)

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}

	return client, cleanup, nil
}
