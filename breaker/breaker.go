// Package breaker 提供基于 gobreaker 的熔断器，保护远端存储 (Redis、SQL) 的调用.
package breaker

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/metrics"
)

// ErrServiceUnavailable 表示服务当前处于熔断状态.
var ErrServiceUnavailable = errors.New("service unavailable: circuit breaker is open")

// Breaker 封装 gobreaker 实例，状态变化记录日志与指标.
// 未启用时直接执行被保护的函数.
type Breaker struct {
	circuitBreaker *gobreaker.CircuitBreaker
}

// Settings 熔断器初始化参数.
type Settings struct {
	Name         string
	Config       config.CircuitBreakerConfig
	FailureRatio float64
	MinRequests  uint32
}

// stateGauge 同一进程内的熔断器共享一个指标.
var stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "fix_circuit_breaker_state",
	Help: "Circuit breaker state (0: Closed, 1: Half-Open, 2: Open)",
}, []string{"name"})

// NewBreaker 创建熔断器，m 不为空时注册状态指标.
func NewBreaker(st Settings, m *metrics.Metrics) *Breaker {
	if !st.Config.Enabled {
		return &Breaker{}
	}

	failureRatio := st.FailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	minRequests := st.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}

	if m != nil {
		// 重复注册返回 AlreadyRegisteredError，可忽略
		_ = m.Register(stateGauge)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.Config.MaxRequests,
		Interval:    st.Config.Interval,
		Timeout:     st.Config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			stateGauge.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Breaker{circuitBreaker: cb}
}

// Do 执行受保护且无返回值的函数.
func (b *Breaker) Do(fn func() error) error {
	_, err := ExecuteTyped(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteTyped 执行受熔断保护的函数.
func ExecuteTyped[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil || b.circuitBreaker == nil {
		return fn()
	}

	res, err := b.circuitBreaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrServiceUnavailable
		}
		return zero, err
	}
	return res.(T), nil
}
