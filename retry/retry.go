// Package retry 提供指数退避重试，用于归档上传与发起方重连.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Func 可被重试执行的函数.
type Func func() error

// Config 重试策略参数.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	MaxRetries     int // 小于 0 表示不限次数，直到 ctx 结束
}

// DefaultRetryConfig 通用的默认重试配置.
func DefaultRetryConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// Backoff 按 Config 逐次计算等待时长.
type Backoff struct {
	cfg  Config
	next time.Duration
}

// NewBackoff 创建退避计算器.
func NewBackoff(cfg Config) *Backoff {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Backoff{cfg: cfg, next: cfg.InitialBackoff}
}

// Next 返回本次等待时长并推进.
func (b *Backoff) Next() time.Duration {
	d := b.next
	n := float64(b.next) * b.cfg.Multiplier
	if b.cfg.Jitter > 0 {
		n += (rand.Float64()*2 - 1) * b.cfg.Jitter * n
	}
	b.next = time.Duration(n)
	if b.cfg.MaxBackoff > 0 {
		b.next = min(b.next, b.cfg.MaxBackoff)
	}
	return d
}

// Reset 回到初始等待时长.
func (b *Backoff) Reset() {
	b.next = b.cfg.InitialBackoff
}

// Wait 等待 d 或 ctx 结束.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry 根据配置的策略执行函数 fn.
func Retry(ctx context.Context, fn Func, cfg Config) error {
	return RetryIf(ctx, fn, func(error) bool { return true }, cfg)
}

// RetryIf 仅在 shouldRetry 返回 true 时进行重试.
func RetryIf(ctx context.Context, fn Func, shouldRetry func(error) bool, cfg Config) error {
	var lastErr error
	b := NewBackoff(cfg)

	for attempt := 0; cfg.MaxRetries < 0 || attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxRetries || !shouldRetry(lastErr) {
			break
		}
		if err := Wait(ctx, b.Next()); err != nil {
			return fmt.Errorf("retry cancelled: %w (last error: %w)", err, lastErr)
		}
	}

	return fmt.Errorf("retry failed: %w", lastErr)
}
