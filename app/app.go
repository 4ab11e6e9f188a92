// Package app 管理引擎进程的生命周期：组件启停、信号处理与资源清理.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultShutdownTimeout 默认的停止时限，需覆盖会话 Logout 握手.
const DefaultShutdownTimeout = 10 * time.Second

// App 引擎进程容器.
type App struct {
	name   string
	logger *slog.Logger
	opts   options
	lc     *Lifecycle

	mu     sync.Mutex
	cancel context.CancelFunc
	failed error
}

// New 创建 App.
func New(name string, logger *slog.Logger, opts ...Option) *App {
	o := options{shutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &App{
		name:   name,
		logger: logger,
		opts:   o,
		lc:     NewLifecycle(logger),
	}
}

// Append 登记组件.
func (a *App) Append(hook Hook) {
	a.lc.Append(hook)
}

// Go 登记一个长期运行的组件. fn 在启动后的 goroutine 中执行，
// 停止时取消其 ctx 并等待返回；fn 提前返回错误会使整个 App 退出.
func (a *App) Go(name string, fn func(ctx context.Context) error) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	a.Append(Hook{
		Name: name,
		OnStart: func(ctx context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
			done = make(chan struct{})
			go func() {
				defer close(done)
				if err := fn(runCtx); err != nil && runCtx.Err() == nil {
					a.logger.Error("component exited", "name", name, "error", err)
					a.fail(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func (a *App) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed == nil {
		a.failed = err
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// Run 启动全部组件并阻塞，直到收到 SIGINT/SIGTERM、ctx 结束或某个组件失败.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.logger.Info("engine starting", "name", a.name, "pid", os.Getpid())
	if err := a.lc.Start(ctx); err != nil {
		a.cleanup()
		return err
	}
	a.logger.Info("engine started", "name", a.name)

	<-ctx.Done()
	a.logger.Info("shutting down", "name", a.name)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.opts.shutdownTimeout)
	defer shutdownCancel()
	stopErr := a.lc.Stop(shutdownCtx)
	a.cleanup()

	a.mu.Lock()
	failed := a.failed
	a.mu.Unlock()
	if err := errors.Join(failed, stopErr); err != nil {
		return err
	}
	a.logger.Info("engine shut down gracefully")
	return nil
}

func (a *App) cleanup() {
	for i := len(a.opts.cleanups) - 1; i >= 0; i-- {
		a.opts.cleanups[i]()
	}
}
