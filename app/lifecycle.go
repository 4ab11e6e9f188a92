package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Hook 组件的启动与停止逻辑，OnStart 不应阻塞.
type Hook struct {
	Name    string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Lifecycle 按登记顺序启动组件，逆序停止.
type Lifecycle struct {
	logger  *slog.Logger
	mu      sync.Mutex
	hooks   []Hook
	started int
}

// NewLifecycle 创建生命周期管理器.
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Append 登记组件.
func (l *Lifecycle) Append(hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Start 依次启动，失败时停止已启动的组件并返回启动错误.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	hooks := append([]Hook(nil), l.hooks...)
	l.mu.Unlock()

	for i, hook := range hooks {
		if hook.OnStart != nil {
			l.logger.Info("starting component", "name", hook.Name)
			if err := hook.OnStart(ctx); err != nil {
				l.logger.Error("failed to start component", "name", hook.Name, "error", err)
				l.setStarted(i)
				if stopErr := l.Stop(ctx); stopErr != nil {
					return errors.Join(err, stopErr)
				}
				return err
			}
		}
	}
	l.setStarted(len(hooks))
	return nil
}

func (l *Lifecycle) setStarted(n int) {
	l.mu.Lock()
	l.started = n
	l.mu.Unlock()
}

// Stop 逆序停止已启动的组件，返回全部停止错误.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	hooks := l.hooks[:l.started]
	l.started = 0
	l.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if hook.OnStop == nil {
			continue
		}
		l.logger.Info("stopping component", "name", hook.Name)
		if err := hook.OnStop(ctx); err != nil {
			l.logger.Error("failed to stop component", "name", hook.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
