// Package async 提供带 panic 恢复的 goroutine 启动工具.
package async

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrPanicRecovered 表示异步任务中恢复的 panic.
var ErrPanicRecovered = errors.New("async task panic recovered")

// SafeGo 启动 goroutine，panic 会被恢复并记录堆栈.
func SafeGo(fn func()) {
	go func() {
		defer Recover("async task")
		fn()
	}()
}

// Recover 在 defer 中调用，恢复 panic 并以 name 记录日志.
func Recover(name string) {
	if rec := recover(); rec != nil {
		err := fmt.Errorf("%w: %v", ErrPanicRecovered, rec)
		slog.Error("panic recovered", "task", name, "error", err, "stack", string(debug.Stack()))
	}
}

// RunGroup 类似于 errgroup，但增加了 panic 恢复.
type RunGroup struct {
	err     error
	wg      sync.WaitGroup
	errOnce sync.Once
}

// Go 在组中启动一个任务.
func (g *RunGroup) Go(fn func() error) {
	g.wg.Add(1)
	SafeGo(func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.errOnce.Do(func() {
				g.err = err
			})
		}
	})
}

// Wait 等待所有任务完成，并返回第一个错误 (如果有).
func (g *RunGroup) Wait() error {
	g.wg.Wait()
	return g.err
}
