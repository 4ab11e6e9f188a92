package app

import "time"

// Option 配置 App.
type Option func(*options)

type options struct {
	cleanups        []func()
	shutdownTimeout time.Duration
}

// WithCleanup 登记退出时执行的清理函数，按登记的逆序执行.
func WithCleanup(cleanup func()) Option {
	return func(o *options) {
		if cleanup != nil {
			o.cleanups = append(o.cleanups, cleanup)
		}
	}
}

// WithShutdownTimeout 设置停止组件的总时限.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}
