// Package logging 提供统一的结构化日志 (slog) 封装，支持 OpenTelemetry 追踪上下文注入、
// 文件切割与运行期调整日志级别，并为 GORM 提供日志适配.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm/logger"
)

var (
	defaultLogger *Logger
	once          sync.Once

	// level 所有由本包创建的 Handler 共享，SetLevel 运行期生效.
	level = new(slog.LevelVar)
)

// Config 定义日志配置
type Config struct {
	Service    string
	Module     string
	Level      string
	Format     string // json 或 text
	File       string // 日志文件路径，为空则只输出到 stdout
	Stdout     bool   // 配置文件路径时是否同时输出到 stdout
	MaxSize    int    // 每个日志文件最大尺寸 (MB)
	MaxBackups int    // 保留旧日志文件的最大个数
	MaxAge     int    // 保留旧日志文件的最大天数
	Compress   bool   // 是否压缩旧日志
}

// Logger 封装 *slog.Logger 并记录服务名与模块名.
type Logger struct {
	*slog.Logger
	Service string
	Module  string
}

// TraceHandler 从 context 中提取 trace_id 与 span_id 注入日志记录.
type TraceHandler struct {
	slog.Handler
}

// Handle 实现 slog.Handler.
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLevel 将配置中的级别名转换为 slog.Level，未知名称按 info 处理.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel 运行期调整日志级别，用于配置热更新.
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// NewFromConfig 创建一个新的 Logger 实例.
func NewFromConfig(cfg Config) *Logger {
	level.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	}
	newHandler := func(w io.Writer) slog.Handler {
		if cfg.Format == "text" {
			return slog.NewTextHandler(w, opts)
		}
		return slog.NewJSONHandler(w, opts)
	}

	var handler slog.Handler
	if cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		handler = newHandler(fileWriter)
		if cfg.Stdout {
			handler = newMultiHandler(handler, newHandler(os.Stdout))
		}
	} else {
		handler = newHandler(os.Stdout)
	}

	l := slog.New(&TraceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service),
		slog.String("module", cfg.Module),
	)

	return &Logger{
		Logger:  l,
		Service: cfg.Service,
		Module:  cfg.Module,
	}
}

// NewLogger 以简单参数创建 Logger.
func NewLogger(service, module string, lvl ...string) *Logger {
	l := "info"
	if len(lvl) > 0 {
		l = lvl[0]
	}
	return NewFromConfig(Config{Service: service, Module: module, Level: l})
}

// NewDiscard 创建丢弃全部输出的 Logger，供测试使用.
func NewDiscard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler), Service: "test", Module: "test"}
}

// SetDefault 设置全局默认 Logger 并同步到 slog.
func SetDefault(l *Logger) {
	once.Do(func() {})
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// Default 返回默认日志记录器，未设置时按 info 级别输出到 stdout.
func Default() *Logger {
	once.Do(func() {
		if defaultLogger == nil {
			defaultLogger = NewLogger("fixengine", "default")
		}
	})
	return defaultLogger
}

// Named 派生带模块名的子 Logger.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		Service: l.Service,
		Module:  name,
	}
}

func Info(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	Default().DebugContext(ctx, msg, args...)
}

// LogDuration 记录操作耗时
func LogDuration(ctx context.Context, operation string, args ...any) func() {
	start := time.Now()
	return func() {
		logArgs := append(args, "duration", time.Since(start))
		Info(ctx, operation+" finished", logArgs...)
	}
}

// GormLogger 实现 gorm logger.Interface，将 SQL 存储的日志输出到 slog.
type GormLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration // 超过该阈值的 SQL 记为警告
}

// NewGormLogger 创建 GormLogger.
func NewGormLogger(l *Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{
		logger:        l.Logger,
		SlowThreshold: slowThreshold,
	}
}

// LogMode 级别由 slog 统一控制，直接返回自身.
func (l *GormLogger) LogMode(logger.LogLevel) logger.Interface {
	return l
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
}

// Trace 慢查询记 Warn，错误记 Error，其余记 Debug.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []any{
		slog.String("sql", sql),
		slog.Duration("elapsed", elapsed),
	}
	if rows != -1 {
		fields = append(fields, slog.Int64("rows", rows))
	}

	switch {
	case err != nil && err != logger.ErrRecordNotFound:
		fields = append(fields, slog.Any("error", err))
		l.logger.ErrorContext(ctx, "gorm trace error", fields...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		fields = append(fields, slog.String("type", "slow_query"))
		l.logger.WarnContext(ctx, "gorm trace slow query", fields...)
	default:
		l.logger.DebugContext(ctx, "gorm trace", fields...)
	}
}
