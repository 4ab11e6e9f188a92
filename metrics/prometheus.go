// Package metrics 封装基于 Prometheus 的指标注册表与引擎的标准指标.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 内部持有独立的注册中心及预定义的会话、存储指标.
type Metrics struct {
	registry *prometheus.Registry

	BuildInfo *prometheus.GaugeVec

	MessagesReceived *prometheus.CounterVec   // 入站报文 (session, msg_type)
	MessagesSent     *prometheus.CounterVec   // 出站报文 (session, msg_type)
	MessagesDropped  *prometheus.CounterVec   // 丢弃的入站报文 (session, reason)
	ResendRequests   *prometheus.CounterVec   // 重传请求 (session, direction)
	Rejects          *prometheus.CounterVec   // 会话层拒绝 (session, reason)
	SessionState     *prometheus.GaugeVec     // 会话状态 (session)
	SeqNum           *prometheus.GaugeVec     // 下一个序列号 (session, direction)
	StoreDuration    *prometheus.HistogramVec // 存储操作耗时 (backend, op)
	Connections      *prometheus.GaugeVec     // 活跃连接 (role)
}

// NewMetrics 初始化注册表，自动注册 Go 运行时与进程指标.
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.MessagesReceived = m.NewCounterVec(&prometheus.CounterOpts{
		Name: "fix_messages_received_total",
		Help: "Total number of inbound FIX messages",
	}, []string{"session", "msg_type"})

	m.MessagesSent = m.NewCounterVec(&prometheus.CounterOpts{
		Name: "fix_messages_sent_total",
		Help: "Total number of outbound FIX messages",
	}, []string{"session", "msg_type"})

	m.MessagesDropped = m.NewCounterVec(&prometheus.CounterOpts{
		Name: "fix_messages_dropped_total",
		Help: "Inbound messages discarded without state change",
	}, []string{"session", "reason"})

	m.ResendRequests = m.NewCounterVec(&prometheus.CounterOpts{
		Name: "fix_resend_requests_total",
		Help: "ResendRequests sent or serviced",
	}, []string{"session", "direction"})

	m.Rejects = m.NewCounterVec(&prometheus.CounterOpts{
		Name: "fix_rejects_total",
		Help: "Session level rejects sent",
	}, []string{"session", "reason"})

	m.SessionState = m.NewGaugeVec(&prometheus.GaugeOpts{
		Name: "fix_session_state",
		Help: "Session state (0 disconnected, 1 logon sent, 2 logon received, 3 active, 4 pending logout)",
	}, []string{"session"})

	m.SeqNum = m.NewGaugeVec(&prometheus.GaugeOpts{
		Name: "fix_next_seq_num",
		Help: "Next expected sequence number",
	}, []string{"session", "direction"})

	m.StoreDuration = m.NewHistogramVec(&prometheus.HistogramOpts{
		Name:    "fix_store_duration_seconds",
		Help:    "Message store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"backend", "op"})

	m.Connections = m.NewGaugeVec(&prometheus.GaugeOpts{
		Name: "fix_connections",
		Help: "Open transport connections",
	}, []string{"role"})

	slog.Info("unified metrics registry initialized", "service", serviceName)
	return m
}

// NewCounterVec 创建并注册计数器.
func (m *Metrics) NewCounterVec(opts *prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(*opts, labelNames)
	m.registry.MustRegister(cv)
	return cv
}

// NewGaugeVec 创建并注册仪表盘.
func (m *Metrics) NewGaugeVec(opts *prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(*opts, labelNames)
	m.registry.MustRegister(gv)
	return gv
}

// NewHistogramVec 创建并注册直方图.
func (m *Metrics) NewHistogramVec(opts *prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(*opts, labelNames)
	m.registry.MustRegister(hv)
	return hv
}

// Register 注册外部 Collector (如 redis 客户端指标).
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Registry 暴露底层注册表，供测试读取.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStore 记录一次存储操作耗时，m 为 nil 时忽略.
func (m *Metrics) ObserveStore(backend, op string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// Handler 返回暴露指标的 HTTP 处理器.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExposeHttp 在 addr 上启动独立的指标服务，返回关闭函数.
func (m *Metrics) ExposeHttp(addr, path string) func() {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown metrics server", "error", err)
		}
	}
}
