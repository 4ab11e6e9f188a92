package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/session"
	"github.com/wyfcoding/fixengine/xerrors"
)

// 连接角色，用于 fix_connections 指标.
const (
	RoleAcceptor  = "acceptor"
	RoleInitiator = "initiator"
)

// Conn 将 net.Conn 适配为 session.Responder.
type Conn struct {
	id           string
	nc           net.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	wmu    sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

func newConn(nc net.Conn, writeTimeout time.Duration, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:           id,
		nc:           nc,
		writeTimeout: writeTimeout,
		logger:       logger.With("conn", id, "remote", nc.RemoteAddr().String()),
		done:         make(chan struct{}),
	}
}

// ID 连接标识.
func (c *Conn) ID() string { return c.id }

// Send 写出完整报文，写超时后返回 TransportError.
func (c *Conn) Send(ctx context.Context, raw []byte) error {
	if c.closed.Load() {
		return xerrors.Transport("connection closed", net.ErrClosed)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline := time.Time{}
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return xerrors.Transport("set write deadline", err)
	}
	if _, err := c.nc.Write(raw); err != nil {
		return xerrors.Transport("write failed", err)
	}
	return nil
}

// Disconnect 关闭底层连接，可重复调用.
func (c *Conn) Disconnect() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.logger.Debug("connection closed")
	return c.nc.Close()
}

// Done 连接关闭后返回的 channel 被关闭.
func (c *Conn) Done() <-chan struct{} { return c.done }

// options 接受端与发起端共用.
type options struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	dict     *message.Dictionary
	dial     func(ctx context.Context, addr string) (net.Conn, error)
	maxSize  int
	wTimeout time.Duration
}

// Option 传输层选项.
type Option func(*options)

// WithLogger 设置日志.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics 采集连接数.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDictionary 接受端解析首条报文时使用的字典.
func WithDictionary(d *message.Dictionary) Option {
	return func(o *options) { o.dict = d }
}

// WithDialer 替换发起端的拨号函数.
func WithDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(o *options) { o.dial = dial }
}

// WithMaxMessageSize 单条报文上限.
func WithMaxMessageSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// WithWriteTimeout 写超时.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.wTimeout = d }
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:  slog.Default(),
		maxSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dial == nil {
		var d net.Dialer
		o.dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return o
}

func (o *options) connected(role string, delta float64) {
	if o.metrics != nil {
		o.metrics.Connections.WithLabelValues(role).Add(delta)
	}
}

// readLoop 持续读取报文交给会话，直到连接关闭或 ctx 结束. first 为已读出的首条报文.
func readLoop(ctx context.Context, c *Conn, f *Framer, s *session.Session, first []byte) {
	stop := context.AfterFunc(ctx, func() { _ = c.Disconnect() })
	defer stop()

	if first != nil {
		deliver(ctx, c, s, first)
	}
	for {
		raw, err := f.Next()
		if errors.Is(err, ErrGarbled) {
			c.logger.Warn("garbled frame skipped")
			continue
		}
		if err != nil {
			if !c.closed.Load() {
				c.logger.Info("read loop ended", "error", err)
			}
			break
		}
		if !deliver(ctx, c, s, raw) {
			break
		}
	}
	// 对端关闭或读错误，会话随之断开
	if err := disconnectIfCurrent(s, c); err != nil {
		c.logger.Warn("session disconnect failed", "error", err)
	}
	_ = c.Disconnect()
}

// deliver 返回 false 表示会话已不再绑定此连接.
func deliver(ctx context.Context, c *Conn, s *session.Session, raw []byte) bool {
	err := s.Receive(ctx, raw)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrNotConnected):
		return false
	default:
		c.logger.Debug("inbound message not applied", "error", err)
		return !c.closed.Load()
	}
}

func disconnectIfCurrent(s *session.Session, c *Conn) error {
	select {
	case <-c.done:
		// 会话已主动断开
		return nil
	default:
	}
	return s.Disconnect()
}
