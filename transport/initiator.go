package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/fixengine/retry"
	"github.com/wyfcoding/fixengine/session"
	"golang.org/x/sync/errgroup"
)

// DefaultReconnectInterval 断开后重连的默认间隔.
const DefaultReconnectInterval = 30 * time.Second

type target struct {
	s         *session.Session
	addr      string
	reconnect time.Duration
}

// Initiator 为每个发起方会话维持一条连接，断开后按退避策略重连.
type Initiator struct {
	mu      sync.Mutex
	targets []target
	opts    *options
	logger  *slog.Logger
}

// NewInitiator 创建发起端.
func NewInitiator(opts ...Option) *Initiator {
	o := newOptions(opts)
	return &Initiator{opts: o, logger: o.logger.With("component", "initiator")}
}

// Add 登记会话，reconnect 不大于 0 时使用 DefaultReconnectInterval. 须在 Run 之前调用.
func (i *Initiator) Add(s *session.Session, addr string, reconnect time.Duration) {
	if reconnect <= 0 {
		reconnect = DefaultReconnectInterval
	}
	i.mu.Lock()
	i.targets = append(i.targets, target{s: s, addr: addr, reconnect: reconnect})
	i.mu.Unlock()
}

// Run 阻塞直到 ctx 结束.
func (i *Initiator) Run(ctx context.Context) error {
	i.mu.Lock()
	targets := append([]target(nil), i.targets...)
	i.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			i.maintain(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

// maintain 拨号失败按指数退避重试，会话正常断开后等待固定间隔.
func (i *Initiator) maintain(ctx context.Context, t target) {
	logger := i.logger.With("session", t.s.ID().String(), "addr", t.addr)
	backoff := retry.NewBackoff(retry.Config{
		InitialBackoff: time.Second,
		MaxBackoff:     t.reconnect,
		Multiplier:     2.0,
		Jitter:         0.1,
	})

	for ctx.Err() == nil {
		wait, err := i.connectOnce(ctx, t, logger)
		switch {
		case err == nil:
			backoff.Reset()
		case errors.Is(err, session.ErrOutsideWindow):
			logger.Debug("outside session window")
		default:
			logger.Warn("connect failed", "error", err)
			wait = backoff.Next()
		}
		if retry.Wait(ctx, wait) != nil {
			return
		}
	}
}

// connectOnce 完成一次连接生命周期，返回下一次尝试前的等待时长.
func (i *Initiator) connectOnce(ctx context.Context, t target, logger *slog.Logger) (time.Duration, error) {
	if !t.s.Settings().Window.Contains(time.Now()) {
		return t.reconnect, session.ErrOutsideWindow
	}
	nc, err := i.opts.dial(ctx, t.addr)
	if err != nil {
		return 0, err
	}
	c := newConn(nc, i.opts.wTimeout, logger)
	if err := t.s.Connect(ctx, c); err != nil {
		_ = c.Disconnect()
		return t.reconnect, err
	}
	if err := t.s.Logon(ctx); err != nil {
		_ = t.s.Disconnect()
		return 0, err
	}

	c.logger.Info("session connected")
	i.opts.connected(RoleInitiator, 1)
	defer i.opts.connected(RoleInitiator, -1)
	readLoop(ctx, c, NewFramer(nc, i.opts.maxSize), t.s, nil)
	return t.reconnect, nil
}
