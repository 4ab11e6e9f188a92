package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/session"
	"github.com/wyfcoding/fixengine/worker"
	"golang.org/x/sync/errgroup"
)

// Acceptor 监听端口，按首条报文的 CompID 把连接绑定到注册表中的接受方会话.
type Acceptor struct {
	registry *session.Registry
	pool     *worker.Pool
	opts     *options
	logger   *slog.Logger
}

// NewAcceptor pool 决定可同时服务的连接数.
func NewAcceptor(reg *session.Registry, pool *worker.Pool, opts ...Option) *Acceptor {
	o := newOptions(opts)
	return &Acceptor{
		registry: reg,
		pool:     pool,
		opts:     o,
		logger:   o.logger.With("component", "acceptor"),
	}
}

// ListenAndServe 监听 addr 直到 ctx 结束.
func (a *Acceptor) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve 在 ln 上接受连接，ctx 结束时关闭 ln 并返回 nil.
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("acceptor listening", "addr", ln.Addr().String())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			nc, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				a.logger.Warn("accept failed", "error", err)
				continue
			}
			if err := a.pool.TrySubmit(func(pctx context.Context) {
				cctx, cancel := context.WithCancel(ctx)
				defer cancel()
				stop := context.AfterFunc(pctx, cancel)
				defer stop()
				a.ServeConn(cctx, nc)
			}); err != nil {
				a.logger.Warn("connection rejected", "remote", nc.RemoteAddr().String(), "error", err)
				_ = nc.Close()
			}
		}
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// ServeConn 处理单个入站连接直到断开.
func (a *Acceptor) ServeConn(ctx context.Context, nc net.Conn) {
	c := newConn(nc, a.opts.wTimeout, a.logger)
	f := NewFramer(nc, a.opts.maxSize)

	s, first, err := a.identify(c, f)
	if err != nil {
		c.logger.Warn("connection refused", "error", err)
		_ = c.Disconnect()
		return
	}
	if err := s.Connect(ctx, c); err != nil {
		c.logger.Warn("session connect refused", "session", s.ID().String(), "error", err)
		_ = c.Disconnect()
		return
	}

	c.logger.Info("session connected", "session", s.ID().String())
	a.opts.connected(RoleAcceptor, 1)
	defer a.opts.connected(RoleAcceptor, -1)
	readLoop(ctx, c, f, s, first)
}

// identify 在 Logon 超时内读取首条报文并查找会话.
func (a *Acceptor) identify(c *Conn, f *Framer) (*session.Session, []byte, error) {
	timeout := session.DefaultLogonTimeout
	_ = c.nc.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = c.nc.SetReadDeadline(time.Time{}) }()

	var raw []byte
	for {
		var err error
		raw, err = f.Next()
		if errors.Is(err, ErrGarbled) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read first message: %w", err)
		}
		break
	}
	msg, err := message.Parse(raw, a.opts.dict)
	if msg == nil {
		return nil, nil, fmt.Errorf("parse first message: %w", err)
	}
	id := msg.ReverseSessionID()
	s, ok := a.registry.Lookup(id)
	if !ok {
		return nil, nil, fmt.Errorf("unknown session %s", id)
	}
	if s.Settings().Initiator {
		return nil, nil, fmt.Errorf("session %s is not an acceptor", id)
	}
	return s, raw, nil
}
