// Package session 实现 FIX 会话层状态机: 登录握手、心跳、缺口检测、重传恢复与登出.
//
// 锁顺序固定为 recvMu -> sendMu -> mu. recvMu 串行化入站处理，sendMu 保证序列号分配与写出顺序一致，
// mu 保护会话瞬时状态；持有 mu 时不做任何传输 I/O.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"golang.org/x/time/rate"

	"github.com/wyfcoding/fixengine/fsm"
	"github.com/wyfcoding/fixengine/idgen"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/store"
)

var (
	// ErrAlreadyConnected 会话已绑定连接.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrNotConnected 会话未绑定连接.
	ErrNotConnected = errors.New("session not connected")
	// ErrOutsideWindow 当前时刻不在会话时间窗口内.
	ErrOutsideWindow = errors.New("outside session time window")
)

const defaultTimerInterval = time.Second

// ResendRange 已请求但尚未补齐的入站序列号区间.
type ResendRange struct {
	Begin int
	End   int
}

// Snapshot 会话状态快照.
type Snapshot struct {
	State            State
	NextSenderSeqNum int
	NextTargetSeqNum int
	LastSent         time.Time
	LastReceived     time.Time
	HeartBtInt       time.Duration
	Resending        bool
	ResendRange      *ResendRange
}

// Option 会话可选项.
type Option func(*Session)

// WithLogger 设置日志.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l.Logger
		}
	}
}

// WithMetrics 设置指标.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithDictionary 设置解析入站报文使用的字典.
func WithDictionary(d *message.Dictionary) Option {
	return func(s *Session) { s.dict = d }
}

// WithIDGenerator 设置 TestReqID 生成器.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Session) { s.ids = g }
}

// WithClock 替换时钟，测试使用.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTimerInterval 设置心跳检查周期.
func WithTimerInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tick = d
		}
	}
}

// Session 单个 SessionID 的协议状态机.
type Session struct {
	id       message.SessionID
	settings Settings
	store    store.MessageStore
	app      Application
	dict     *message.Dictionary
	logger   *slog.Logger
	metrics  *metrics.Metrics
	ids      idgen.Generator
	now      func() time.Time
	tick     time.Duration
	limiter  *rate.Limiter
	label    string

	recvMu sync.Mutex
	sendMu sync.Mutex
	mu     sync.Mutex

	machine *fsm.Machine[State, Event]

	// 以下由 mu 保护
	responder       Responder
	heartBtInt      time.Duration
	lastSent        time.Time
	lastReceived    time.Time
	testReqID       string
	testReqAt       time.Time
	logonSentAt     time.Time
	logoutSentAt    time.Time
	logoutInitiated bool
	resetSent       bool
	loggedOn        bool
	resendRange     *ResendRange
	cancelReplay    context.CancelFunc
	stopTimer       context.CancelFunc

	// 以下由 recvMu 保护
	queue     btree.Map[int, *message.Message]
	skipped   []ResendRange
	processed map[int]struct{}
}

// New 创建会话并回调 OnCreate.
func New(id message.SessionID, st Settings, ms store.MessageStore, app Application, opts ...Option) *Session {
	if app == nil {
		app = NopApplication{}
	}
	s := &Session{
		id:         id,
		settings:   st,
		store:      ms,
		app:        app,
		dict:       message.DefaultDictionary(),
		logger:     logging.Default().Logger,
		now:        time.Now,
		tick:       defaultTimerInterval,
		label:      id.String(),
		machine:    newMachine(),
		heartBtInt: st.HeartBtInt,
		processed:  make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("session", s.label))
	if st.ResendRateLimit > 0 {
		burst := max(int(st.ResendRateLimit), 1)
		s.limiter = rate.NewLimiter(rate.Limit(st.ResendRateLimit), burst)
	}
	s.machine.Observe(func(ctx context.Context, from, to State, ev Event) {
		s.logger.InfoContext(ctx, "session state changed", "from", from, "to", to, "event", ev)
		if s.metrics != nil {
			s.metrics.SessionState.WithLabelValues(s.label).Set(float64(to))
		}
	})
	app.OnCreate(id)
	return s
}

// ID 返回会话标识.
func (s *Session) ID() message.SessionID { return s.id }

// Settings 返回会话参数.
func (s *Session) Settings() Settings { return s.settings }

// Store 返回底层存储.
func (s *Session) Store() store.MessageStore { return s.store }

// State 返回当前协议状态.
func (s *Session) State() State { return s.machine.Current() }

// Snapshot 返回当前状态快照.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:            s.machine.Current(),
		NextSenderSeqNum: s.store.NextSenderSeqNum(),
		NextTargetSeqNum: s.store.NextTargetSeqNum(),
		LastSent:         s.lastSent,
		LastReceived:     s.lastReceived,
		HeartBtInt:       s.heartBtInt,
		Resending:        s.resendRange != nil,
	}
	if s.resendRange != nil {
		rr := *s.resendRange
		snap.ResendRange = &rr
	}
	return snap
}

// Connect 绑定传输连接并启动心跳定时器.
// 若存储创建于当前时间窗口开始之前，先重置存储.
func (s *Session) Connect(ctx context.Context, r Responder) error {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	now := s.now()
	if !s.settings.Window.Contains(now) {
		return ErrOutsideWindow
	}
	if s.settings.Window.NeedsReset(s.store.CreationTime(), now) {
		s.logger.InfoContext(ctx, "new session window, resetting store")
		if err := s.resetStoreLocked(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.responder != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.responder = r
	s.lastSent = now
	s.lastReceived = now
	s.heartBtInt = s.settings.HeartBtInt
	timerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopTimer = cancel
	s.mu.Unlock()

	s.clearInbound()
	if err := s.store.Refresh(ctx); err != nil {
		_ = s.Disconnect()
		return err
	}
	go s.runTimer(timerCtx)
	return nil
}

// Connected 报告是否已绑定连接.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responder != nil
}

// Disconnect 断开连接并回到 Disconnected，可重复调用.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	r := s.responder
	state := s.machine.Current()
	if r == nil && state == Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.responder = nil
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	if s.cancelReplay != nil {
		s.cancelReplay()
		s.cancelReplay = nil
	}
	if state != Disconnected {
		_ = s.machine.Trigger(context.Background(), EventDisconnect)
	}
	wasLoggedOn := s.loggedOn
	s.loggedOn = false
	s.testReqID = ""
	s.logoutInitiated = false
	s.resetSent = false
	s.resendRange = nil
	s.heartBtInt = s.settings.HeartBtInt
	s.mu.Unlock()

	var err error
	if r != nil {
		err = r.Disconnect()
	}
	if wasLoggedOn {
		s.app.OnLogout(s.id)
	}
	if s.settings.ResetOnDisconnect {
		if rerr := s.store.Reset(context.Background()); rerr != nil {
			s.logger.Error("reset on disconnect failed", "error", rerr)
		}
	}
	return err
}

// Reset 登出并断开当前连接后重置两个序列号与已发送日志.
func (s *Session) Reset(ctx context.Context) error {
	if s.State() != Disconnected {
		if err := s.Logout(ctx, "session reset"); err != nil {
			s.logger.WarnContext(ctx, "logout before reset failed", "error", err)
		}
		_ = s.Disconnect()
	}
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	return s.resetStoreLocked(ctx)
}

// resetStoreLocked 调用方持有 recvMu.
func (s *Session) resetStoreLocked(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.clearInbound()
	s.mu.Lock()
	s.resendRange = nil
	s.mu.Unlock()
	s.observeSeqNums()
	return nil
}

// clearInbound 调用方持有 recvMu.
func (s *Session) clearInbound() {
	s.queue.Clear()
	s.skipped = nil
	clear(s.processed)
}

// Close 释放存储.
func (s *Session) Close() error {
	_ = s.Disconnect()
	return s.store.Close()
}

func (s *Session) currentResponder() Responder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responder
}

func (s *Session) trigger(ctx context.Context, ev Event) {
	if err := s.machine.Trigger(ctx, ev); err != nil {
		s.logger.DebugContext(ctx, "ignored state event", "event", ev, "error", err)
	}
}

func (s *Session) observeSeqNums() {
	if s.metrics == nil {
		return
	}
	s.metrics.SeqNum.WithLabelValues(s.label, "sender").Set(float64(s.store.NextSenderSeqNum()))
	s.metrics.SeqNum.WithLabelValues(s.label, "target").Set(float64(s.store.NextTargetSeqNum()))
}

func (s *Session) countDropped(reason string) {
	if s.metrics != nil {
		s.metrics.MessagesDropped.WithLabelValues(s.label, reason).Inc()
	}
}
