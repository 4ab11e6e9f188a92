package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/store"
	"github.com/wyfcoding/fixengine/tag"
)

var testID = message.SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}

// captureResponder 记录写出的报文.
type captureResponder struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (r *captureResponder) Send(_ context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("closed")
	}
	r.sent = append(r.sent, append([]byte(nil), raw...))
	return nil
}

func (r *captureResponder) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *captureResponder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *captureResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *captureResponder) messages(t *testing.T) []*message.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*message.Message, 0, len(r.sent))
	for _, raw := range r.sent {
		m, err := message.Parse(raw, nil)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (r *captureResponder) last(t *testing.T) *message.Message {
	t.Helper()
	msgs := r.messages(t)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

// recordingApp 记录回调.
type recordingApp struct {
	NopApplication
	mu       sync.Mutex
	fromApp  []*message.Message
	logons   int
	logouts  int
	appErr   error
	adminErr error
}

func (a *recordingApp) OnLogon(message.SessionID) {
	a.mu.Lock()
	a.logons++
	a.mu.Unlock()
}

func (a *recordingApp) OnLogout(message.SessionID) {
	a.mu.Lock()
	a.logouts++
	a.mu.Unlock()
}

func (a *recordingApp) FromAdmin(msg *message.Message, _ message.SessionID) error {
	if msg.MsgType() == enum.MsgTypeLogon {
		return a.adminErr
	}
	return nil
}

func (a *recordingApp) FromApp(msg *message.Message, _ message.SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fromApp = append(a.fromApp, msg)
	return a.appErr
}

func (a *recordingApp) received() []*message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*message.Message(nil), a.fromApp...)
}

// clock 可手动推进的时钟.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// fixture 本端为 A，对端为 B.
type fixture struct {
	s     *Session
	r     *captureResponder
	app   *recordingApp
	store store.MessageStore
	clock *clock
}

func testSettings() Settings {
	st := DefaultSettings()
	st.HeartBtInt = 30 * time.Second
	return st
}

func newFixture(t *testing.T, st Settings, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, st, store.NewMemoryStore(), opts...)
}

func newFixtureWithStore(t *testing.T, st Settings, ms store.MessageStore, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{r: &captureResponder{}, app: &recordingApp{}, store: ms, clock: newClock()}
	opts = append([]Option{
		WithLogger(logging.NewDiscard()),
		WithClock(f.clock.Now),
		WithTimerInterval(time.Hour),
	}, opts...)
	f.s = New(testID, st, ms, f.app, opts...)
	require.NoError(t, f.s.Connect(context.Background(), f.r))
	t.Cleanup(func() { _ = f.s.Disconnect() })
	return f
}

// inbound 构造对端 B 发来的报文.
func (f *fixture) inbound(msgType enum.MsgType, seq int, fill func(m *message.Message)) []byte {
	m := message.New(msgType)
	m.Header.Set(tag.BeginString, testID.BeginString)
	m.Header.Set(tag.SenderCompID, testID.TargetCompID)
	m.Header.Set(tag.TargetCompID, testID.SenderCompID)
	m.Header.SetInt(tag.MsgSeqNum, seq)
	m.Header.SetUTCTimestamp(tag.SendingTime, f.clock.Now(), field.Millis)
	if fill != nil {
		fill(m)
	}
	return message.Build(m)
}

func (f *fixture) receive(t *testing.T, msgType enum.MsgType, seq int, fill func(m *message.Message)) error {
	t.Helper()
	return f.s.Receive(context.Background(), f.inbound(msgType, seq, fill))
}

func logonBody(hb int) func(m *message.Message) {
	return func(m *message.Message) {
		m.Body.SetInt(tag.EncryptMethod, 0)
		m.Body.SetInt(tag.HeartBtInt, hb)
	}
}

func order(id string) func(m *message.Message) {
	return func(m *message.Message) {
		m.Body.Set(tag.ClOrdID, id)
		m.Body.Set(tag.Symbol, "IBM")
	}
}

// possDup 标记重传并设置 OrigSendingTime.
func possDup(fill func(m *message.Message)) func(m *message.Message) {
	return func(m *message.Message) {
		if fill != nil {
			fill(m)
		}
		m.Header.SetBool(tag.PossDupFlag, true)
		sent, _ := m.Header.Get(tag.SendingTime)
		m.Header.Set(tag.OrigSendingTime, sent)
	}
}

// acceptLogon 以接受方完成登录，之后期望入站序列号为 2.
func (f *fixture) acceptLogon(t *testing.T) {
	t.Helper()
	require.NoError(t, f.receive(t, enum.MsgTypeLogon, 1, logonBody(30)))
	require.Equal(t, Active, f.s.State())
}

func body(t *testing.T, m *message.Message, tg tag.Tag) string {
	t.Helper()
	v, ok := m.Body.Get(tg)
	require.True(t, ok, "tag %d missing in %s", tg, m)
	return v
}

func header(t *testing.T, m *message.Message, tg tag.Tag) string {
	t.Helper()
	v, ok := m.Header.Get(tg)
	require.True(t, ok, "tag %d missing in %s", tg, m)
	return v
}
