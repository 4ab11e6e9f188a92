package session

import (
	"context"
	"strconv"
	"time"

	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

// Send 发送业务报文，仅 Active 状态可用.
// 报文先被复制，调用方持有的实例不会被修改.
func (s *Session) Send(ctx context.Context, msg *message.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.State() != Active {
		return xerrors.NotLoggedOn(s.label)
	}
	return s.sendLocked(ctx, msg.Clone())
}

// Logon 发起方发送 Logon 并进入 LogonSent.
func (s *Session) Logon(ctx context.Context) error {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if !s.settings.Window.Contains(s.now()) {
		return ErrOutsideWindow
	}
	if s.currentResponder() == nil {
		return ErrNotConnected
	}
	if s.settings.ResetOnLogon {
		if err := s.resetStoreLocked(ctx); err != nil {
			return err
		}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if !s.machine.Can(EventSendLogon) {
		state := s.machine.Current()
		s.mu.Unlock()
		return xerrors.Sequence("cannot send Logon in state " + state.String())
	}
	s.resetSent = s.settings.ResetOnLogon
	s.logonSentAt = s.now()
	_ = s.machine.Trigger(ctx, EventSendLogon)
	s.mu.Unlock()

	return s.sendLocked(ctx, s.newLogon(s.settings.HeartBtInt, s.settings.ResetOnLogon))
}

func (s *Session) newLogon(hb time.Duration, reset bool) *message.Message {
	m := message.New(enum.MsgTypeLogon)
	m.Body.SetInt(tag.EncryptMethod, enum.EncryptMethodNone)
	m.Body.SetInt(tag.HeartBtInt, int(hb/time.Second))
	if reset {
		m.Body.SetBool(tag.ResetSeqNumFlag, true)
	}
	return m
}

// Logout 发送 Logout 并等待对端确认，超时由定时器断开.
// 进行中的重传会先被中断.
func (s *Session) Logout(ctx context.Context, text string) error {
	s.cancelResend()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.logoutLocked(ctx, text)
}

// logoutLocked 调用方持有 sendMu.
func (s *Session) logoutLocked(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.responder == nil || !s.machine.Can(EventInitiateLogout) {
		s.mu.Unlock()
		return nil
	}
	s.logoutInitiated = true
	s.logoutSentAt = s.now()
	_ = s.machine.Trigger(ctx, EventInitiateLogout)
	s.mu.Unlock()

	m := message.New(enum.MsgTypeLogout)
	if text != "" {
		m.Body.Set(tag.Text, text)
	}
	return s.sendLocked(ctx, m)
}

// logoutAndDisconnect 发送 Logout 后立即断开.
func (s *Session) logoutAndDisconnect(ctx context.Context, text string) {
	s.logger.WarnContext(ctx, "logging out", "reason", text)
	if err := s.Logout(ctx, text); err != nil {
		s.logger.WarnContext(ctx, "send logout failed", "error", err)
	}
	_ = s.Disconnect()
}

func (s *Session) cancelResend() {
	s.mu.Lock()
	if s.cancelReplay != nil {
		s.cancelReplay()
		s.cancelReplay = nil
	}
	s.mu.Unlock()
}

// sendAdmin 获取 sendMu 发送管理报文.
func (s *Session) sendAdmin(ctx context.Context, m *message.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendLocked(ctx, m)
}

// sendReject 回复会话层 Reject.
func (s *Session) sendReject(ctx context.Context, refSeq int, refType enum.MsgType, reason int, refTag tag.Tag, text string) error {
	m := message.New(enum.MsgTypeReject)
	m.Body.SetInt(tag.RefSeqNum, refSeq)
	if s.id.BeginString >= enum.BeginStringFIX42 {
		if refTag > 0 {
			m.Body.SetInt(tag.RefTagID, int(refTag))
		}
		if refType != "" {
			m.Body.Set(tag.RefMsgType, string(refType))
		}
		m.Body.SetInt(tag.SessionRejectReason, reason)
	}
	if text != "" {
		m.Body.Set(tag.Text, text)
	}
	s.logger.WarnContext(ctx, "rejecting message", "ref_seq", refSeq, "reason", reason, "ref_tag", int(refTag), "text", text)
	if s.metrics != nil {
		s.metrics.Rejects.WithLabelValues(s.label, strconv.Itoa(reason)).Inc()
	}
	return s.sendAdmin(ctx, m)
}

func (s *Session) stampHeader(m *message.Message, seq int, now time.Time) {
	h := m.Header
	h.Set(tag.BeginString, s.id.BeginString)
	h.Set(tag.SenderCompID, s.id.SenderCompID)
	h.Set(tag.TargetCompID, s.id.TargetCompID)
	h.SetInt(tag.MsgSeqNum, seq)
	h.SetUTCTimestamp(tag.SendingTime, now, s.settings.Precision)
}

// sendLocked 分配序列号、回调、持久化并写出，调用方持有 sendMu.
func (s *Session) sendLocked(ctx context.Context, m *message.Message) error {
	now := s.now()
	seq := s.store.NextSenderSeqNum()
	s.stampHeader(m, seq, now)
	if len(s.settings.PreferredFieldOrder) > 0 {
		m.Body.SetOrder(s.settings.PreferredFieldOrder...)
	}

	if m.IsAdmin() {
		s.app.ToAdmin(m, s.id)
	} else if err := s.app.ToApp(m, s.id); err != nil {
		return err
	}

	raw := message.Build(m)
	if err := s.store.StoreSent(ctx, seq, raw, now); err != nil {
		return s.storeFailure(ctx, err)
	}
	if err := s.store.IncrementSender(ctx); err != nil {
		return s.storeFailure(ctx, err)
	}
	s.observeSeqNums()
	return s.writeRaw(ctx, raw, m.MsgType(), now)
}

// writeRaw 写出已构建的字节，不涉及存储.
func (s *Session) writeRaw(ctx context.Context, raw []byte, msgType enum.MsgType, now time.Time) error {
	r := s.currentResponder()
	if r == nil {
		return xerrors.Transport("no connection", ErrNotConnected)
	}
	if err := r.Send(ctx, raw); err != nil {
		s.logger.ErrorContext(ctx, "transport write failed", "error", err)
		_ = s.Disconnect()
		return xerrors.Transport("write failed", err)
	}
	s.mu.Lock()
	s.lastSent = now
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(s.label, string(msgType)).Inc()
	}
	return nil
}

// storeFailure 存储失败时尽力发出 Logout 后强制断开.
func (s *Session) storeFailure(ctx context.Context, err error) error {
	s.logger.ErrorContext(ctx, "message store failure, disconnecting", "error", err)
	if r := s.currentResponder(); r != nil {
		m := message.New(enum.MsgTypeLogout)
		m.Body.Set(tag.Text, "message store failure")
		s.stampHeader(m, s.store.NextSenderSeqNum(), s.now())
		_ = r.Send(ctx, message.Build(m))
	}
	_ = s.Disconnect()
	if xerrors.Is(err, xerrors.ErrStore) {
		return err
	}
	return xerrors.Store("session", err)
}
