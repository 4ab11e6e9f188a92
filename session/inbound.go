package session

import (
	"context"
	"time"

	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

const maxSkippedRanges = 64

// criticalTags 出错时无法安全回复 Reject，只能登出.
var criticalTags = map[tag.Tag]struct{}{
	tag.BeginString:  {},
	tag.BodyLength:   {},
	tag.MsgType:      {},
	tag.SenderCompID: {},
	tag.TargetCompID: {},
	tag.MsgSeqNum:    {},
}

// Receive 处理一条完整的入站报文.
// 返回的错误仅用于记录，协议层面的处理 (Reject、Logout、断开) 已在内部完成.
func (s *Session) Receive(ctx context.Context, raw []byte) error {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if s.currentResponder() == nil {
		return ErrNotConnected
	}
	now := s.now()
	msg, err := message.Parse(raw, s.dict)
	if err != nil {
		return s.handleParseError(ctx, msg, err, now)
	}
	msg.ReceiveTime = now
	s.touchReceived(now)
	if s.metrics != nil {
		s.metrics.MessagesReceived.WithLabelValues(s.label, string(msg.MsgType())).Inc()
	}

	err = s.process(ctx, msg)
	if derr := s.drain(ctx); derr != nil && err == nil {
		err = derr
	}
	return err
}

func (s *Session) touchReceived(now time.Time) {
	s.mu.Lock()
	s.lastReceived = now
	s.mu.Unlock()
}

// handleParseError 校验和与长度错误静默丢弃；关键头部字段错误登出；其余回复 Reject.
func (s *Session) handleParseError(ctx context.Context, msg *message.Message, err error, now time.Time) error {
	e, _ := xerrors.FromError(err)
	if msg == nil || (e != nil && e.Discardable()) {
		reason := "garbled"
		if e != nil {
			switch e.Type {
			case xerrors.ErrChecksum:
				reason = "checksum"
			case xerrors.ErrLengthMismatch:
				reason = "length"
			}
		}
		s.countDropped(reason)
		s.logger.WarnContext(ctx, "discarding inbound message", "reason", reason, "error", err)
		return err
	}

	msg.ReceiveTime = now
	s.touchReceived(now)
	code, ref, text := rejectCode(err)
	seq, serr := msg.SeqNum()
	_, critical := criticalTags[ref]
	if serr != nil || critical || !s.State().LoggedOn() {
		s.logoutAndDisconnect(ctx, text)
		return err
	}

	expected := s.store.NextTargetSeqNum()
	if rerr := s.sendReject(ctx, seq, msg.MsgType(), code, ref, text); rerr != nil {
		return rerr
	}
	if seq == expected {
		if aerr := s.advance(ctx); aerr != nil {
			return aerr
		}
		if derr := s.drain(ctx); derr != nil {
			return derr
		}
	}
	return err
}

// process 对一条已解析的报文执行状态门控、头部校验与序列号判定.
func (s *Session) process(ctx context.Context, msg *message.Message) error {
	seq, err := msg.SeqNum()
	if err != nil {
		s.logoutAndDisconnect(ctx, "MsgSeqNum missing or invalid")
		return xerrors.Sequence("MsgSeqNum missing or invalid")
	}
	msgType := msg.MsgType()

	switch state := s.State(); {
	case state == Disconnected && msgType != enum.MsgTypeLogon:
		s.logger.WarnContext(ctx, "first message is not Logon, disconnecting", "msg_type", string(msgType))
		_ = s.Disconnect()
		return xerrors.Sequence("first message must be Logon")
	case state == LogonSent && msgType != enum.MsgTypeLogon && msgType != enum.MsgTypeLogout:
		s.logger.WarnContext(ctx, "expected Logon response, disconnecting", "msg_type", string(msgType))
		_ = s.Disconnect()
		return xerrors.Sequence("expected Logon response")
	}

	if msgType == enum.MsgTypeLogon {
		return s.handleLogon(ctx, msg, seq)
	}
	if ok, verr := s.verifyHeader(ctx, msg, seq); !ok {
		return verr
	}

	if msgType == enum.MsgTypeSequenceReset {
		if gapFill, _ := msg.Body.GetBool(tag.GapFillFlag); !gapFill {
			return s.handleSequenceReset(ctx, msg, seq)
		}
	}

	expected := s.store.NextTargetSeqNum()
	switch {
	case seq > expected && msgType != enum.MsgTypeLogout:
		return s.onGap(ctx, msg, seq, expected)
	case seq < expected:
		if !msg.PossDup() {
			serr := xerrors.SequenceTooLow(expected, seq)
			s.logoutAndDisconnect(ctx, serr.Message)
			return serr
		}
		if !s.neverSeen(seq) {
			s.logger.DebugContext(ctx, "ignoring duplicate", "seq", seq, "expected", expected)
			return nil
		}
		s.processed[seq] = struct{}{}
		return s.dispatch(ctx, msg, seq, false)
	}
	return s.dispatch(ctx, msg, seq, seq == expected)
}

// verifyHeader 返回 false 时报文已被拒绝或会话已登出.
func (s *Session) verifyHeader(ctx context.Context, msg *message.Message, seq int) (bool, error) {
	h := msg.Header
	msgType := msg.MsgType()

	if begin, _ := h.Get(tag.BeginString); begin != s.id.BeginString {
		s.logoutAndDisconnect(ctx, "Incorrect BeginString")
		return false, xerrors.MessageParse(enum.RejectValueIsIncorrect, int(tag.BeginString), "incorrect BeginString")
	}

	sender, _ := h.Get(tag.SenderCompID)
	target, _ := h.Get(tag.TargetCompID)
	if sender != s.id.TargetCompID || target != s.id.SenderCompID {
		ref := tag.SenderCompID
		if sender == s.id.TargetCompID {
			ref = tag.TargetCompID
		}
		_ = s.sendReject(ctx, seq, msgType, enum.RejectCompIDProblem, ref, "CompID problem")
		s.logoutAndDisconnect(ctx, "CompID problem")
		return false, xerrors.MessageParse(enum.RejectCompIDProblem, int(ref), "CompID problem")
	}

	sendingTime, err := h.GetUTCTimestamp(tag.SendingTime)
	if err != nil {
		return false, s.rejectField(ctx, msg, seq, err, tag.SendingTime)
	}
	if s.settings.CheckLatency {
		d := msg.ReceiveTime.Sub(sendingTime)
		if d < 0 {
			d = -d
		}
		if d > s.settings.MaxLatency {
			_ = s.sendReject(ctx, seq, msgType, enum.RejectSendingTimeAccuracyProblem, tag.SendingTime,
				"SendingTime accuracy problem")
			_ = s.Logout(ctx, "SendingTime accuracy problem")
			return false, xerrors.MessageParse(enum.RejectSendingTimeAccuracyProblem, int(tag.SendingTime),
				"SendingTime accuracy problem")
		}
	}

	if msg.PossDup() && msgType != enum.MsgTypeSequenceReset {
		orig, err := h.GetUTCTimestamp(tag.OrigSendingTime)
		if err != nil {
			return false, s.rejectField(ctx, msg, seq, err, tag.OrigSendingTime)
		}
		if orig.After(sendingTime) {
			_ = s.sendReject(ctx, seq, msgType, enum.RejectSendingTimeAccuracyProblem, tag.OrigSendingTime,
				"OrigSendingTime later than SendingTime")
			_ = s.Logout(ctx, "SendingTime accuracy problem")
			return false, xerrors.MessageParse(enum.RejectSendingTimeAccuracyProblem, int(tag.OrigSendingTime),
				"OrigSendingTime later than SendingTime")
		}
	}
	return true, nil
}

// dispatch 按类型处理报文，advance 为 true 时处理后递增期望序列号.
func (s *Session) dispatch(ctx context.Context, msg *message.Message, seq int, advance bool) error {
	var cbErr error
	switch msg.MsgType() {
	case enum.MsgTypeHeartbeat:
		if id, ok := msg.Body.Get(tag.TestReqID); ok {
			s.mu.Lock()
			if s.testReqID == id {
				s.testReqID = ""
			}
			s.mu.Unlock()
		}
		cbErr = s.app.FromAdmin(msg, s.id)

	case enum.MsgTypeTestRequest:
		id, err := msg.Body.GetString(tag.TestReqID)
		if err != nil {
			return s.rejectField(ctx, msg, seq, err, tag.TestReqID)
		}
		if cbErr = s.app.FromAdmin(msg, s.id); cbErr == nil {
			hb := message.New(enum.MsgTypeHeartbeat)
			hb.Body.Set(tag.TestReqID, id)
			if err := s.sendAdmin(ctx, hb); err != nil {
				return err
			}
		}

	case enum.MsgTypeResendRequest:
		if cbErr = s.app.FromAdmin(msg, s.id); cbErr == nil {
			if err := s.handleResendRequest(ctx, msg, seq); err != nil {
				return err
			}
		}

	case enum.MsgTypeSequenceReset:
		return s.handleGapFill(ctx, msg, seq, advance)

	case enum.MsgTypeLogout:
		return s.handleLogout(ctx, msg, advance)

	case enum.MsgTypeReject:
		cbErr = s.app.FromAdmin(msg, s.id)

	default:
		cbErr = s.app.FromApp(msg, s.id)
	}

	if cbErr != nil {
		code, ref, text := rejectCode(cbErr)
		if err := s.sendReject(ctx, seq, msg.MsgType(), code, ref, text); err != nil {
			return err
		}
	}
	if advance {
		return s.advance(ctx)
	}
	return nil
}

// handleLogon 处理 Logon: 接受方校验并回复，发起方完成握手.
func (s *Session) handleLogon(ctx context.Context, msg *message.Message, seq int) error {
	state := s.State()
	switch {
	case state == Disconnected && s.settings.Initiator:
		_ = s.Disconnect()
		return xerrors.Sequence("unexpected Logon on initiator")
	case state == Disconnected:
		s.mu.Lock()
		s.logonSentAt = s.now()
		s.mu.Unlock()
		s.trigger(ctx, EventReceiveLogon)
	case state != LogonSent:
		s.logoutAndDisconnect(ctx, "unexpected Logon")
		return xerrors.Sequence("unexpected Logon in state " + state.String())
	}
	acceptor := state == Disconnected

	if ok, err := s.verifyHeader(ctx, msg, seq); !ok {
		s.logoutAndDisconnect(ctx, "invalid Logon")
		return err
	}
	if !s.settings.Window.Contains(s.now()) {
		s.logoutAndDisconnect(ctx, "outside session time")
		return ErrOutsideWindow
	}
	hbSecs, err := msg.Body.GetInt(tag.HeartBtInt)
	if err != nil || hbSecs < 0 {
		s.logoutAndDisconnect(ctx, "invalid HeartBtInt")
		return xerrors.MessageParse(enum.RejectValueIsIncorrect, int(tag.HeartBtInt), "invalid HeartBtInt")
	}
	reset, _ := msg.Body.GetBool(tag.ResetSeqNumFlag)

	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.logger.WarnContext(ctx, "logon rejected by application", "error", err)
		s.logoutAndDisconnect(ctx, err.Error())
		return err
	}

	if acceptor {
		if reset || s.settings.ResetOnLogon {
			if err := s.resetStoreLocked(ctx); err != nil {
				return err
			}
		}
	} else if reset && !s.sentReset() {
		if err := s.store.SetTargetSeqNum(ctx, 1); err != nil {
			return s.storeFailure(ctx, err)
		}
	}

	expected := s.store.NextTargetSeqNum()
	if seq < expected {
		serr := xerrors.SequenceTooLow(expected, seq)
		s.logoutAndDisconnect(ctx, serr.Message)
		return serr
	}

	if acceptor {
		hb := time.Duration(hbSecs) * time.Second
		s.mu.Lock()
		s.heartBtInt = hb
		s.mu.Unlock()
		if err := s.sendAdmin(ctx, s.newLogon(hb, reset)); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.loggedOn = true
	s.mu.Unlock()
	s.trigger(ctx, EventLogonAccepted)
	s.logger.InfoContext(ctx, "logon complete", "heartbeat_interval", hbSecs, "reset", reset)
	s.app.OnLogon(s.id)

	if seq == expected {
		return s.advance(ctx)
	}
	end := seq
	if s.settings.GapPolicy == GapQueue {
		// Logon 本身已处理，补齐后按占位项递增
		s.queue.Set(seq, nil)
		end = seq - 1
	}
	return s.requestResend(ctx, expected, end)
}

func (s *Session) sentReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetSent
}

// handleLogout 对端发起时回复 Logout，随后断开.
func (s *Session) handleLogout(ctx context.Context, msg *message.Message, advance bool) error {
	_ = s.app.FromAdmin(msg, s.id)
	if advance {
		if err := s.advance(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	initiated := s.logoutInitiated
	state := s.machine.Current()
	s.mu.Unlock()

	text, _ := msg.Body.Get(tag.Text)
	switch {
	case initiated:
		s.logger.InfoContext(ctx, "logout confirmed")
	case state == LogonSent:
		s.logger.WarnContext(ctx, "logon refused by counterparty", "text", text)
	default:
		s.logger.InfoContext(ctx, "counterparty logged out", "text", text)
		if err := s.Logout(ctx, ""); err != nil {
			s.logger.WarnContext(ctx, "logout reply failed", "error", err)
		}
	}
	_ = s.Disconnect()

	if s.settings.ResetOnLogout {
		return s.resetStoreLocked(ctx)
	}
	return nil
}

// handleGapFill NewSeqNo 不小于期望值时直接跳到 NewSeqNo，更小视为过期.
func (s *Session) handleGapFill(ctx context.Context, msg *message.Message, seq int, advance bool) error {
	newSeq, err := msg.Body.GetInt(tag.NewSeqNo)
	if err != nil {
		return s.rejectField(ctx, msg, seq, err, tag.NewSeqNo)
	}
	_ = s.app.FromAdmin(msg, s.id)

	expected := s.store.NextTargetSeqNum()
	if newSeq <= expected {
		s.logger.DebugContext(ctx, "ignoring stale gap fill", "seq", seq, "new_seq_no", newSeq, "expected", expected)
		if advance {
			return s.advance(ctx)
		}
		return nil
	}

	if lo := max(seq+1, expected); lo < newSeq {
		s.skipped = append(s.skipped, ResendRange{Begin: lo, End: newSeq - 1})
		if n := len(s.skipped); n > maxSkippedRanges {
			s.skipped = s.skipped[n-maxSkippedRanges:]
		}
	}
	s.logger.DebugContext(ctx, "gap fill", "seq", seq, "new_seq_no", newSeq)
	return s.setTarget(ctx, newSeq)
}

// handleSequenceReset Reset 模式不检查 MsgSeqNum.
func (s *Session) handleSequenceReset(ctx context.Context, msg *message.Message, seq int) error {
	newSeq, err := msg.Body.GetInt(tag.NewSeqNo)
	if err != nil {
		return s.rejectField(ctx, msg, seq, err, tag.NewSeqNo)
	}
	_ = s.app.FromAdmin(msg, s.id)

	expected := s.store.NextTargetSeqNum()
	switch {
	case newSeq > expected:
		s.logger.InfoContext(ctx, "sequence reset", "new_seq_no", newSeq, "expected", expected)
		return s.setTarget(ctx, newSeq)
	case newSeq == expected:
		s.logger.WarnContext(ctx, "sequence reset to current expected value", "new_seq_no", newSeq)
		return nil
	default:
		return s.sendReject(ctx, seq, msg.MsgType(), enum.RejectValueIsIncorrect, tag.NewSeqNo,
			"NewSeqNo lower than expected")
	}
}

// onGap 超前报文: 按策略缓存或丢弃，并为尚未请求的区间发出 ResendRequest.
func (s *Session) onGap(ctx context.Context, msg *message.Message, seq, expected int) error {
	begin, end := expected, seq-1
	if s.settings.GapPolicy == GapQueue {
		s.queue.Set(seq, msg)
	} else {
		end = seq
		s.countDropped("gap")
	}

	s.mu.Lock()
	if rr := s.resendRange; rr != nil && rr.End >= begin {
		begin = rr.End + 1
	}
	s.mu.Unlock()
	for begin <= end {
		if _, queued := s.queue.Get(begin); !queued {
			break
		}
		begin++
	}
	if begin > end {
		s.logger.DebugContext(ctx, "gap already requested", "seq", seq, "expected", expected)
		return nil
	}
	return s.requestResend(ctx, begin, end)
}

// drain 按序处理缓存中已到期的报文.
func (s *Session) drain(ctx context.Context) error {
	for s.currentResponder() != nil {
		seq, m, ok := s.queue.Min()
		if !ok {
			return nil
		}
		expected := s.store.NextTargetSeqNum()
		if seq > expected {
			return nil
		}
		s.queue.Delete(seq)
		if seq < expected {
			continue
		}
		if m == nil {
			if err := s.advance(ctx); err != nil {
				return err
			}
			continue
		}
		if err := s.process(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "queued message failed", "seq", seq, "error", err)
		}
	}
	return nil
}

func (s *Session) neverSeen(seq int) bool {
	if _, done := s.processed[seq]; done {
		return false
	}
	for _, r := range s.skipped {
		if seq >= r.Begin && seq <= r.End {
			return true
		}
	}
	return false
}

// advance 期望序列号加一.
func (s *Session) advance(ctx context.Context) error {
	if err := s.store.IncrementTarget(ctx); err != nil {
		return s.storeFailure(ctx, err)
	}
	s.targetChanged(ctx)
	return nil
}

func (s *Session) setTarget(ctx context.Context, n int) error {
	if err := s.store.SetTargetSeqNum(ctx, n); err != nil {
		return s.storeFailure(ctx, err)
	}
	s.targetChanged(ctx)
	return nil
}

func (s *Session) targetChanged(ctx context.Context) {
	next := s.store.NextTargetSeqNum()
	s.mu.Lock()
	if rr := s.resendRange; rr != nil && next > rr.End {
		s.resendRange = nil
		s.logger.InfoContext(ctx, "resend complete", "begin", rr.Begin, "end", rr.End)
	}
	s.mu.Unlock()
	s.observeSeqNums()
}

// rejectField 回复字段错误，报文序列号等于期望值时照常递增.
func (s *Session) rejectField(ctx context.Context, msg *message.Message, seq int, err error, t tag.Tag) error {
	code, ref, text := rejectCode(err)
	if ref == 0 {
		ref = t
	}
	if rerr := s.sendReject(ctx, seq, msg.MsgType(), code, ref, text); rerr != nil {
		return rerr
	}
	if seq == s.store.NextTargetSeqNum() {
		if aerr := s.advance(ctx); aerr != nil {
			return aerr
		}
	}
	return err
}

// rejectCode 从错误中取出 SessionRejectReason、引用字段与文本.
func rejectCode(err error) (int, tag.Tag, string) {
	e, ok := xerrors.FromError(err)
	if !ok {
		return enum.RejectOther, 0, err.Error()
	}
	code := enum.RejectOther
	switch e.Type {
	case xerrors.ErrFieldConversion, xerrors.ErrMessageParse, xerrors.ErrNotFound:
		if e.Code >= 0 && e.Code <= enum.RejectOther {
			code = e.Code
		}
	}
	return code, tag.Tag(e.RefTag), e.Message
}
