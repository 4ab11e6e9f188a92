package session

import (
	"context"

	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/tag"
)

// handleResendRequest 校验区间后在后台回放，调用方持有 recvMu.
// sendMu 在此获取并移交给回放 goroutine，回放结束时释放，
// 期间其他发送被阻塞，线路顺序与序列号顺序保持一致.
func (s *Session) handleResendRequest(ctx context.Context, msg *message.Message, seq int) error {
	begin, err := msg.Body.GetInt(tag.BeginSeqNo)
	if err != nil {
		return s.rejectField(ctx, msg, seq, err, tag.BeginSeqNo)
	}
	end, err := msg.Body.GetInt(tag.EndSeqNo)
	if err != nil {
		return s.rejectField(ctx, msg, seq, err, tag.EndSeqNo)
	}
	if begin < 1 || end < 0 || (end != 0 && end < begin) {
		return s.sendReject(ctx, seq, msg.MsgType(), enum.RejectValueIsIncorrect, tag.EndSeqNo, "invalid resend range")
	}

	s.sendMu.Lock()
	next := s.store.NextSenderSeqNum()
	if end == 0 || end >= next {
		end = next - 1
	}
	if begin > end {
		s.sendMu.Unlock()
		s.logger.InfoContext(ctx, "resend request beyond last sent, nothing to replay", "begin", begin, "next", next)
		return nil
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	if s.cancelReplay != nil {
		s.cancelReplay()
	}
	s.cancelReplay = cancel
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "servicing resend request", "begin", begin, "end", end)
	if s.metrics != nil {
		s.metrics.ResendRequests.WithLabelValues(s.label, "inbound").Inc()
	}
	go func() {
		defer s.sendMu.Unlock()
		defer cancel()
		if err := s.replay(rctx, begin, end); err != nil {
			s.logger.WarnContext(rctx, "resend replay stopped", "begin", begin, "end", end, "error", err)
		}
	}()
	return nil
}

// replay 回放 [begin, end]，调用方持有 sendMu. 回放不写存储.
// 管理报文 (Reject 除外)、缺失或无法解析的条目合并为 SequenceReset-GapFill.
func (s *Session) replay(ctx context.Context, begin, end int) error {
	stored, err := s.store.RetrieveRange(ctx, begin, end)
	if err != nil {
		return s.storeFailure(ctx, err)
	}

	gapStart := 0
	expect := begin
	for _, sm := range stored {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sm.SeqNum > expect && gapStart == 0 {
			gapStart = expect
		}
		expect = sm.SeqNum + 1

		m, perr := message.Parse(sm.Raw, s.dict)
		if perr != nil || (m.IsAdmin() && m.MsgType() != enum.MsgTypeReject) || !s.prepareResend(m) {
			if gapStart == 0 {
				gapStart = sm.SeqNum
			}
			continue
		}
		if gapStart != 0 {
			if err := s.sendGapFill(ctx, gapStart, sm.SeqNum); err != nil {
				return err
			}
			gapStart = 0
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
		if err := s.writeRaw(ctx, message.Build(m), m.MsgType(), s.now()); err != nil {
			return err
		}
	}
	if gapStart == 0 && expect <= end {
		gapStart = expect
	}
	if gapStart != 0 {
		return s.sendGapFill(ctx, gapStart, end+1)
	}
	return nil
}

// prepareResend 标记重传并刷新发送时间，ToApp 拒绝时返回 false.
func (s *Session) prepareResend(m *message.Message) bool {
	h := m.Header
	if orig, ok := h.Get(tag.SendingTime); ok {
		h.Set(tag.OrigSendingTime, orig)
	}
	h.SetBool(tag.PossDupFlag, true)
	h.SetUTCTimestamp(tag.SendingTime, s.now(), s.settings.Precision)
	if m.IsAdmin() {
		s.app.ToAdmin(m, s.id)
		return true
	}
	if err := s.app.ToApp(m, s.id); err != nil {
		s.logger.Debug("application declined resend, gap filling", "error", err)
		return false
	}
	return true
}

// sendGapFill 以 seq 发出 GapFill，NewSeqNo 为 newSeq.
func (s *Session) sendGapFill(ctx context.Context, seq, newSeq int) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	now := s.now()
	m := message.New(enum.MsgTypeSequenceReset)
	s.stampHeader(m, seq, now)
	m.Header.SetBool(tag.PossDupFlag, true)
	m.Header.SetUTCTimestamp(tag.OrigSendingTime, now, s.settings.Precision)
	m.Body.SetBool(tag.GapFillFlag, true)
	m.Body.SetInt(tag.NewSeqNo, newSeq)
	s.app.ToAdmin(m, s.id)
	s.logger.DebugContext(ctx, "sending gap fill", "seq", seq, "new_seq_no", newSeq)
	return s.writeRaw(ctx, message.Build(m), m.MsgType(), now)
}

func (s *Session) wait(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

// requestResend 发出 ResendRequest 并记录区间，调用方持有 recvMu.
func (s *Session) requestResend(ctx context.Context, begin, end int) error {
	s.mu.Lock()
	rr := &ResendRange{Begin: begin, End: end}
	if cur := s.resendRange; cur != nil {
		rr.Begin = min(begin, cur.Begin)
		rr.End = max(end, cur.End)
	}
	s.resendRange = rr
	s.mu.Unlock()

	m := message.New(enum.MsgTypeResendRequest)
	m.Body.SetInt(tag.BeginSeqNo, begin)
	m.Body.SetInt(tag.EndSeqNo, end)
	s.logger.InfoContext(ctx, "gap detected, requesting resend", "begin", begin, "end", end)
	if s.metrics != nil {
		s.metrics.ResendRequests.WithLabelValues(s.label, "outbound").Inc()
	}
	return s.sendAdmin(ctx, m)
}
