package session

import (
	"context"
	"time"

	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/idgen"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/tag"
)

func (s *Session) runTimer(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.onTimer(ctx, s.now())
		}
	}
}

// onTimer 检查登录/登出超时、会话窗口与心跳.
func (s *Session) onTimer(ctx context.Context, now time.Time) {
	s.mu.Lock()
	state := s.machine.Current()
	hb := s.heartBtInt
	lastSent, lastReceived := s.lastSent, s.lastReceived
	logonSentAt, logoutSentAt := s.logonSentAt, s.logoutSentAt
	if s.testReqID != "" && lastReceived.After(s.testReqAt) {
		s.testReqID = ""
	}
	testReqID, testReqAt := s.testReqID, s.testReqAt
	s.mu.Unlock()

	switch state {
	case LogonSent, LogonReceived:
		if now.Sub(logonSentAt) >= s.settings.LogonTimeout {
			s.logger.WarnContext(ctx, "logon timed out", "timeout", s.settings.LogonTimeout)
			_ = s.Disconnect()
		}
		return
	case PendingLogout:
		if now.Sub(logoutSentAt) >= s.settings.LogoutTimeout {
			s.logger.WarnContext(ctx, "logout not confirmed, disconnecting", "timeout", s.settings.LogoutTimeout)
			_ = s.Disconnect()
		}
		return
	case Active:
	default:
		return
	}

	if !s.settings.Window.Contains(now) {
		s.logger.InfoContext(ctx, "session window closed")
		_ = s.Logout(ctx, "outside session time")
		return
	}
	if hb <= 0 {
		return
	}

	grace := time.Duration(float64(hb) * (1 + s.settings.TestRequestDelayMultiplier))
	switch {
	case testReqID != "" && now.Sub(testReqAt) >= grace:
		s.logger.WarnContext(ctx, "no response to test request", "test_req_id", testReqID)
		_ = s.Logout(ctx, "heartbeat timeout")
		return
	case testReqID == "" && now.Sub(lastReceived) >= grace:
		s.sendTestRequest(ctx, now)
		return
	}
	if now.Sub(lastSent) >= hb {
		s.sendHeartbeat(ctx)
	}
}

// sendHeartbeat 回放占用发送锁时跳过，回放本身即是出站流量.
func (s *Session) sendHeartbeat(ctx context.Context) {
	if !s.sendMu.TryLock() {
		return
	}
	defer s.sendMu.Unlock()
	if err := s.sendLocked(ctx, message.New(enum.MsgTypeHeartbeat)); err != nil {
		s.logger.WarnContext(ctx, "send heartbeat failed", "error", err)
	}
}

func (s *Session) sendTestRequest(ctx context.Context, now time.Time) {
	if !s.sendMu.TryLock() {
		return
	}
	defer s.sendMu.Unlock()

	id := idgen.TestReqID(s.ids)
	s.mu.Lock()
	s.testReqID = id
	s.testReqAt = now
	s.mu.Unlock()

	m := message.New(enum.MsgTypeTestRequest)
	m.Body.Set(tag.TestReqID, id)
	s.logger.InfoContext(ctx, "no inbound traffic, sending test request", "test_req_id", id)
	if err := s.sendLocked(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "send test request failed", "error", err)
	}
}
