package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/fixengine/async"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/retry"
	"github.com/wyfcoding/fixengine/scheduler"
	"github.com/wyfcoding/fixengine/xerrors"
)

const stopPollInterval = 20 * time.Millisecond

// Registry 集中管理进程内的全部会话.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[message.SessionID]*Session
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewRegistry 创建注册表，sched 为 nil 时忽略 ResetSchedule.
func NewRegistry(logger *logging.Logger, sched *scheduler.Scheduler) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		sessions:  make(map[message.SessionID]*Session),
		scheduler: sched,
		logger:    logger.Named("registry").Logger,
	}
}

func resetJobName(id message.SessionID) string {
	return "reset:" + id.String()
}

// Register 加入会话，配置了 ResetSchedule 时登记定时重置任务.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if _, ok := r.sessions[id]; ok {
		return xerrors.InvalidArg(fmt.Sprintf("session %s already registered", id))
	}
	if spec := s.Settings().ResetSchedule; spec != "" && r.scheduler != nil {
		err := r.scheduler.AddJob(scheduler.JobConfig{
			Name:        resetJobName(id),
			Spec:        spec,
			Timeout:     30 * time.Second,
			RetryConfig: retry.Config{MaxRetries: 0},
		}, s.Reset)
		if err != nil {
			return xerrors.SessionConfig("reset_schedule", err.Error())
		}
	}
	r.sessions[id] = s
	r.logger.Info("session registered", "session", id.String())
	return nil
}

// Lookup 按会话标识查找.
func (r *Registry) Lookup(id message.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List 按标识字符串排序返回全部会话.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int {
		return strings.Compare(a.ID().String(), b.ID().String())
	})
	return out
}

// SendToTarget 按报文头的 CompID 路由到会话并发送.
func (r *Registry) SendToTarget(ctx context.Context, msg *message.Message) error {
	id := msg.SessionID()
	s, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", xerrors.ErrSessionNotFound, id)
	}
	return s.Send(ctx, msg)
}

// Remove 移除会话及其定时任务，不关闭会话.
func (r *Registry) Remove(id message.SessionID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	if r.scheduler != nil {
		r.scheduler.RemoveJob(resetJobName(id))
	}
}

// StopAll 向全部会话发送 Logout 并等待断开，ctx 结束后强制断开并关闭存储.
func (r *Registry) StopAll(ctx context.Context) error {
	var g async.RunGroup
	for _, s := range r.List() {
		g.Go(func() error {
			if s.State().LoggedOn() {
				if err := s.Logout(ctx, "engine shutting down"); err != nil {
					r.logger.Warn("logout failed", "session", s.ID().String(), "error", err)
				}
				waitDisconnected(ctx, s)
			}
			return s.Close()
		})
	}
	return g.Wait()
}

func waitDisconnected(ctx context.Context, s *Session) {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for s.State() != Disconnected {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
