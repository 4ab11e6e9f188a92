// Package store 持久化会话的序列号计数器与已发送报文日志，按 SessionID 分区.
//
// 计数器在内存中缓存，每次修改先写后端再提交到内存，读取不产生 I/O.
// 后端失败统一返回 xerrors.ErrStore，会话据此强制断开.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/xerrors"
)

// StoredMessage 已发送报文日志中的一条记录.
type StoredMessage struct {
	SeqNum int
	Raw    []byte
	SentAt time.Time
}

// MessageStore 单个会话的持久化状态.
type MessageStore interface {
	NextSenderSeqNum() int
	NextTargetSeqNum() int
	IncrementSender(ctx context.Context) error
	IncrementTarget(ctx context.Context) error
	SetSenderSeqNum(ctx context.Context, n int) error
	SetTargetSeqNum(ctx context.Context, n int) error
	// StoreSent 记录已发送报文，同一序列号重复写入时覆盖.
	StoreSent(ctx context.Context, seq int, raw []byte, sentAt time.Time) error
	// RetrieveRange 按序返回 [lo, hi] 内存在的报文，hi 为 0 表示到最新.
	RetrieveRange(ctx context.Context, lo, hi int) ([]StoredMessage, error)
	CreationTime() time.Time
	// Reset 两个计数器归 1，清空日志并刷新创建时间.
	Reset(ctx context.Context) error
	// Refresh 从后端重新加载计数器.
	Refresh(ctx context.Context) error
	Close() error
}

// Factory 为会话创建存储.
type Factory interface {
	Create(ctx context.Context, id message.SessionID) (MessageStore, error)
}

// FactoryFunc 函数适配 Factory.
type FactoryFunc func(ctx context.Context, id message.SessionID) (MessageStore, error)

// Create 实现 Factory.
func (f FactoryFunc) Create(ctx context.Context, id message.SessionID) (MessageStore, error) {
	return f(ctx, id)
}

// seqState 各后端共享的内存计数器.
type seqState struct {
	seqMu   sync.RWMutex
	sender  int
	target  int
	created time.Time
}

func newSeqState(now time.Time) seqState {
	return seqState{sender: 1, target: 1, created: now.UTC()}
}

// NextSenderSeqNum 下一个出站序列号.
func (s *seqState) NextSenderSeqNum() int {
	s.seqMu.RLock()
	defer s.seqMu.RUnlock()
	return s.sender
}

// NextTargetSeqNum 下一个期望的入站序列号.
func (s *seqState) NextTargetSeqNum() int {
	s.seqMu.RLock()
	defer s.seqMu.RUnlock()
	return s.target
}

// CreationTime 会话存储的创建 (或最近一次重置) 时间.
func (s *seqState) CreationTime() time.Time {
	s.seqMu.RLock()
	defer s.seqMu.RUnlock()
	return s.created
}

func (s *seqState) commitSender(n int) {
	s.seqMu.Lock()
	s.sender = n
	s.seqMu.Unlock()
}

func (s *seqState) commitTarget(n int) {
	s.seqMu.Lock()
	s.target = n
	s.seqMu.Unlock()
}

func (s *seqState) commitAll(sender, target int, created time.Time) {
	s.seqMu.Lock()
	s.sender, s.target, s.created = sender, target, created.UTC()
	s.seqMu.Unlock()
}

func checkSeq(n int) error {
	if n < 1 {
		return xerrors.InvalidArg("sequence number must be positive").WithContext("seq", n)
	}
	return nil
}

// upperBound 把 hi == 0 或超出已发送范围的上界收敛到最后一个已发送序列号.
func upperBound(hi, nextSender int) int {
	if hi <= 0 || hi >= nextSender {
		return nextSender - 1
	}
	return hi
}

// fileName 把 SessionID 转换为可用作文件名或对象名的字符串.
func fileName(id message.SessionID) string {
	parts := []string{id.BeginString, id.SenderCompID, id.TargetCompID}
	if id.Qualifier != "" {
		parts = append(parts, id.Qualifier)
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.Join(parts, "-"))
}
