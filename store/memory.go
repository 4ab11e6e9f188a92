package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/wyfcoding/fixengine/message"
)

// MemoryStore 进程内存储，重启后丢失.
type MemoryStore struct {
	seqState
	mu       sync.RWMutex
	messages map[int]StoredMessage
}

// NewMemoryStore 创建内存存储.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seqState: newSeqState(time.Now()),
		messages: make(map[int]StoredMessage),
	}
}

// MemoryFactory 为每个会话创建独立的 MemoryStore.
type MemoryFactory struct{}

// Create 实现 Factory.
func (MemoryFactory) Create(context.Context, message.SessionID) (MessageStore, error) {
	return NewMemoryStore(), nil
}

func (s *MemoryStore) IncrementSender(ctx context.Context) error {
	return s.SetSenderSeqNum(ctx, s.NextSenderSeqNum()+1)
}

func (s *MemoryStore) IncrementTarget(ctx context.Context) error {
	return s.SetTargetSeqNum(ctx, s.NextTargetSeqNum()+1)
}

func (s *MemoryStore) SetSenderSeqNum(_ context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	s.commitSender(n)
	return nil
}

func (s *MemoryStore) SetTargetSeqNum(_ context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	s.commitTarget(n)
	return nil
}

func (s *MemoryStore) StoreSent(_ context.Context, seq int, raw []byte, sentAt time.Time) error {
	if err := checkSeq(seq); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[seq] = StoredMessage{SeqNum: seq, Raw: slices.Clone(raw), SentAt: sentAt.UTC()}
	return nil
}

func (s *MemoryStore) RetrieveRange(_ context.Context, lo, hi int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StoredMessage
	for _, seq := range slices.Sorted(maps.Keys(s.messages)) {
		if seq < lo || (hi > 0 && seq > hi) {
			continue
		}
		m := s.messages[seq]
		m.Raw = slices.Clone(m.Raw)
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	clear(s.messages)
	s.mu.Unlock()
	s.commitAll(1, 1, time.Now())
	return nil
}

// Refresh 内存存储没有外部状态.
func (s *MemoryStore) Refresh(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
