package store

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/fixengine/cache"
)

// maxCachedRange 超过该长度的重传区间直接读后端.
const maxCachedRange = 1024

// CachedStore 用 BigCache 缓存最近发送的报文，加速重传回放.
// 键为 "<sid>:<gen>:<seq>"，Reset 递增 gen 使旧条目失效.
type CachedStore struct {
	MessageStore
	cache *cache.BigCache
	sid   string
	gen   atomic.Uint64
}

// NewCachedStore 包装 inner.
func NewCachedStore(inner MessageStore, c *cache.BigCache, sid string) *CachedStore {
	return &CachedStore{MessageStore: inner, cache: c, sid: sid}
}

func (s *CachedStore) key(seq int) string {
	return s.sid + ":" + strconv.FormatUint(s.gen.Load(), 10) + ":" + strconv.Itoa(seq)
}

func (s *CachedStore) StoreSent(ctx context.Context, seq int, raw []byte, sentAt time.Time) error {
	if err := s.MessageStore.StoreSent(ctx, seq, raw, sentAt); err != nil {
		return err
	}
	// 缓存写失败只影响命中率
	_ = s.cache.Set(s.key(seq), encodeEntry(seq, sentAt, raw))
	return nil
}

// RetrieveRange 区间内全部命中时直接返回，否则回源并回填.
func (s *CachedStore) RetrieveRange(ctx context.Context, lo, hi int) ([]StoredMessage, error) {
	lo = max(lo, 1)
	top := upperBound(hi, s.NextSenderSeqNum())
	if top >= lo && top-lo < maxCachedRange {
		out := make([]StoredMessage, 0, top-lo+1)
		for seq := lo; seq <= top; seq++ {
			b, err := s.cache.Get(s.key(seq))
			if err != nil {
				break
			}
			m, err := decodeEntry(b)
			if err != nil {
				break
			}
			out = append(out, m)
		}
		if len(out) == top-lo+1 {
			return out, nil
		}
	}

	msgs, err := s.MessageStore.RetrieveRange(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		_ = s.cache.Set(s.key(m.SeqNum), encodeEntry(m.SeqNum, m.SentAt, m.Raw))
	}
	return msgs, nil
}

func (s *CachedStore) Reset(ctx context.Context) error {
	err := s.MessageStore.Reset(ctx)
	s.gen.Add(1)
	return err
}

// Unwrap 返回被包装的存储.
func (s *CachedStore) Unwrap() MessageStore { return s.MessageStore }

