package store

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/cache"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/retry"
)

type countingStore struct {
	MessageStore
	retrieves int
}

func (s *countingStore) RetrieveRange(ctx context.Context, lo, hi int) ([]StoredMessage, error) {
	s.retrieves++
	return s.MessageStore.RetrieveRange(ctx, lo, hi)
}

func TestCachedStore(t *testing.T) {
	c, err := cache.NewBigCache(t.Context(), config.BigCacheConfig{Shards: 16, LifeWindow: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	inner := &countingStore{MessageStore: NewMemoryStore()}
	s := NewCachedStore(inner, c, testID.String())
	storeN(t, s, 4)

	msgs, err := s.RetrieveRange(t.Context(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, seqs(msgs))
	assert.Equal(t, 0, inner.retrieves)

	// 缓存缺失时回源并回填
	require.NoError(t, c.Delete(s.key(3)))
	msgs, err = s.RetrieveRange(t.Context(), 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, seqs(msgs))
	assert.Equal(t, 1, inner.retrieves)
	_, err = s.RetrieveRange(t.Context(), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.retrieves)

	require.NoError(t, s.Reset(t.Context()))
	msgs, err = s.RetrieveRange(t.Context(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// 重置后同一序列号不会命中旧条目
	require.NoError(t, s.StoreSent(t.Context(), 1, []byte("fresh"), time.Unix(9, 0)))
	require.NoError(t, s.IncrementSender(t.Context()))
	msgs, err = s.RetrieveRange(t.Context(), 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", string(msgs[0].Raw))
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]string
	fail    int
}

func (f *fakeStorage) Upload(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("unavailable")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[name] = string(b)
	return nil
}

func (f *fakeStorage) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStorage) Exists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[name]
	return ok, nil
}

func (f *fakeStorage) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

func TestArchivingStore(t *testing.T) {
	fs := &fakeStorage{fail: 1}
	s := NewArchivingStore(NewMemoryStore(), fs, "archive", testID, logging.NewDiscard())
	s.retry = retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, Multiplier: 1}

	// 空日志不上传
	require.NoError(t, s.Reset(t.Context()))
	assert.Empty(t, fs.objects)

	storeN(t, s, 2)
	name := s.ObjectName()
	assert.True(t, strings.HasPrefix(name, "archive/FIX.4.4-A-B/"))
	assert.True(t, strings.HasSuffix(name, ".log"))

	require.NoError(t, s.Reset(t.Context()))
	assert.Equal(t, "msg-1\nmsg-2\n", fs.objects[name])
	assert.Equal(t, 1, s.NextSenderSeqNum())

	// 上传失败仍然重置
	fs.fail = 10
	storeN(t, s, 1)
	require.NoError(t, s.Reset(t.Context()))
	assert.Equal(t, 1, s.NextSenderSeqNum())
	assert.Len(t, fs.objects, 1)
}

func TestDecorateAndInstrument(t *testing.T) {
	m := metrics.NewMetrics("test")
	f := Decorate(MemoryFactory{}, "memory", Decorators{Metrics: m, Archive: &fakeStorage{}})

	s, err := f.Create(t.Context(), testID)
	require.NoError(t, err)
	a, ok := s.(*ArchivingStore)
	require.True(t, ok)
	_, ok = a.Unwrap().(*instrumented)
	require.True(t, ok)

	storeN(t, s, 2)
	// store_sent 与 increment_sender 两个序列
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var series int
	for _, mf := range families {
		if mf.GetName() == "fix_store_duration_seconds" {
			series = len(mf.GetMetric())
		}
	}
	assert.Equal(t, 2, series)
}
