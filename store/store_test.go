package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/breaker"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/database"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/redis"
	"github.com/wyfcoding/fixengine/xerrors"
)

var testID = message.SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}

// backend 每个后端提供一个工厂，reopen 模拟进程重启后重新创建存储.
type backend struct {
	name    string
	factory func(t *testing.T) Factory
	durable bool
}

func backends() []backend {
	return []backend{
		{name: "memory", factory: func(*testing.T) Factory { return MemoryFactory{} }},
		{name: "file", durable: true, factory: func(t *testing.T) Factory {
			return FileFactory{Dir: filepath.Join(t.TempDir(), "store"), Sync: true}
		}},
		{name: "badger", durable: true, factory: func(t *testing.T) Factory {
			db, err := OpenBadger(config.BadgerConfig{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return BadgerFactory{DB: db}
		}},
		{name: "sqlite", durable: true, factory: func(t *testing.T) Factory {
			db, err := database.NewDB(config.DatabaseConfig{
				Driver: "sqlite",
				DSN:    filepath.Join(t.TempDir(), "fix.db"),
			}, config.CircuitBreakerConfig{}, logging.NewDiscard(), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			f := SQLFactory{DB: db}
			require.NoError(t, f.Migrate(t.Context()))
			return f
		}},
		{name: "redis", durable: true, factory: redisFactory},
	}
}

func redisFactory(t *testing.T) Factory {
	addr := os.Getenv("FIX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FIX_TEST_REDIS_ADDR not set")
	}
	client, closeFn, err := redis.NewClient(t.Context(), config.RedisConfig{Addr: addr}, logging.NewDiscard(), nil)
	require.NoError(t, err)
	t.Cleanup(closeFn)
	return RedisFactory{
		Client:    client,
		Breaker:   breaker.NewBreaker(breaker.Settings{Name: "test"}, nil),
		KeyPrefix: fmt.Sprintf("test:%d:", time.Now().UnixNano()),
	}
}

func storeN(t *testing.T, s MessageStore, n int) {
	t.Helper()
	ctx := t.Context()
	for seq := 1; seq <= n; seq++ {
		require.Equal(t, seq, s.NextSenderSeqNum())
		require.NoError(t, s.StoreSent(ctx, seq, []byte(fmt.Sprintf("msg-%d", seq)), time.Unix(int64(seq), 0)))
		require.NoError(t, s.IncrementSender(ctx))
	}
}

func seqs(msgs []StoredMessage) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.SeqNum
	}
	return out
}

func TestMessageStoreConformance(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			f := b.factory(t)
			ctx := t.Context()

			s, err := f.Create(ctx, testID)
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, 1, s.NextSenderSeqNum())
			assert.Equal(t, 1, s.NextTargetSeqNum())
			assert.False(t, s.CreationTime().IsZero())

			storeN(t, s, 5)
			require.NoError(t, s.IncrementTarget(ctx))
			require.NoError(t, s.IncrementTarget(ctx))
			assert.Equal(t, 6, s.NextSenderSeqNum())
			assert.Equal(t, 3, s.NextTargetSeqNum())

			msgs, err := s.RetrieveRange(ctx, 2, 4)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 3, 4}, seqs(msgs))
			assert.Equal(t, "msg-3", string(msgs[1].Raw))
			assert.True(t, msgs[1].SentAt.Equal(time.Unix(3, 0)))

			msgs, err = s.RetrieveRange(ctx, 4, 0)
			require.NoError(t, err)
			assert.Equal(t, []int{4, 5}, seqs(msgs))

			msgs, err = s.RetrieveRange(ctx, 7, 9)
			require.NoError(t, err)
			assert.Empty(t, msgs)

			// 同一序列号覆盖
			require.NoError(t, s.StoreSent(ctx, 5, []byte("msg-5b"), time.Unix(50, 0)))
			msgs, err = s.RetrieveRange(ctx, 5, 5)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, "msg-5b", string(msgs[0].Raw))

			require.NoError(t, s.SetTargetSeqNum(ctx, 10))
			assert.Equal(t, 10, s.NextTargetSeqNum())

			err = s.SetSenderSeqNum(ctx, 0)
			assert.True(t, xerrors.Is(err, xerrors.ErrInvalidArg))

			before := s.CreationTime()
			time.Sleep(2 * time.Millisecond)
			require.NoError(t, s.Reset(ctx))
			assert.Equal(t, 1, s.NextSenderSeqNum())
			assert.Equal(t, 1, s.NextTargetSeqNum())
			assert.True(t, s.CreationTime().After(before))
			msgs, err = s.RetrieveRange(ctx, 1, 0)
			require.NoError(t, err)
			assert.Empty(t, msgs)

			require.NoError(t, s.Refresh(ctx))
			assert.Equal(t, 1, s.NextSenderSeqNum())
		})
	}
}

func TestMessageStoreDurable(t *testing.T) {
	for _, b := range backends() {
		if !b.durable {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			f := b.factory(t)
			ctx := t.Context()

			s, err := f.Create(ctx, testID)
			require.NoError(t, err)
			storeN(t, s, 3)
			require.NoError(t, s.SetTargetSeqNum(ctx, 7))
			created := s.CreationTime()
			require.NoError(t, s.Close())

			s2, err := f.Create(ctx, testID)
			require.NoError(t, err)
			defer s2.Close()
			assert.Equal(t, 4, s2.NextSenderSeqNum())
			assert.Equal(t, 7, s2.NextTargetSeqNum())
			assert.WithinDuration(t, created, s2.CreationTime(), time.Millisecond)

			msgs, err := s2.RetrieveRange(ctx, 1, 0)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2, 3}, seqs(msgs))

			// 不同会话互不影响
			other := testID
			other.Qualifier = "q"
			s3, err := f.Create(ctx, other)
			require.NoError(t, err)
			defer s3.Close()
			assert.Equal(t, 1, s3.NextSenderSeqNum())
			msgs, err = s3.RetrieveRange(ctx, 1, 0)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir, testID, false)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	storeN(t, s, 2)
	require.NoError(t, s.IncrementTarget(ctx))

	b, err := os.ReadFile(filepath.Join(dir, "FIX.4.4-A-B.seqnums"))
	require.NoError(t, err)
	assert.Equal(t, "0000000003 : 0000000002", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "FIX.4.4-A-B.body"))
	require.NoError(t, err)
	assert.Equal(t, "msg-1msg-2", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "FIX.4.4-A-B.header"))
	require.NoError(t, err)
	assert.Equal(t, "1,0,5,1000000000\n2,5,5,2000000000\n", string(b))
}

func TestFileStoreConcurrentIncrements(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir, testID, false)
	require.NoError(t, err)
	defer s.Close()

	const n = 200
	onDisk := func() (sender, target int) {
		s.mu.Lock()
		defer s.mu.Unlock()
		b, err := os.ReadFile(filepath.Join(dir, "FIX.4.4-A-B.seqnums"))
		assert.NoError(t, err)
		_, err = fmt.Sscanf(string(b), "%d : %d", &sender, &target)
		assert.NoError(t, err)
		return sender, target
	}

	ctx := t.Context()
	var wg sync.WaitGroup
	var senderBehind, targetBehind int
	wg.Go(func() {
		for range n {
			if !assert.NoError(t, s.IncrementSender(ctx)) {
				return
			}
			if sender, _ := onDisk(); sender != s.NextSenderSeqNum() {
				senderBehind++
			}
		}
	})
	wg.Go(func() {
		for range n {
			if !assert.NoError(t, s.IncrementTarget(ctx)) {
				return
			}
			if _, target := onDisk(); target != s.NextTargetSeqNum() {
				targetBehind++
			}
		}
	})
	wg.Wait()

	assert.Zero(t, senderBehind)
	assert.Zero(t, targetBehind)
	sender, target := onDisk()
	assert.Equal(t, n+1, sender)
	assert.Equal(t, n+1, target)

	require.NoError(t, s.Close())
	s2, err := OpenFileStore(dir, testID, false)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, n+1, s2.NextSenderSeqNum())
	assert.Equal(t, n+1, s2.NextTargetSeqNum())
}

func TestFileName(t *testing.T) {
	id := message.SessionID{BeginString: "FIX.4.2", SenderCompID: "A B", TargetCompID: "C/D", Qualifier: "x"}
	assert.Equal(t, "FIX.4.2-A_B-C_D-x", fileName(id))
}

func TestEntryCodec(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	m, err := decodeEntry(encodeEntry(42, at, []byte("8=FIX")))
	require.NoError(t, err)
	assert.Equal(t, 42, m.SeqNum)
	assert.Equal(t, "8=FIX", string(m.Raw))
	assert.True(t, at.Equal(m.SentAt))

	_, err = decodeEntry([]byte("short"))
	assert.Error(t, err)
}
