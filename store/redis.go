package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/wyfcoding/fixengine/breaker"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/redis"
	"github.com/wyfcoding/fixengine/xerrors"
)

// RedisStore 每个会话两个键:
//
//	<prefix>fix:<sid>:state  hash {sender, target, created}
//	<prefix>fix:<sid>:log    zset，score 为序列号，member 为 encodeEntry 编码
//
// 多键修改在 MULTI/EXEC 事务管道中完成，所有调用经过熔断器.
type RedisStore struct {
	seqState
	client   *redis.Client
	breaker  *breaker.Breaker
	stateKey string
	logKey   string
}

// RedisFactory 多个会话共享一个客户端和熔断器.
type RedisFactory struct {
	Client    *redis.Client
	Breaker   *breaker.Breaker
	KeyPrefix string
}

// Create 实现 Factory.
func (f RedisFactory) Create(ctx context.Context, id message.SessionID) (MessageStore, error) {
	base := f.KeyPrefix + "fix:" + id.String()
	s := &RedisStore{
		seqState: newSeqState(time.Now()),
		client:   f.Client,
		breaker:  f.Breaker,
		stateKey: base + ":state",
		logKey:   base + ":log",
	}
	if err := s.load(ctx, true); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) do(op string, fn func() error) error {
	if err := s.breaker.Do(fn); err != nil {
		return xerrors.Store(op, err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, init bool) error {
	var state map[string]string
	err := s.do("load", func() error {
		var err error
		state, err = s.client.HGetAll(ctx, s.stateKey).Result()
		return err
	})
	if err != nil {
		return err
	}

	sender, target := 1, 1
	created := time.Now().UTC()
	if v, ok := state["sender"]; ok {
		if sender, err = strconv.Atoi(v); err != nil {
			return xerrors.Store("load", err)
		}
	}
	if v, ok := state["target"]; ok {
		if target, err = strconv.Atoi(v); err != nil {
			return xerrors.Store("load", err)
		}
	}
	if v, ok := state["created"]; ok {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return xerrors.Store("load", perr)
		}
		created = time.Unix(0, n).UTC()
	} else if init {
		err = s.do("load", func() error {
			return s.client.HSetNX(ctx, s.stateKey, "created", created.UnixNano()).Err()
		})
		if err != nil {
			return err
		}
	}
	s.commitAll(sender, target, created)
	return nil
}

func (s *RedisStore) setField(ctx context.Context, name string, n int) error {
	return s.do("set "+name, func() error {
		return s.client.HSet(ctx, s.stateKey, name, n).Err()
	})
}

func (s *RedisStore) IncrementSender(ctx context.Context) error {
	return s.SetSenderSeqNum(ctx, s.NextSenderSeqNum()+1)
}

func (s *RedisStore) IncrementTarget(ctx context.Context) error {
	return s.SetTargetSeqNum(ctx, s.NextTargetSeqNum()+1)
}

func (s *RedisStore) SetSenderSeqNum(ctx context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	if err := s.setField(ctx, "sender", n); err != nil {
		return err
	}
	s.commitSender(n)
	return nil
}

func (s *RedisStore) SetTargetSeqNum(ctx context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	if err := s.setField(ctx, "target", n); err != nil {
		return err
	}
	s.commitTarget(n)
	return nil
}

func (s *RedisStore) StoreSent(ctx context.Context, seq int, raw []byte, sentAt time.Time) error {
	if err := checkSeq(seq); err != nil {
		return err
	}
	score := strconv.Itoa(seq)
	return s.do("store sent", func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, s.logKey, score, score)
			pipe.ZAdd(ctx, s.logKey, goredis.Z{Score: float64(seq), Member: encodeEntry(seq, sentAt, raw)})
			return nil
		})
		return err
	})
}

func (s *RedisStore) RetrieveRange(ctx context.Context, lo, hi int) ([]StoredMessage, error) {
	rng := &goredis.ZRangeBy{Min: strconv.Itoa(max(lo, 1)), Max: "+inf"}
	if hi > 0 {
		rng.Max = strconv.Itoa(hi)
	}

	var members []string
	err := s.do("retrieve", func() error {
		var err error
		members, err = s.client.ZRangeByScore(ctx, s.logKey, rng).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]StoredMessage, 0, len(members))
	for _, m := range members {
		e, err := decodeEntry([]byte(m))
		if err != nil {
			return nil, xerrors.Store("retrieve", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	now := time.Now().UTC()
	err := s.do("reset", func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.logKey, s.stateKey)
			pipe.HSet(ctx, s.stateKey, "sender", 1, "target", 1, "created", now.UnixNano())
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	s.commitAll(1, 1, now)
	return nil
}

func (s *RedisStore) Refresh(ctx context.Context) error {
	return s.load(ctx, false)
}

// Close 客户端由 RedisFactory 的持有者关闭.
func (s *RedisStore) Close() error { return nil }
