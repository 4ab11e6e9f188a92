package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/xerrors"
)

// BadgerStore 在共享的 Badger 实例中以 "<sid>/" 为前缀保存一个会话:
//
//	<sid>/seq/sender  <sid>/seq/target  十进制序列号
//	<sid>/created     创建时间纳秒
//	<sid>/msg/%020d   encodeEntry 编码的报文
type BadgerStore struct {
	seqState
	db     *badger.DB
	prefix string
}

// BadgerFactory 多个会话共享一个 DB.
type BadgerFactory struct {
	DB *badger.DB
}

// OpenBadger 按配置打开 Badger，InMemory 时忽略 Dir.
func OpenBadger(cfg config.BadgerConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Store("open badger", err)
	}
	return db, nil
}

// Create 实现 Factory.
func (f BadgerFactory) Create(_ context.Context, id message.SessionID) (MessageStore, error) {
	s := &BadgerStore{
		seqState: newSeqState(time.Now()),
		db:       f.DB,
		prefix:   id.String() + "/",
	}
	if err := s.load(true); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) key(parts ...string) []byte {
	var b bytes.Buffer
	b.WriteString(s.prefix)
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(p)
	}
	return b.Bytes()
}

func (s *BadgerStore) msgKey(seq int) []byte {
	return s.key("msg", fmt.Sprintf("%020d", seq))
}

func getInt(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		var perr error
		v, perr = strconv.ParseInt(string(val), 10, 64)
		return perr
	})
	return v, true, err
}

// load 读取计数器与创建时间，init 为 true 时补写缺失的创建时间.
func (s *BadgerStore) load(init bool) error {
	sender, target := int64(1), int64(1)
	created := time.Now().UTC()
	var missingCreated bool

	err := s.db.View(func(txn *badger.Txn) error {
		if v, ok, err := getInt(txn, s.key("seq", "sender")); err != nil {
			return err
		} else if ok {
			sender = v
		}
		if v, ok, err := getInt(txn, s.key("seq", "target")); err != nil {
			return err
		} else if ok {
			target = v
		}
		v, ok, err := getInt(txn, s.key("created"))
		if err != nil {
			return err
		}
		if ok {
			created = time.Unix(0, v).UTC()
		} else {
			missingCreated = true
		}
		return nil
	})
	if err != nil {
		return xerrors.Store("load", err)
	}

	if init && missingCreated {
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(s.key("created"), strconv.AppendInt(nil, created.UnixNano(), 10))
		})
		if err != nil {
			return xerrors.Store("load", err)
		}
	}
	s.commitAll(int(sender), int(target), created)
	return nil
}

func (s *BadgerStore) setInt(op string, key []byte, n int) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, strconv.AppendInt(nil, int64(n), 10))
	})
	if err != nil {
		return xerrors.Store(op, err)
	}
	return nil
}

func (s *BadgerStore) IncrementSender(ctx context.Context) error {
	return s.SetSenderSeqNum(ctx, s.NextSenderSeqNum()+1)
}

func (s *BadgerStore) IncrementTarget(ctx context.Context) error {
	return s.SetTargetSeqNum(ctx, s.NextTargetSeqNum()+1)
}

func (s *BadgerStore) SetSenderSeqNum(_ context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	if err := s.setInt("set sender", s.key("seq", "sender"), n); err != nil {
		return err
	}
	s.commitSender(n)
	return nil
}

func (s *BadgerStore) SetTargetSeqNum(_ context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	if err := s.setInt("set target", s.key("seq", "target"), n); err != nil {
		return err
	}
	s.commitTarget(n)
	return nil
}

func (s *BadgerStore) StoreSent(_ context.Context, seq int, raw []byte, sentAt time.Time) error {
	if err := checkSeq(seq); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.msgKey(seq), encodeEntry(seq, sentAt, raw))
	})
	if err != nil {
		return xerrors.Store("store sent", err)
	}
	return nil
}

func (s *BadgerStore) RetrieveRange(_ context.Context, lo, hi int) ([]StoredMessage, error) {
	lo = max(lo, 1)
	var out []StoredMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.key("msg", "")
		it := txn.NewIterator(opts)
		defer it.Close()

		var end []byte
		if hi > 0 {
			end = s.msgKey(hi)
		}
		for it.Seek(s.msgKey(lo)); it.Valid(); it.Next() {
			item := it.Item()
			if end != nil && bytes.Compare(item.Key(), end) > 0 {
				break
			}
			err := item.Value(func(val []byte) error {
				m, err := decodeEntry(val)
				if err != nil {
					return err
				}
				out = append(out, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Store("retrieve", err)
	}
	return out, nil
}

func (s *BadgerStore) Reset(context.Context) error {
	if err := s.db.DropPrefix([]byte(s.prefix)); err != nil {
		return xerrors.Store("reset", err)
	}
	now := time.Now().UTC()
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(s.key("seq", "sender"), []byte("1")); err != nil {
			return err
		}
		if err := txn.Set(s.key("seq", "target"), []byte("1")); err != nil {
			return err
		}
		return txn.Set(s.key("created"), strconv.AppendInt(nil, now.UnixNano(), 10))
	})
	if err != nil {
		return xerrors.Store("reset", err)
	}
	s.commitAll(1, 1, now)
	return nil
}

func (s *BadgerStore) Refresh(context.Context) error {
	return s.load(false)
}

// Close DB 由 BadgerFactory 的持有者关闭.
func (s *BadgerStore) Close() error { return nil }
