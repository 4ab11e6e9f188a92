package store

import (
	"context"
	"time"

	"github.com/wyfcoding/fixengine/database"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/xerrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRecord 会话计数器行.
type SessionRecord struct {
	SessionID    string `gorm:"primaryKey;size:191"`
	SenderSeqNum int    `gorm:"not null;default:1"`
	TargetSeqNum int    `gorm:"not null;default:1"`
	CreationTime time.Time
	UpdatedAt    time.Time
}

// TableName 指定表名.
func (SessionRecord) TableName() string { return "fix_sessions" }

// MessageRecord 已发送报文行.
type MessageRecord struct {
	SessionID string `gorm:"primaryKey;size:191"`
	SeqNum    int    `gorm:"primaryKey;autoIncrement:false"`
	SentAt    time.Time
	Raw       []byte
}

// TableName 指定表名.
func (MessageRecord) TableName() string { return "fix_messages" }

// SQLStore 基于 GORM 的存储，支持 database 包提供的全部驱动.
type SQLStore struct {
	seqState
	db *database.DB
	id string
}

// SQLFactory 多个会话共享一个连接池.
type SQLFactory struct {
	DB *database.DB
}

// Migrate 创建或升级表结构.
func (f SQLFactory) Migrate(ctx context.Context) error {
	if err := f.DB.WithContext(ctx).AutoMigrate(&SessionRecord{}, &MessageRecord{}); err != nil {
		return xerrors.Store("migrate", err)
	}
	return nil
}

// Create 实现 Factory，会话行不存在时创建.
func (f SQLFactory) Create(ctx context.Context, id message.SessionID) (MessageStore, error) {
	s := &SQLStore{seqState: newSeqState(time.Now()), db: f.DB, id: id.String()}

	rec := SessionRecord{SessionID: s.id, SenderSeqNum: 1, TargetSeqNum: 1, CreationTime: time.Now().UTC()}
	err := s.db.Protect(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).
			Where(SessionRecord{SessionID: s.id}).
			Attrs(rec).
			FirstOrCreate(&rec).Error
	})
	if err != nil {
		return nil, xerrors.Store("create session", err)
	}
	s.commitAll(rec.SenderSeqNum, rec.TargetSeqNum, rec.CreationTime)
	return s, nil
}

func (s *SQLStore) update(ctx context.Context, op string, values map[string]any) error {
	err := s.db.Protect(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).
			Model(&SessionRecord{}).
			Where("session_id = ?", s.id).
			Updates(values).Error
	})
	if err != nil {
		return xerrors.Store(op, err)
	}
	return nil
}

func (s *SQLStore) IncrementSender(ctx context.Context) error {
	return s.SetSenderSeqNum(ctx, s.NextSenderSeqNum()+1)
}

func (s *SQLStore) IncrementTarget(ctx context.Context) error {
	return s.SetTargetSeqNum(ctx, s.NextTargetSeqNum()+1)
}

func (s *SQLStore) SetSenderSeqNum(ctx context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	if err := s.update(ctx, "set sender", map[string]any{"sender_seq_num": n}); err != nil {
		return err
	}
	s.commitSender(n)
	return nil
}

func (s *SQLStore) SetTargetSeqNum(ctx context.Context, n int) error {
	if err := checkSeq(n); err != nil {
		return err
	}
	if err := s.update(ctx, "set target", map[string]any{"target_seq_num": n}); err != nil {
		return err
	}
	s.commitTarget(n)
	return nil
}

func (s *SQLStore) StoreSent(ctx context.Context, seq int, raw []byte, sentAt time.Time) error {
	if err := checkSeq(seq); err != nil {
		return err
	}
	rec := MessageRecord{SessionID: s.id, SeqNum: seq, SentAt: sentAt.UTC(), Raw: raw}
	err := s.db.Protect(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&rec).Error
	})
	if err != nil {
		return xerrors.Store("store sent", err)
	}
	return nil
}

func (s *SQLStore) RetrieveRange(ctx context.Context, lo, hi int) ([]StoredMessage, error) {
	var recs []MessageRecord
	err := s.db.Protect(func(tx *gorm.DB) error {
		q := tx.WithContext(ctx).
			Where("session_id = ? AND seq_num >= ?", s.id, lo)
		if hi > 0 {
			q = q.Where("seq_num <= ?", hi)
		}
		return q.Order("seq_num").Find(&recs).Error
	})
	if err != nil {
		return nil, xerrors.Store("retrieve", err)
	}

	out := make([]StoredMessage, len(recs))
	for i, r := range recs {
		out[i] = StoredMessage{SeqNum: r.SeqNum, Raw: r.Raw, SentAt: r.SentAt.UTC()}
	}
	return out, nil
}

func (s *SQLStore) Reset(ctx context.Context) error {
	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)
		if err := tx.Where("session_id = ?", s.id).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		return tx.Model(&SessionRecord{}).
			Where("session_id = ?", s.id).
			Updates(map[string]any{"sender_seq_num": 1, "target_seq_num": 1, "creation_time": now}).Error
	})
	if err != nil {
		return xerrors.Store("reset", err)
	}
	s.commitAll(1, 1, now)
	return nil
}

func (s *SQLStore) Refresh(ctx context.Context) error {
	var rec SessionRecord
	err := s.db.Protect(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Where("session_id = ?", s.id).First(&rec).Error
	})
	if err != nil {
		return xerrors.Store("refresh", err)
	}
	s.commitAll(rec.SenderSeqNum, rec.TargetSeqNum, rec.CreationTime)
	return nil
}

// Close 连接池由 SQLFactory 的持有者关闭.
func (s *SQLStore) Close() error { return nil }
