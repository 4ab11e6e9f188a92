package store

import (
	"bytes"
	"context"
	"path"

	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/retry"
	"github.com/wyfcoding/fixengine/storage"
)

// ArchivingStore 在每次 Reset 之前把报文日志上传到对象存储.
// 对象名为 "<prefix>/<session>/<creation>.log"，每条报文后跟一个换行.
// 上传失败只记录日志，重置照常进行.
type ArchivingStore struct {
	MessageStore
	storage storage.Storage
	prefix  string
	name    string
	retry   retry.Config
	logger  *logging.Logger
}

// NewArchivingStore 包装 inner.
func NewArchivingStore(inner MessageStore, st storage.Storage, prefix string, id message.SessionID, logger *logging.Logger) *ArchivingStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &ArchivingStore{
		MessageStore: inner,
		storage:      st,
		prefix:       prefix,
		name:         fileName(id),
		retry:        retry.DefaultRetryConfig(),
		logger:       logger,
	}
}

// ObjectName 当前日志归档时使用的对象名.
func (s *ArchivingStore) ObjectName() string {
	created := field.FormatUTCTimestamp(s.CreationTime(), field.Millis)
	return path.Join(s.prefix, s.name, created+".log")
}

// Archive 上传当前日志，日志为空时不上传.
func (s *ArchivingStore) Archive(ctx context.Context) error {
	msgs, err := s.MessageStore.RetrieveRange(ctx, 1, 0)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		buf.Write(m.Raw)
		buf.WriteByte('\n')
	}
	name := s.ObjectName()
	data := buf.Bytes()

	defer logging.LogDuration(ctx, "archive message log", "object", name, "messages", len(msgs))()
	return retry.Retry(ctx, func() error {
		return s.storage.Upload(ctx, name, bytes.NewReader(data), int64(len(data)), "text/plain")
	}, s.retry)
}

func (s *ArchivingStore) Reset(ctx context.Context) error {
	if err := s.Archive(ctx); err != nil {
		s.logger.ErrorContext(ctx, "archive message log failed", "object", s.ObjectName(), "error", err)
	}
	return s.MessageStore.Reset(ctx)
}

// Unwrap 返回被包装的存储.
func (s *ArchivingStore) Unwrap() MessageStore { return s.MessageStore }

