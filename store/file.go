package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/xerrors"
)

// FileStore 每个会话四个文件:
//
//	<name>.seqnums  "SSSSSSSSSS : TTTTTTTTTT" 固定宽度，原地覆盖
//	<name>.body     报文原文顺序追加
//	<name>.header   索引行 "seq,offset,size,sentAtNanos"
//	<name>.session  创建时间 (UTC 时间戳，纳秒精度)
type FileStore struct {
	seqState
	mu       sync.Mutex
	base     string
	sync     bool
	seqFile  *os.File
	bodyFile *os.File
	hdrFile  *os.File
	bodySize int64
	index    map[int]fileEntry
}

type fileEntry struct {
	offset int64
	size   int
	sentAt time.Time
}

// FileFactory 在 Dir 下为每个会话创建 FileStore.
type FileFactory struct {
	Dir  string
	Sync bool
}

// Create 实现 Factory.
func (f FileFactory) Create(_ context.Context, id message.SessionID) (MessageStore, error) {
	return OpenFileStore(f.Dir, id, f.Sync)
}

// OpenFileStore 打开或创建会话文件并加载已有状态.
func OpenFileStore(dir string, id message.SessionID, syncWrites bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Store("open", err)
	}
	s := &FileStore{
		seqState: newSeqState(time.Now()),
		base:     filepath.Join(dir, fileName(id)),
		sync:     syncWrites,
	}

	var err error
	if s.seqFile, err = os.OpenFile(s.base+".seqnums", os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		return nil, xerrors.Store("open", err)
	}
	if s.bodyFile, err = os.OpenFile(s.base+".body", os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		_ = s.Close()
		return nil, xerrors.Store("open", err)
	}
	if s.hdrFile, err = os.OpenFile(s.base+".header", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644); err != nil {
		_ = s.Close()
		return nil, xerrors.Store("open", err)
	}

	if err := s.load(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	created, err := s.loadSession()
	if err != nil {
		return xerrors.Store("load session", err)
	}

	sender, target := 1, 1
	b, err := os.ReadFile(s.base + ".seqnums")
	if err != nil {
		return xerrors.Store("load seqnums", err)
	}
	if len(bytes.TrimSpace(b)) > 0 {
		if _, err := fmt.Sscanf(string(b), "%d : %d", &sender, &target); err != nil {
			return xerrors.Store("load seqnums", err)
		}
	}

	index, err := s.loadIndex()
	if err != nil {
		return xerrors.Store("load header", err)
	}
	st, err := s.bodyFile.Stat()
	if err != nil {
		return xerrors.Store("load body", err)
	}

	s.index = index
	s.bodySize = st.Size()
	s.commitAll(sender, target, created)
	return nil
}

func (s *FileStore) loadSession() (time.Time, error) {
	b, err := os.ReadFile(s.base + ".session")
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(bytes.TrimSpace(b)) == 0) {
		now := time.Now().UTC()
		return now, s.writeSession(now)
	}
	if err != nil {
		return time.Time{}, err
	}
	return field.ParseUTCTimestamp(strings.TrimSpace(string(b)))
}

func (s *FileStore) writeSession(t time.Time) error {
	return os.WriteFile(s.base+".session", []byte(field.FormatUTCTimestamp(t, field.Nanos)), 0o644)
}

func (s *FileStore) loadIndex() (map[int]fileEntry, error) {
	b, err := os.ReadFile(s.base + ".header")
	if err != nil {
		return nil, err
	}
	index := make(map[int]fileEntry)
	for line := range strings.Lines(string(b)) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		var v [4]int64
		for i, p := range parts {
			if v[i], err = strconv.ParseInt(p, 10, 64); err != nil {
				return nil, fmt.Errorf("malformed header line %q: %w", line, err)
			}
		}
		index[int(v[0])] = fileEntry{offset: v[1], size: int(v[2]), sentAt: time.Unix(0, v[3]).UTC()}
	}
	return index, nil
}

// writeSeqNumsLocked 调用方持有 mu.
func (s *FileStore) writeSeqNumsLocked(sender, target int) error {
	if _, err := s.seqFile.WriteAt(fmt.Appendf(nil, "%010d : %010d", sender, target), 0); err != nil {
		return xerrors.Store("write seqnums", err)
	}
	if s.sync {
		if err := s.seqFile.Sync(); err != nil {
			return xerrors.Store("sync seqnums", err)
		}
	}
	return nil
}

// updateSeqNums 两个方向共用一条记录，读取、落盘与提交都在 mu 内完成.
func (s *FileStore) updateSeqNums(next func(sender, target int) (int, int, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, target, err := next(s.NextSenderSeqNum(), s.NextTargetSeqNum())
	if err != nil {
		return err
	}
	if err := s.writeSeqNumsLocked(sender, target); err != nil {
		return err
	}
	s.commitSender(sender)
	s.commitTarget(target)
	return nil
}

func (s *FileStore) IncrementSender(context.Context) error {
	return s.updateSeqNums(func(sender, target int) (int, int, error) {
		return sender + 1, target, nil
	})
}

func (s *FileStore) IncrementTarget(context.Context) error {
	return s.updateSeqNums(func(sender, target int) (int, int, error) {
		return sender, target + 1, nil
	})
}

func (s *FileStore) SetSenderSeqNum(_ context.Context, n int) error {
	return s.updateSeqNums(func(_, target int) (int, int, error) {
		return n, target, checkSeq(n)
	})
}

func (s *FileStore) SetTargetSeqNum(_ context.Context, n int) error {
	return s.updateSeqNums(func(sender, _ int) (int, int, error) {
		return sender, n, checkSeq(n)
	})
}

func (s *FileStore) StoreSent(_ context.Context, seq int, raw []byte, sentAt time.Time) error {
	if err := checkSeq(seq); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.bodySize
	if _, err := s.bodyFile.WriteAt(raw, offset); err != nil {
		return xerrors.Store("write body", err)
	}
	line := fmt.Appendf(nil, "%d,%d,%d,%d\n", seq, offset, len(raw), sentAt.UnixNano())
	if _, err := s.hdrFile.Write(line); err != nil {
		return xerrors.Store("write header", err)
	}
	if s.sync {
		if err := s.bodyFile.Sync(); err != nil {
			return xerrors.Store("sync body", err)
		}
		if err := s.hdrFile.Sync(); err != nil {
			return xerrors.Store("sync header", err)
		}
	}
	s.bodySize += int64(len(raw))
	s.index[seq] = fileEntry{offset: offset, size: len(raw), sentAt: sentAt.UTC()}
	return nil
}

func (s *FileStore) RetrieveRange(_ context.Context, lo, hi int) ([]StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StoredMessage
	for _, seq := range slices.Sorted(maps.Keys(s.index)) {
		if seq < lo || (hi > 0 && seq > hi) {
			continue
		}
		e := s.index[seq]
		raw := make([]byte, e.size)
		if _, err := s.bodyFile.ReadAt(raw, e.offset); err != nil {
			return nil, xerrors.Store("read body", err)
		}
		out = append(out, StoredMessage{SeqNum: seq, Raw: raw, SentAt: e.sentAt})
	}
	return out, nil
}

func (s *FileStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range []*os.File{s.bodyFile, s.hdrFile, s.seqFile} {
		if err := f.Truncate(0); err != nil {
			return xerrors.Store("reset", err)
		}
	}
	s.index = make(map[int]fileEntry)
	s.bodySize = 0
	now := time.Now().UTC()
	if err := s.writeSession(now); err != nil {
		return xerrors.Store("reset", err)
	}
	if err := s.writeSeqNumsLocked(1, 1); err != nil {
		return err
	}
	s.commitAll(1, 1, now)
	return nil
}

// Refresh 重新读取磁盘上的全部状态.
func (s *FileStore) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Close() error {
	var errs []error
	for _, f := range []*os.File{s.seqFile, s.bodyFile, s.hdrFile} {
		if f != nil {
			errs = append(errs, f.Close())
		}
	}
	return errors.Join(errs...)
}
