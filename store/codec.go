package store

import (
	"encoding/binary"
	"errors"
	"time"
)

const entryHeaderLen = 16

var errShortEntry = errors.New("stored entry too short")

// encodeEntry 序列号 (8 字节) + 发送时间纳秒 (8 字节) + 原始报文.
func encodeEntry(seq int, sentAt time.Time, raw []byte) []byte {
	b := make([]byte, entryHeaderLen+len(raw))
	binary.BigEndian.PutUint64(b[0:8], uint64(seq))
	binary.BigEndian.PutUint64(b[8:16], uint64(sentAt.UnixNano()))
	copy(b[entryHeaderLen:], raw)
	return b
}

func decodeEntry(b []byte) (StoredMessage, error) {
	if len(b) < entryHeaderLen {
		return StoredMessage{}, errShortEntry
	}
	raw := make([]byte, len(b)-entryHeaderLen)
	copy(raw, b[entryHeaderLen:])
	return StoredMessage{
		SeqNum: int(binary.BigEndian.Uint64(b[0:8])),
		SentAt: time.Unix(0, int64(binary.BigEndian.Uint64(b[8:16]))).UTC(),
		Raw:    raw,
	}, nil
}
