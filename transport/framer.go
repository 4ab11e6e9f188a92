// Package transport 在 net.Conn 上承载 FIX 会话：报文切分、接受端与发起端.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

const soh = '\x01'

// DefaultMaxMessageSize 单条报文的默认上限.
const DefaultMaxMessageSize = 1 << 20

var (
	// ErrGarbled 8= 之后不是合法的 9=，已跳过，可继续读取.
	ErrGarbled = errors.New("garbled message frame")
	// ErrMessageTooLarge 声明的长度超过上限，流无法恢复.
	ErrMessageTooLarge = errors.New("message exceeds max size")
)

// Framer 按 BodyLength 从字节流切分报文，不校验校验和.
// 8= 之前的字节被丢弃，只在 SOH 之后 (或流开头) 识别新报文.
type Framer struct {
	r    *bufio.Reader
	max  int
	prev byte
}

// NewFramer maxSize 不大于 0 时使用 DefaultMaxMessageSize.
func NewFramer(r io.Reader, maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{r: bufio.NewReaderSize(r, 4096), max: maxSize, prev: soh}
}

// Next 返回下一条完整报文的字节. 返回 ErrGarbled 时可以继续调用.
func (f *Framer) Next() ([]byte, error) {
	if err := f.seekBegin(); err != nil {
		return nil, err
	}

	begin, err := f.readField()
	if err != nil {
		return nil, err
	}
	length, err := f.readField()
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(length, []byte("9=")) {
		return nil, ErrGarbled
	}
	n, err := strconv.Atoi(string(length[2 : len(length)-1]))
	if err != nil || n < 0 {
		return nil, ErrGarbled
	}

	total := len(begin) + len(length) + n + 7
	if total > f.max {
		return nil, ErrMessageTooLarge
	}
	msg := make([]byte, total)
	off := copy(msg, begin)
	off += copy(msg[off:], length)
	if _, err := io.ReadFull(f.r, msg[off:]); err != nil {
		return nil, err
	}
	f.prev = msg[len(msg)-1]
	return msg, nil
}

// seekBegin 跳到下一个 "8=" 之前，"8=" 本身不消费.
func (f *Framer) seekBegin() error {
	for {
		if f.prev == soh {
			head, err := f.r.Peek(2)
			if err != nil {
				return err
			}
			if head[0] == '8' && head[1] == '=' {
				return nil
			}
		}
		b, err := f.r.ReadByte()
		if err != nil {
			return err
		}
		f.prev = b
	}
}

// readField 读取到 SOH (含)，超长视为乱码.
func (f *Framer) readField() ([]byte, error) {
	var field []byte
	for {
		chunk, err := f.r.ReadSlice(soh)
		field = append(field, chunk...)
		if len(field) > 64 {
			f.prev = field[len(field)-1]
			return nil, ErrGarbled
		}
		if err == nil {
			f.prev = soh
			return field, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}
