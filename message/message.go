// Package message 实现 FIX 报文的有序字段容器与 tag=value 线路编解码.
package message

import (
	"bytes"
	"time"

	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/tag"
)

// SOH 字段分隔符.
const SOH = 0x01

// Message 由头、体、尾三个容器组成.
// 已发送的报文不可变，构造下一条时先 Clone.
type Message struct {
	Header  *FieldMap
	Body    *FieldMap
	Trailer *FieldMap

	// ReceiveTime 入站报文的接收时间.
	ReceiveTime time.Time

	raw []byte
}

// NewMessage 创建空报文.
func NewMessage() *Message {
	return &Message{
		Header:  NewFieldMap(headerOrder...),
		Body:    NewFieldMap(),
		Trailer: NewFieldMap(trailerOrder...),
	}
}

// New 创建指定类型的报文.
func New(msgType enum.MsgType) *Message {
	m := NewMessage()
	m.Header.Set(tag.MsgType, string(msgType))
	return m
}

// MsgType 报文类型，缺失时返回空.
func (m *Message) MsgType() enum.MsgType {
	v, _ := m.Header.Get(tag.MsgType)
	return enum.MsgType(v)
}

// IsAdmin 是否会话层管理报文.
func (m *Message) IsAdmin() bool {
	return m.MsgType().IsAdmin()
}

// SeqNum 返回 MsgSeqNum.
func (m *Message) SeqNum() (int, error) {
	return m.Header.GetInt(tag.MsgSeqNum)
}

// PossDup 报告 PossDupFlag 是否为 Y.
func (m *Message) PossDup() bool {
	v, _ := m.Header.Get(tag.PossDupFlag)
	return v == "Y"
}

// SessionID 从发送方视角构造会话标识.
func (m *Message) SessionID() SessionID {
	begin, _ := m.Header.Get(tag.BeginString)
	sender, _ := m.Header.Get(tag.SenderCompID)
	target, _ := m.Header.Get(tag.TargetCompID)
	return SessionID{BeginString: begin, SenderCompID: sender, TargetCompID: target}
}

// ReverseSessionID 从接收方视角构造会话标识.
func (m *Message) ReverseSessionID() SessionID {
	return m.SessionID().Reverse()
}

// Raw 入站报文的原始字节，构建出的报文返回 nil.
func (m *Message) Raw() []byte {
	return m.raw
}

// Clone 深拷贝，不保留原始字节.
func (m *Message) Clone() *Message {
	return &Message{
		Header:  m.Header.Clone(),
		Body:    m.Body.Clone(),
		Trailer: m.Trailer.Clone(),
	}
}

// Bytes 序列化，等价于 Build(m).
func (m *Message) Bytes() []byte {
	return Build(m)
}

// String 以 '|' 代替 SOH 的可读形式.
func (m *Message) String() string {
	b := m.raw
	if b == nil {
		b = Build(m)
	}
	return string(bytes.ReplaceAll(b, []byte{SOH}, []byte{'|'}))
}
