package message

import (
	"strconv"

	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/tag"
)

// Build 序列化报文.
// 头部依次输出 8、9、35 再按头部顺序，体按优先顺序，尾部以 10 结束.
// BodyLength 与 CheckSum 总是重新计算，忽略调用方写入的值.
func Build(m *Message) []byte {
	body := make([]byte, 0, 256)
	msgType, _ := m.Header.Get(tag.MsgType)
	body = appendField(body, tag.MsgType, msgType)
	body = writeFieldMap(body, m.Header, tag.BeginString, tag.BodyLength, tag.MsgType)
	body = writeFieldMap(body, m.Body)
	body = writeFieldMap(body, m.Trailer, tag.CheckSum)

	begin, _ := m.Header.Get(tag.BeginString)
	out := make([]byte, 0, len(body)+32)
	out = appendField(out, tag.BeginString, begin)
	out = appendField(out, tag.BodyLength, strconv.Itoa(len(body)))
	out = append(out, body...)

	sum, _ := field.FormatCheckSum(field.CheckSum(out))
	return appendField(out, tag.CheckSum, sum)
}

func writeFieldMap(b []byte, m *FieldMap, skip ...tag.Tag) []byte {
outer:
	for _, t := range m.Tags() {
		for _, s := range skip {
			if s == t {
				continue outer
			}
		}
		if g, ok := m.groups[t]; ok {
			b = appendField(b, t, strconv.Itoa(g.Len()))
			for _, e := range g.entries {
				b = writeFieldMap(b, e)
			}
			continue
		}
		b = appendField(b, t, m.values[t])
	}
	return b
}

func appendField(b []byte, t tag.Tag, v string) []byte {
	b = strconv.AppendInt(b, int64(t), 10)
	b = append(b, '=')
	b = append(b, v...)
	return append(b, SOH)
}
