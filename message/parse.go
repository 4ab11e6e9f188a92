package message

import (
	"bytes"
	"slices"
	"strconv"

	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

var checksumMarker = []byte{SOH, '1', '0', '='}

type token struct {
	tag   tag.Tag
	value string
}

// Parse 解析一条完整报文.
//
// 8 与 9 必须是前两个字段；9 之后恰好 BodyLength 字节后紧跟 10=NNN<SOH> 并结束，
// 否则返回 ErrLengthMismatch；校验和不符返回 ErrChecksum；这两类错误不返回报文.
// 其余结构错误 (重复 Tag、组计数不符、空值等) 返回已解析的部分报文与首个错误，
// 以便会话回复 Reject.
func Parse(raw []byte, dict *Dictionary) (*Message, error) {
	if dict == nil {
		dict = defaultDictionary
	}
	begin, next, ok := readField(raw, 0)
	if !ok || begin.tag != tag.BeginString {
		return nil, xerrors.MessageParse(enum.RejectRequiredTagMissing, int(tag.BeginString),
			"BeginString must be the first field")
	}
	length, bodyStart, ok := readField(raw, next)
	if !ok || length.tag != tag.BodyLength {
		return nil, xerrors.MessageParse(enum.RejectRequiredTagMissing, int(tag.BodyLength),
			"BodyLength must be the second field")
	}
	bodyLen, err := field.ParseInt(length.value)
	if err != nil || bodyLen < 0 {
		return nil, xerrors.MessageParse(enum.RejectIncorrectDataFormat, int(tag.BodyLength),
			"invalid BodyLength")
	}

	cs := bodyStart + bodyLen
	if cs+7 != len(raw) || !bytes.HasPrefix(raw[cs-1:], checksumMarker) || raw[len(raw)-1] != SOH {
		return nil, xerrors.LengthMismatch(bodyLen, actualBodyLength(raw, bodyStart))
	}
	computed := field.CheckSum(raw[:cs])
	declared, err := field.ParseCheckSum(string(raw[cs+3 : cs+6]))
	if err != nil {
		return nil, xerrors.Checksum(-1, computed)
	}
	if declared != computed {
		return nil, xerrors.Checksum(declared, computed)
	}

	msg := NewMessage()
	msg.raw = slices.Clone(raw)
	msg.Header.Set(tag.BeginString, begin.value)
	msg.Header.Set(tag.BodyLength, length.value)
	msg.Trailer.Set(tag.CheckSum, string(raw[cs+3:cs+6]))

	p := &parser{dict: dict}
	tokens := p.tokenize(raw[bodyStart:cs])
	start, msgType := 0, ""
	if len(tokens) > 0 && tokens[0].tag == tag.MsgType {
		start, msgType = 1, tokens[0].value
		msg.Header.Set(tag.MsgType, msgType)
	} else {
		// 继续解析其余字段，便于会话按头部信息登出
		p.fail(enum.RejectRequiredTagMissing, tag.MsgType, "MsgType must be the third field")
	}

	lookup := func(t tag.Tag) (GroupTemplate, bool) { return dict.Group(msgType, t) }
	section := 0
	for i := start; i < len(tokens); {
		t := tokens[i].tag
		sec, fm := 1, msg.Body
		switch {
		case dict.IsHeader(t):
			sec, fm = 0, msg.Header
		case dict.IsTrailer(t):
			sec, fm = 2, msg.Trailer
		}
		if sec < section {
			p.fail(enum.RejectTagSpecifiedOutOfOrder, t, "tag specified out of order")
		} else {
			section = sec
		}
		i = p.addField(fm, tokens, i, lookup)
	}
	if p.err != nil {
		return msg, p.err
	}
	return msg, nil
}

// parser 记录首个结构错误并继续解析，尽量保留完整的头部.
type parser struct {
	dict *Dictionary
	err  *xerrors.Error
}

func (p *parser) fail(reason int, t tag.Tag, text string) {
	if p.err == nil {
		p.err = xerrors.MessageParse(reason, int(t), text)
	}
}

// tokenize 按 SOH 切分字段，原始数据字段按前导长度读取 (可含 SOH).
func (p *parser) tokenize(b []byte) []token {
	tokens := make([]token, 0, 16)
	var dataTag tag.Tag
	dataLen := -1
	for pos := 0; pos < len(b); {
		eq := bytes.IndexByte(b[pos:], '=')
		if eq < 0 {
			p.fail(enum.RejectInvalidTagNumber, 0, "missing '=' in field")
			return tokens
		}
		eq += pos
		n, err := strconv.Atoi(string(b[pos:eq]))
		if err != nil || n <= 0 || b[pos] < '0' || b[pos] > '9' {
			p.fail(enum.RejectInvalidTagNumber, 0, "invalid tag number")
		}
		t := tag.Tag(n)

		var end int
		if dataLen >= 0 && t == dataTag {
			end = eq + 1 + dataLen
			if end >= len(b) || b[end] != SOH {
				p.fail(enum.RejectIncorrectDataFormat, t, "data length does not match")
				return tokens
			}
		} else {
			soh := bytes.IndexByte(b[eq+1:], SOH)
			if soh < 0 {
				p.fail(enum.RejectInvalidTagNumber, t, "field not terminated")
				return tokens
			}
			end = eq + 1 + soh
		}
		value := string(b[eq+1 : end])
		pos = end + 1
		dataLen = -1

		if n <= 0 {
			continue
		}
		if value == "" {
			p.fail(enum.RejectTagSpecifiedWithoutValue, t, "tag specified without a value")
			continue
		}
		if dt, ok := p.dict.DataTag(t); ok {
			if l, err := field.ParseInt(value); err == nil && l >= 0 {
				dataTag, dataLen = dt, l
			} else {
				p.fail(enum.RejectIncorrectDataFormat, t, "invalid data length")
			}
		}
		tokens = append(tokens, token{tag: t, value: value})
	}
	return tokens
}

// addField 写入 toks[i]，计数 Tag 展开为重复组，返回下一个位置.
func (p *parser) addField(fm *FieldMap, toks []token, i int, lookup func(tag.Tag) (GroupTemplate, bool)) int {
	t := toks[i]
	if fm.Has(t.tag) {
		p.fail(enum.RejectTagAppearsMoreThanOnce, t.tag, "tag appears more than once")
		return i + 1
	}
	tmpl, ok := lookup(t.tag)
	if !ok {
		fm.Set(t.tag, t.value)
		return i + 1
	}
	return p.parseGroup(fm, toks, i, tmpl)
}

func (p *parser) parseGroup(fm *FieldMap, toks []token, i int, tmpl GroupTemplate) int {
	count, err := field.ParseInt(toks[i].value)
	if err != nil || count < 0 {
		p.fail(enum.RejectIncorrectDataFormat, tmpl.CountTag, "invalid NumInGroup")
		fm.Set(toks[i].tag, toks[i].value)
		return i + 1
	}
	g := NewRepeatingGroup(tmpl)
	delim := tmpl.Delimiter()
	i++
	for i < len(toks) && toks[i].tag == delim {
		entry := g.Add()
		entry.Set(delim, toks[i].value)
		i++
		for i < len(toks) && toks[i].tag != delim && tmpl.isMember(toks[i].tag) {
			i = p.addField(entry, toks, i, tmpl.nested)
		}
	}
	fm.SetGroup(g)
	if g.Len() != count {
		p.fail(enum.RejectIncorrectNumInGroupCount, tmpl.CountTag, "incorrect NumInGroup count")
	}
	return i
}

// readField 读取 pos 处的一个普通字段.
func readField(b []byte, pos int) (token, int, bool) {
	if pos >= len(b) {
		return token{}, pos, false
	}
	eq := bytes.IndexByte(b[pos:], '=')
	if eq <= 0 {
		return token{}, pos, false
	}
	eq += pos
	soh := bytes.IndexByte(b[eq+1:], SOH)
	if soh < 0 {
		return token{}, pos, false
	}
	n, err := strconv.Atoi(string(b[pos:eq]))
	if err != nil {
		return token{}, pos, false
	}
	end := eq + 1 + soh
	return token{tag: tag.Tag(n), value: string(b[eq+1 : end])}, end + 1, true
}

// actualBodyLength 推算实际的 BodyLength，用于错误信息.
func actualBodyLength(raw []byte, bodyStart int) int {
	if idx := bytes.LastIndex(raw, checksumMarker); idx >= bodyStart-1 {
		return idx + 1 - bodyStart
	}
	return len(raw) - bodyStart
}
