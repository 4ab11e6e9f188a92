package message

import (
	"github.com/wyfcoding/fixengine/tag"
)

// Dictionary 运行期使用的协议字典: 头尾 Tag 集合、按 MsgType 的重复组模板与原始数据字段.
// 构建完成后只读，可在多个会话间共享.
type Dictionary struct {
	header  map[tag.Tag]struct{}
	trailer map[tag.Tag]struct{}
	groups  map[string]map[tag.Tag]GroupTemplate
	data    map[tag.Tag]tag.Tag
}

var standardHeader = []tag.Tag{
	tag.BeginString, tag.BodyLength, tag.MsgType, tag.SenderCompID, tag.TargetCompID,
	tag.OnBehalfOfCompID, tag.DeliverToCompID, tag.SecureDataLen, tag.SecureData,
	tag.MsgSeqNum, tag.SenderSubID, tag.SenderLocationID, tag.TargetSubID,
	tag.TargetLocationID, tag.OnBehalfOfSubID, tag.OnBehalfOfLocationID, tag.DeliverToSubID,
	tag.DeliverToLocationID, tag.PossDupFlag, tag.PossResend, tag.SendingTime,
	tag.OrigSendingTime, tag.XmlDataLen, tag.XmlData, tag.MessageEncoding,
	tag.LastMsgSeqNumProcessed, tag.NoHops, tag.ApplVerID, tag.CstmApplVerID,
}

var standardTrailer = []tag.Tag{tag.SignatureLength, tag.Signature, tag.CheckSum}

// headerOrder 构建报文时头部的输出顺序.
var headerOrder = []tag.Tag{
	tag.BeginString, tag.BodyLength, tag.MsgType, tag.SenderCompID, tag.TargetCompID,
	tag.MsgSeqNum, tag.PossDupFlag, tag.SendingTime, tag.OrigSendingTime,
}

var trailerOrder = []tag.Tag{tag.SignatureLength, tag.Signature, tag.CheckSum}

// NewDictionary 创建包含标准头尾、NoHops 组与默认数据字段的字典.
func NewDictionary() *Dictionary {
	d := &Dictionary{
		header:  make(map[tag.Tag]struct{}),
		trailer: make(map[tag.Tag]struct{}),
		groups:  make(map[string]map[tag.Tag]GroupTemplate),
		data:    make(map[tag.Tag]tag.Tag),
	}
	d.AddHeaderTags(standardHeader...)
	for _, t := range standardTrailer {
		d.trailer[t] = struct{}{}
	}
	d.AddDataField(tag.SecureDataLen, tag.SecureData)
	d.AddDataField(tag.SignatureLength, tag.Signature)
	d.AddDataField(tag.RawDataLength, tag.RawData)
	d.AddDataField(tag.XmlDataLen, tag.XmlData)
	d.AddGroup("", GroupTemplate{CountTag: tag.NoHops, Fields: []tag.Tag{628, 629, 630}})
	return d
}

var defaultDictionary = NewDictionary()

// DefaultDictionary 返回共享的默认字典，调用方不得修改.
func DefaultDictionary() *Dictionary {
	return defaultDictionary
}

// AddHeaderTags 追加头部 Tag (自定义头字段).
func (d *Dictionary) AddHeaderTags(tags ...tag.Tag) {
	for _, t := range tags {
		d.header[t] = struct{}{}
	}
}

// AddGroup 注册重复组，msgType 为空表示适用于所有报文.
func (d *Dictionary) AddGroup(msgType string, g GroupTemplate) {
	m, ok := d.groups[msgType]
	if !ok {
		m = make(map[tag.Tag]GroupTemplate)
		d.groups[msgType] = m
	}
	m[g.CountTag] = g
}

// AddDataField 注册长度字段与原始数据字段的配对.
func (d *Dictionary) AddDataField(lengthTag, dataTag tag.Tag) {
	d.data[lengthTag] = dataTag
}

func (d *Dictionary) IsHeader(t tag.Tag) bool {
	_, ok := d.header[t]
	return ok
}

func (d *Dictionary) IsTrailer(t tag.Tag) bool {
	_, ok := d.trailer[t]
	return ok
}

// Group 查找 msgType 下以 countTag 开头的重复组，其次查找通用组.
func (d *Dictionary) Group(msgType string, countTag tag.Tag) (GroupTemplate, bool) {
	if g, ok := d.groups[msgType][countTag]; ok {
		return g, true
	}
	g, ok := d.groups[""][countTag]
	return g, ok
}

// DataTag 返回长度字段对应的数据字段.
func (d *Dictionary) DataTag(lengthTag tag.Tag) (tag.Tag, bool) {
	t, ok := d.data[lengthTag]
	return t, ok
}
