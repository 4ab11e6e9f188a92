// Package tag 定义会话层用到的 FIX 字段编号.
package tag

import "strconv"

// Tag 字段编号，正整数.
type Tag int

func (t Tag) String() string { return strconv.Itoa(int(t)) }

// 标准头.
const (
	BeginString            Tag = 8
	BodyLength             Tag = 9
	MsgType                Tag = 35
	SenderCompID           Tag = 49
	TargetCompID           Tag = 56
	OnBehalfOfCompID       Tag = 115
	DeliverToCompID        Tag = 128
	SecureDataLen          Tag = 90
	SecureData             Tag = 91
	MsgSeqNum              Tag = 34
	SenderSubID            Tag = 50
	SenderLocationID       Tag = 142
	TargetSubID            Tag = 57
	TargetLocationID       Tag = 143
	OnBehalfOfSubID        Tag = 116
	OnBehalfOfLocationID   Tag = 144
	DeliverToSubID         Tag = 129
	DeliverToLocationID    Tag = 145
	PossDupFlag            Tag = 43
	PossResend             Tag = 97
	SendingTime            Tag = 52
	OrigSendingTime        Tag = 122
	XmlDataLen             Tag = 212
	XmlData                Tag = 213
	MessageEncoding        Tag = 347
	LastMsgSeqNumProcessed Tag = 369
	NoHops                 Tag = 627
	ApplVerID              Tag = 1128
	CstmApplVerID          Tag = 1129
)

// 标准尾.
const (
	SignatureLength Tag = 93
	Signature       Tag = 89
	CheckSum        Tag = 10
)

// 会话层报文体.
const (
	EncryptMethod         Tag = 98
	HeartBtInt            Tag = 108
	TestReqID             Tag = 112
	BeginSeqNo            Tag = 7
	EndSeqNo              Tag = 16
	NewSeqNo              Tag = 36
	GapFillFlag           Tag = 123
	RefSeqNum             Tag = 45
	RefTagID              Tag = 371
	RefMsgType            Tag = 372
	SessionRejectReason   Tag = 373
	Text                  Tag = 58
	ResetSeqNumFlag       Tag = 141
	RawDataLength         Tag = 95
	RawData               Tag = 96
	DefaultApplVerID      Tag = 1137
	NextExpectedMsgSeqNum Tag = 789
)

// 常用业务字段.
const (
	ClOrdID       Tag = 11
	Symbol        Tag = 55
	Side          Tag = 54
	OrderQty      Tag = 38
	Price         Tag = 44
	OrdType       Tag = 40
	NoPartyIDs    Tag = 453
	PartyID       Tag = 448
	PartyIDSource Tag = 447
	PartyRole     Tag = 452
)
