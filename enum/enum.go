// Package enum 定义会话层使用的枚举取值.
package enum

// MsgType 报文类型.
type MsgType string

// 会话层报文类型.
const (
	MsgTypeHeartbeat     MsgType = "0"
	MsgTypeTestRequest   MsgType = "1"
	MsgTypeResendRequest MsgType = "2"
	MsgTypeReject        MsgType = "3"
	MsgTypeSequenceReset MsgType = "4"
	MsgTypeLogout        MsgType = "5"
	MsgTypeLogon         MsgType = "A"
)

// 常用业务报文类型.
const (
	MsgTypeNewOrderSingle     MsgType = "D"
	MsgTypeExecutionReport    MsgType = "8"
	MsgTypeOrderCancelRequest MsgType = "F"
	MsgTypeNews               MsgType = "B"
)

// IsAdmin 报告报文类型是否属于会话层管理报文.
func (t MsgType) IsAdmin() bool {
	if len(t) != 1 {
		return false
	}
	switch t {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest, MsgTypeReject,
		MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}

// SessionRejectReason 取值.
const (
	RejectInvalidTagNumber           = 0
	RejectRequiredTagMissing         = 1
	RejectTagNotDefinedForMsgType    = 2
	RejectUndefinedTag               = 3
	RejectTagSpecifiedWithoutValue   = 4
	RejectValueIsIncorrect           = 5
	RejectIncorrectDataFormat        = 6
	RejectCompIDProblem              = 9
	RejectSendingTimeAccuracyProblem = 10
	RejectInvalidMsgType             = 11
	RejectTagAppearsMoreThanOnce     = 13
	RejectTagSpecifiedOutOfOrder     = 14
	RejectRepeatingGroupOutOfOrder   = 15
	RejectIncorrectNumInGroupCount   = 16
	RejectOther                      = 99
)

// 协议版本.
const (
	BeginStringFIX40  = "FIX.4.0"
	BeginStringFIX41  = "FIX.4.1"
	BeginStringFIX42  = "FIX.4.2"
	BeginStringFIX43  = "FIX.4.3"
	BeginStringFIX44  = "FIX.4.4"
	BeginStringFIXT11 = "FIXT.1.1"
)

// SupportedBeginString 报告是否为可识别的协议版本.
func SupportedBeginString(s string) bool {
	switch s {
	case BeginStringFIX40, BeginStringFIX41, BeginStringFIX42, BeginStringFIX43,
		BeginStringFIX44, BeginStringFIXT11:
		return true
	}
	return false
}

// Y/N.
const (
	BoolYes = "Y"
	BoolNo  = "N"
)

// EncryptMethod 取值.
const EncryptMethodNone = 0
