package xerrors

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound 注册表中不存在对应会话.
var ErrSessionNotFound = errors.New("session not found")

// FieldConversion 创建字段转换错误 (FieldConversionError).
func FieldConversion(kind, value string) *Error {
	return New(ErrFieldConversion, 6, fmt.Sprintf("invalid %s value: %q", kind, value), "", nil)
}

// MessageParse 创建报文结构错误，reason 为 SessionRejectReason.
func MessageParse(reason int, tag int, msg string) *Error {
	e := New(ErrMessageParse, reason, msg, "", nil)
	e.RefTag = tag
	return e
}

// Checksum 创建校验和错误.
func Checksum(declared, computed int) *Error {
	return New(ErrChecksum, 0, "checksum mismatch", "", nil).
		WithDetail("declared=%03d computed=%03d", declared, computed)
}

// LengthMismatch 创建长度不一致错误.
func LengthMismatch(declared, actual int) *Error {
	return New(ErrLengthMismatch, 0, "body length mismatch", "", nil).
		WithDetail("declared=%d actual=%d", declared, actual)
}

// SequenceTooLow 创建序列号过低错误，Message 直接作为 Logout 文本.
func SequenceTooLow(expected, received int) *Error {
	return New(ErrSequence, 0,
		fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d", expected, received), "", nil)
}

// Sequence 创建一般序列号错误.
func Sequence(msg string) *Error {
	return New(ErrSequence, 0, msg, "", nil)
}

// Config 创建全局配置错误.
func Config(msg string, cause error) *Error {
	return New(ErrConfig, 0, msg, "", cause)
}

// SessionConfig 创建会话配置错误并记录字段名.
func SessionConfig(field, msg string) *Error {
	return New(ErrSessionConfig, 0, fmt.Sprintf("%s: %s", field, msg), "", nil).
		WithContext("field", field)
}

// SessionField 返回 SessionConfigError 对应的配置项名称.
func SessionField(err error) string {
	e, ok := FromError(err)
	if !ok || e.Type != ErrSessionConfig {
		return ""
	}
	f, _ := e.Context["field"].(string)
	return f
}

// Store 创建存储错误.
func Store(op string, cause error) *Error {
	return New(ErrStore, 0, "store "+op+" failed", "", cause).WithContext("op", op)
}

// Transport 创建传输错误.
func Transport(msg string, cause error) *Error {
	return New(ErrTransport, 0, msg, "", cause)
}

// NotLoggedOn 会话未登录时发送业务报文.
func NotLoggedOn(session string) *Error {
	return New(ErrNotLoggedOn, 0, "session not logged on", "", nil).WithContext("session", session)
}
