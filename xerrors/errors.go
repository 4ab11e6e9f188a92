// Package xerrors 定义引擎统一的错误模型，覆盖字段转换、报文解析、序列号与存储等错误大类。
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType 错误的大类
type ErrorType uint

const (
	ErrUnknown ErrorType = iota
	ErrInternal
	ErrInvalidArg
	ErrNotFound
	ErrFieldConversion // 字段值格式非法，可恢复 (回复 Reject)
	ErrMessageParse    // 报文结构错误，可在报文边界恢复 (回复 Reject)
	ErrChecksum        // 校验和不一致，丢弃报文
	ErrLengthMismatch  // BodyLength 与实际长度不符，丢弃报文
	ErrSequence        // 序列号违规，会话级致命
	ErrConfig          // 全局配置错误，启动期致命
	ErrSessionConfig   // 会话配置错误，会话无法激活
	ErrStore           // 持久化 I/O 失败，强制断开
	ErrTransport       // 传输层 I/O 失败
	ErrNotLoggedOn     // 会话未处于可发送状态
)

// Error 增强型错误结构
type Error struct {
	Type    ErrorType      `json:"type"`
	Code    int            `json:"code"`    // 对于可拒绝的错误即 SessionRejectReason
	Message string         `json:"message"` // 对外展示的友好消息，会作为 Reject/Logout 的 Text
	Detail  string         `json:"detail"`  // 对内调试的详细信息
	RefTag  int            `json:"ref_tag"` // 引发错误的字段 Tag，0 表示未知
	Cause   error          `json:"-"`       // 原始错误
	Stack   []string       `json:"stack"`   // 堆栈追踪
	Context map[string]any `json:"context"` // 上下文数据 (SessionID, MsgSeqNum 等)
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %d: %s (Cause: %v)", e.Type.String(), e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %d: %s", e.Type.String(), e.Code, e.Message)
}

// Unwrap 实现 Go 1.13 解包接口
func (e *Error) Unwrap() error {
	return e.Cause
}

func (t ErrorType) String() string {
	names := [...]string{
		"Unknown", "Internal", "InvalidArg", "NotFound", "FieldConversion", "MessageParse",
		"Checksum", "LengthMismatch", "Sequence", "Config", "SessionConfig", "Store",
		"Transport", "NotLoggedOn",
	}
	if int(t) >= len(names) {
		return "Unknown"
	}
	return names[t]
}

// --- 核心构造函数 ---

// New 创建新错误并自动捕获堆栈
func New(errType ErrorType, code int, message string, detail string, cause error) *Error {
	e := &Error{
		Type:    errType,
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
		Context: make(map[string]any),
	}
	e.captureStack()
	return e
}

// captureStack 捕获当前调用栈 (深度限制 10 层)
func (e *Error) captureStack() {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		e.Stack = append(e.Stack, fmt.Sprintf("%s:%d (%s)", frame.File, frame.Line, frame.Function))
		if !more || len(e.Stack) >= depth {
			break
		}
	}
}

// --- 链式 API ---

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithRefTag 记录引发错误的字段。
func (e *Error) WithRefTag(tag int) *Error {
	e.RefTag = tag
	return e
}

// Fatal 报告该错误是否要求会话强制登出。
func (e *Error) Fatal() bool {
	switch e.Type {
	case ErrSequence, ErrConfig, ErrSessionConfig, ErrStore, ErrTransport:
		return true
	default:
		return false
	}
}

// Discardable 报告报文是否应静默丢弃且不改变任何会话状态。
func (e *Error) Discardable() bool {
	return e.Type == ErrChecksum || e.Type == ErrLengthMismatch
}

// --- 快捷构造工具 ---

func Internal(msg string, cause error) *Error {
	return New(ErrInternal, 500, msg, "", cause)
}

func InvalidArg(msg string) *Error {
	return New(ErrInvalidArg, 400, msg, "", nil)
}

func NotFound(msg string) *Error {
	return New(ErrNotFound, 404, msg, "", nil)
}

// Wrap 包装现有错误并捕获堆栈
func Wrap(err error, errType ErrorType, msg string) *Error {
	if err == nil {
		return nil
	}
	// 已经是 *Error 时保留原始类型与堆栈
	if e, ok := FromError(err); ok {
		return &Error{
			Type:    e.Type,
			Code:    e.Code,
			Message: msg,
			Detail:  e.Detail,
			RefTag:  e.RefTag,
			Cause:   err,
			Stack:   e.Stack,
			Context: e.Context,
		}
	}
	return New(errType, int(errType), msg, "", err)
}

// WrapInternal 快速包装内部错误
func WrapInternal(err error, msg string) *Error {
	return Wrap(err, ErrInternal, msg)
}

// FromError 沿错误链查找 *Error
func FromError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is 判断错误链中是否存在指定大类的 *Error。
func Is(err error, errType ErrorType) bool {
	e, ok := FromError(err)
	return ok && e.Type == errType
}
