package session

import (
	"context"

	"github.com/wyfcoding/fixengine/message"
)

// Application 接收会话事件与报文的业务回调.
//
// ToApp 返回错误时报文不发送. FromAdmin 对 Logon 返回错误时拒绝登录.
// FromApp 返回 *xerrors.Error 时按其 Code 回复 Reject，其他错误按 Other 拒绝.
type Application interface {
	OnCreate(id message.SessionID)
	OnLogon(id message.SessionID)
	OnLogout(id message.SessionID)
	ToAdmin(msg *message.Message, id message.SessionID)
	ToApp(msg *message.Message, id message.SessionID) error
	FromAdmin(msg *message.Message, id message.SessionID) error
	FromApp(msg *message.Message, id message.SessionID) error
}

// NopApplication 全部回调为空实现，可嵌入只关心部分回调的类型.
type NopApplication struct{}

func (NopApplication) OnCreate(message.SessionID) {}
func (NopApplication) OnLogon(message.SessionID) {}
func (NopApplication) OnLogout(message.SessionID) {}
func (NopApplication) ToAdmin(*message.Message, message.SessionID) {}
func (NopApplication) ToApp(*message.Message, message.SessionID) error { return nil }
func (NopApplication) FromAdmin(*message.Message, message.SessionID) error { return nil }
func (NopApplication) FromApp(*message.Message, message.SessionID) error { return nil }

// Responder 会话写出字节与关闭连接的通道，由传输层实现.
type Responder interface {
	Send(ctx context.Context, raw []byte) error
	Disconnect() error
}
