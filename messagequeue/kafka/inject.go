package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/wyfcoding/fixengine/message"
)

// Sender 由 session.Registry 实现.
type Sender interface {
	SendToTarget(ctx context.Context, msg *message.Message) error
}

// SendHandler 将消息体视为完整的 FIX 报文，按其 CompID 路由到会话发送.
// 序列号与 SendingTime 由会话重新分配.
func SendHandler(s Sender, dict *message.Dictionary) Handler {
	return func(ctx context.Context, km kafkago.Message) error {
		msg, err := message.Parse(km.Value, dict)
		if err != nil {
			return err
		}
		return s.SendToTarget(ctx, msg)
	}
}
