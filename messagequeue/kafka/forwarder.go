package kafka

import (
	"context"
	"log/slog"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/session"
)

// 转发方向.
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)

// Publisher 由 Producer 实现.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// Forwarder 包装业务回调，把收发的业务报文抄送到 Kafka.
// 抄送失败只记录日志，不影响会话处理.
type Forwarder struct {
	session.Application
	pub    Publisher
	logger *slog.Logger
}

// NewForwarder next 为 nil 时使用 session.NopApplication.
func NewForwarder(next session.Application, pub Publisher, logger *logging.Logger) *Forwarder {
	if next == nil {
		next = session.NopApplication{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Forwarder{Application: next, pub: pub, logger: logger.Named("forwarder").Logger}
}

// FromApp 业务回调接受后抄送.
func (f *Forwarder) FromApp(msg *message.Message, id message.SessionID) error {
	if err := f.Application.FromApp(msg, id); err != nil {
		return err
	}
	f.forward(msg, id, DirectionInbound)
	return nil
}

// ToApp 业务回调允许发送后抄送，重传的报文同样抄送并带 poss_dup 标记.
func (f *Forwarder) ToApp(msg *message.Message, id message.SessionID) error {
	if err := f.Application.ToApp(msg, id); err != nil {
		return err
	}
	f.forward(msg, id, DirectionOutbound)
	return nil
}

func (f *Forwarder) forward(msg *message.Message, id message.SessionID, direction string) {
	raw := msg.Raw()
	if raw == nil {
		raw = message.Build(msg)
	}
	seq, _ := msg.SeqNum()
	headers := []kafkago.Header{
		{Key: "session", Value: []byte(id.String())},
		{Key: "direction", Value: []byte(direction)},
		{Key: "msg_type", Value: []byte(msg.MsgType())},
		{Key: "seq_num", Value: []byte(strconv.Itoa(seq))},
		{Key: "poss_dup", Value: []byte(strconv.FormatBool(msg.PossDup()))},
	}
	ctx := context.Background()
	if err := f.pub.Publish(ctx, []byte(id.String()), raw, headers...); err != nil {
		f.logger.Warn("drop copy failed", "session", id.String(), "direction", direction, "seq", seq, "error", err)
	}
}
