package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/session"
	"github.com/wyfcoding/fixengine/tag"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(m kafkago.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	m := metrics.NewMetrics("test")
	p := NewProducerWithWriter(w, nil, "fix.dropcopy", logging.NewDiscard(), m)

	require.NoError(t, p.Publish(context.Background(), []byte("k"), []byte("v"),
		kafkago.Header{Key: "session", Value: []byte("s")}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "v", string(w.msgs[0].Value))
	assert.Equal(t, "s", header(w.msgs[0], "session"))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerFailureGoesToDLQ(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	dlq := &fakeWriter{}
	p := NewProducerWithWriter(w, dlq, "fix.dropcopy", logging.NewDiscard(), nil)

	err := p.Publish(context.Background(), []byte("k"), []byte("v"))
	require.Error(t, err)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "v", string(dlq.msgs[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, dlq.closed)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	return p.err
}

type refusingApp struct {
	session.NopApplication
}

func (refusingApp) FromApp(*message.Message, message.SessionID) error {
	return errors.New("refused")
}

var sid = message.SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}

func newOrder(seq int) *message.Message {
	m := message.New(enum.MsgTypeNewOrderSingle)
	m.Header.Set(tag.BeginString, sid.BeginString)
	m.Header.Set(tag.SenderCompID, sid.SenderCompID)
	m.Header.Set(tag.TargetCompID, sid.TargetCompID)
	m.Header.SetInt(tag.MsgSeqNum, seq)
	m.Body.Set(tag.ClOrdID, "C1")
	return m
}

func TestForwarderCopiesAcceptedMessages(t *testing.T) {
	pub := &fakePublisher{}
	f := NewForwarder(nil, pub, logging.NewDiscard())

	require.NoError(t, f.ToApp(newOrder(7), sid))
	require.NoError(t, f.FromApp(newOrder(3), sid))
	require.Len(t, pub.msgs, 2)

	out := pub.msgs[0]
	assert.Equal(t, sid.String(), string(out.Key))
	assert.Equal(t, DirectionOutbound, header(out, "direction"))
	assert.Equal(t, "7", header(out, "seq_num"))
	assert.Equal(t, "D", header(out, "msg_type"))
	assert.Contains(t, string(out.Value), "\x0111=C1\x01")

	assert.Equal(t, DirectionInbound, header(pub.msgs[1], "direction"))
	assert.Equal(t, "false", header(pub.msgs[1], "poss_dup"))
}

func TestForwarderRespectsApplication(t *testing.T) {
	pub := &fakePublisher{}
	f := NewForwarder(refusingApp{}, pub, logging.NewDiscard())
	assert.Error(t, f.FromApp(newOrder(3), sid))
	assert.Empty(t, pub.msgs)

	pub.err = errors.New("broker down")
	assert.NoError(t, f.ToApp(newOrder(4), sid))
}

type fakeSender struct {
	sent []*message.Message
	err  error
}

func (s *fakeSender) SendToTarget(_ context.Context, msg *message.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func TestSendHandler(t *testing.T) {
	s := &fakeSender{}
	h := SendHandler(s, nil)

	require.NoError(t, h(context.Background(), kafkago.Message{Value: message.Build(newOrder(1))}))
	require.Len(t, s.sent, 1)
	assert.Equal(t, sid, s.sent[0].SessionID())

	assert.Error(t, h(context.Background(), kafkago.Message{Value: []byte("garbage")}))
	assert.Len(t, s.sent, 1)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafkago.Message
	committed []kafkago.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{pending: []kafkago.Message{
		{Value: []byte("ok"), Offset: 1},
		{Value: []byte("bad"), Offset: 2},
		{Value: []byte("ok"), Offset: 3},
	}}
	c := NewConsumerWithReader(r, "fix.orders", logging.NewDiscard(), metrics.NewMetrics("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Consume(ctx, func(_ context.Context, m kafkago.Message) error {
			if string(m.Value) == "bad" {
				return errors.New("bad message")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return r.commits() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int64(3), r.committed[1].Offset)
	require.NoError(t, c.Close())
}
