package store

import (
	"context"
	"time"

	"github.com/wyfcoding/fixengine/metrics"
)

// instrumented 记录每次后端操作的耗时.
type instrumented struct {
	MessageStore
	backend string
	m       *metrics.Metrics
}

// Instrument 为 inner 的 I/O 操作记录 fix_store_duration_seconds，m 为 nil 时原样返回.
func Instrument(inner MessageStore, backend string, m *metrics.Metrics) MessageStore {
	if m == nil {
		return inner
	}
	return &instrumented{MessageStore: inner, backend: backend, m: m}
}

func (s *instrumented) observe(op string) func() {
	start := time.Now()
	return func() { s.m.ObserveStore(s.backend, op, start) }
}

func (s *instrumented) IncrementSender(ctx context.Context) error {
	defer s.observe("increment_sender")()
	return s.MessageStore.IncrementSender(ctx)
}

func (s *instrumented) IncrementTarget(ctx context.Context) error {
	defer s.observe("increment_target")()
	return s.MessageStore.IncrementTarget(ctx)
}

func (s *instrumented) SetSenderSeqNum(ctx context.Context, n int) error {
	defer s.observe("set_sender")()
	return s.MessageStore.SetSenderSeqNum(ctx, n)
}

func (s *instrumented) SetTargetSeqNum(ctx context.Context, n int) error {
	defer s.observe("set_target")()
	return s.MessageStore.SetTargetSeqNum(ctx, n)
}

func (s *instrumented) StoreSent(ctx context.Context, seq int, raw []byte, sentAt time.Time) error {
	defer s.observe("store_sent")()
	return s.MessageStore.StoreSent(ctx, seq, raw, sentAt)
}

func (s *instrumented) RetrieveRange(ctx context.Context, lo, hi int) ([]StoredMessage, error) {
	defer s.observe("retrieve")()
	return s.MessageStore.RetrieveRange(ctx, lo, hi)
}

func (s *instrumented) Reset(ctx context.Context) error {
	defer s.observe("reset")()
	return s.MessageStore.Reset(ctx)
}

func (s *instrumented) Refresh(ctx context.Context) error {
	defer s.observe("refresh")()
	return s.MessageStore.Refresh(ctx)
}
