package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/scheduler"
	"github.com/wyfcoding/fixengine/store"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

func TestRegistryLookupAndList(t *testing.T) {
	reg := NewRegistry(logging.NewDiscard(), nil)
	b := New(message.SessionID{BeginString: "FIX.4.4", SenderCompID: "B", TargetCompID: "C"},
		testSettings(), store.NewMemoryStore(), nil, WithLogger(logging.NewDiscard()))
	a := New(testID, testSettings(), store.NewMemoryStore(), nil, WithLogger(logging.NewDiscard()))
	require.NoError(t, reg.Register(b))
	require.NoError(t, reg.Register(a))
	assert.Error(t, reg.Register(a))

	got, ok := reg.Lookup(testID)
	require.True(t, ok)
	assert.Same(t, a, got)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Same(t, a, list[0])

	reg.Remove(testID)
	_, ok = reg.Lookup(testID)
	assert.False(t, ok)
}

func TestRegistrySendToTarget(t *testing.T) {
	reg := NewRegistry(logging.NewDiscard(), nil)
	f := newFixture(t, testSettings())
	require.NoError(t, reg.Register(f.s))
	f.acceptLogon(t)

	msg := message.New(enum.MsgTypeNewOrderSingle)
	msg.Header.Set(tag.BeginString, "FIX.4.4")
	msg.Header.Set(tag.SenderCompID, "A")
	msg.Header.Set(tag.TargetCompID, "B")
	order("R1")(msg)
	require.NoError(t, reg.SendToTarget(context.Background(), msg))
	assert.Equal(t, "R1", body(t, f.r.last(t), tag.ClOrdID))

	msg.Header.Set(tag.TargetCompID, "Z")
	err := reg.SendToTarget(context.Background(), msg)
	assert.ErrorIs(t, err, xerrors.ErrSessionNotFound)
}

func TestRegistryResetSchedule(t *testing.T) {
	sched := scheduler.NewScheduler(logging.NewDiscard(), nil)
	sched.Start()
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	reg := NewRegistry(logging.NewDiscard(), sched)
	st := testSettings()
	st.ResetSchedule = "@daily"
	s := New(testID, st, store.NewMemoryStore(), nil, WithLogger(logging.NewDiscard()))
	require.NoError(t, reg.Register(s))

	_, ok := sched.Next(resetJobName(testID))
	assert.True(t, ok)

	reg.Remove(testID)
	_, ok = sched.Next(resetJobName(testID))
	assert.False(t, ok)
}

func TestRegistryStopAll(t *testing.T) {
	reg := NewRegistry(logging.NewDiscard(), nil)
	f := newFixture(t, testSettings())
	require.NoError(t, reg.Register(f.s))
	f.acceptLogon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, reg.StopAll(ctx))

	assert.Equal(t, Disconnected, f.s.State())
	assert.True(t, f.r.isClosed())
	logout := f.r.last(t)
	assert.Equal(t, enum.MsgTypeLogout, logout.MsgType())
	assert.Equal(t, "engine shutting down", body(t, logout, tag.Text))
}
