package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

func baseConfig() config.SessionConfig {
	return config.SessionConfig{
		BeginString:    "FIX.4.4",
		SenderCompID:   "A",
		TargetCompID:   "B",
		ConnectionType: "acceptor",
	}
}

func TestSettingsFromConfigDefaults(t *testing.T) {
	id, st, err := SettingsFromConfig(baseConfig())
	require.NoError(t, err)
	assert.Equal(t, "FIX.4.4:A->B", id.String())
	assert.False(t, st.Initiator)
	assert.Equal(t, DefaultHeartBtInt, st.HeartBtInt)
	assert.InDelta(t, DefaultTestRequestDelayMultiplier, st.TestRequestDelayMultiplier, 1e-9)
	assert.Equal(t, field.Millis, st.Precision)
	assert.Equal(t, GapQueue, st.GapPolicy)
	assert.Nil(t, st.Window)
	assert.Equal(t, DefaultLogonTimeout, st.LogonTimeout)
}

func TestSettingsFromConfigFull(t *testing.T) {
	c := baseConfig()
	c.ConnectionType = "initiator"
	c.ConnectAddress = "127.0.0.1:9880"
	c.HeartBtInt = 10
	c.TestRequestDelayMultiplier = 1.0
	c.StartTime = "22:00:00"
	c.EndTime = "06:00:00"
	c.ResetSchedule = "0 0 22 * * *"
	c.PreferredFieldOrder = []int{55, 11}
	c.TimestampPrecision = "micros"
	c.GapPolicy = "discard"
	c.ResendRateLimit = 100

	_, st, err := SettingsFromConfig(c)
	require.NoError(t, err)
	assert.True(t, st.Initiator)
	assert.Equal(t, 10*time.Second, st.HeartBtInt)
	assert.Equal(t, &Window{Start: 22 * time.Hour, End: 6 * time.Hour}, st.Window)
	assert.Equal(t, []tag.Tag{tag.Symbol, tag.ClOrdID}, st.PreferredFieldOrder)
	assert.Equal(t, field.Micros, st.Precision)
	assert.Equal(t, GapDiscard, st.GapPolicy)
	assert.Equal(t, "0 0 22 * * *", st.ResetSchedule)
}

func TestSettingsFromConfigErrors(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(c *config.SessionConfig)
	}{
		{"begin_string", func(c *config.SessionConfig) { c.BeginString = "FIX.5.0" }},
		{"sender_comp_id", func(c *config.SessionConfig) { c.SenderCompID = "" }},
		{"connection_type", func(c *config.SessionConfig) { c.ConnectionType = "both" }},
		{"connect_address", func(c *config.SessionConfig) { c.ConnectionType = "initiator" }},
		{"heartbeat_interval", func(c *config.SessionConfig) { c.HeartBtInt = -1 }},
		{"end_time", func(c *config.SessionConfig) { c.StartTime = "08:00:00" }},
		{"start_time", func(c *config.SessionConfig) { c.EndTime = "08:00:00" }},
		{"start_time", func(c *config.SessionConfig) { c.StartTime, c.EndTime = "8:00", "09:00:00" }},
		{"end_time", func(c *config.SessionConfig) { c.StartTime, c.EndTime = "08:00:00", "24:00:00" }},
		{"reset_schedule", func(c *config.SessionConfig) { c.ResetSchedule = "every day" }},
		{"preferred_field_order", func(c *config.SessionConfig) { c.PreferredFieldOrder = []int{55, 0} }},
		{"timestamp_precision", func(c *config.SessionConfig) { c.TimestampPrecision = "picos" }},
		{"gap_policy", func(c *config.SessionConfig) { c.GapPolicy = "ignore" }},
		{"resend_rate_limit", func(c *config.SessionConfig) { c.ResendRateLimit = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			c := baseConfig()
			tc.mutate(&c)
			_, _, err := SettingsFromConfig(c)
			require.Error(t, err)
			assert.True(t, xerrors.Is(err, xerrors.ErrSessionConfig))
			assert.Equal(t, tc.field, xerrors.SessionField(err))
		})
	}
}

func TestWindowContains(t *testing.T) {
	day := &Window{Start: 8 * time.Hour, End: 17 * time.Hour}
	night := &Window{Start: 22 * time.Hour, End: 6 * time.Hour}
	at := func(h, m int) time.Time { return time.Date(2024, 3, 15, h, m, 0, 0, time.UTC) }

	assert.True(t, day.Contains(at(8, 0)))
	assert.True(t, day.Contains(at(17, 0)))
	assert.False(t, day.Contains(at(17, 1)))
	assert.False(t, day.Contains(at(7, 59)))

	assert.True(t, night.Contains(at(23, 0)))
	assert.True(t, night.Contains(at(5, 0)))
	assert.False(t, night.Contains(at(12, 0)))

	var always *Window
	assert.True(t, always.Contains(at(3, 0)))
	assert.False(t, always.NeedsReset(at(0, 0).AddDate(-1, 0, 0), at(3, 0)))
}

func TestWindowStartAndReset(t *testing.T) {
	night := &Window{Start: 22 * time.Hour, End: 6 * time.Hour}
	now := time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 14, 22, 0, 0, 0, time.UTC), night.StartOf(now))
	assert.True(t, night.StartOf(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)).IsZero())

	assert.True(t, night.NeedsReset(time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC), now))
	assert.False(t, night.NeedsReset(time.Date(2024, 3, 14, 23, 0, 0, 0, time.UTC), now))
}

func TestWindowFullDay(t *testing.T) {
	w := &Window{Start: 17 * time.Hour, End: 17 * time.Hour}
	before := time.Date(2024, 3, 15, 16, 59, 59, 0, time.UTC)
	after := time.Date(2024, 3, 15, 17, 0, 1, 0, time.UTC)
	for _, ts := range []time.Time{before, after, time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)} {
		assert.True(t, w.Contains(ts), ts)
	}

	assert.Equal(t, time.Date(2024, 3, 14, 17, 0, 0, 0, time.UTC), w.StartOf(before))
	assert.Equal(t, time.Date(2024, 3, 15, 17, 0, 0, 0, time.UTC), w.StartOf(after))
	assert.False(t, w.NeedsReset(before, before.Add(time.Second)))
	assert.True(t, w.NeedsReset(before, after))

	c := baseConfig()
	c.StartTime, c.EndTime = "17:00:00", "17:00:00"
	_, st, err := SettingsFromConfig(c)
	require.NoError(t, err)
	require.NotNil(t, st.Window)
	assert.True(t, st.Window.Contains(before))
}

func TestStateMachineTransitions(t *testing.T) {
	m := newMachine()
	assert.False(t, m.Can(EventLogonAccepted))
	require.NoError(t, m.Trigger(t.Context(), EventReceiveLogon))
	assert.Equal(t, LogonReceived, m.Current())
	require.NoError(t, m.Trigger(t.Context(), EventLogonAccepted))
	assert.True(t, m.Current().LoggedOn())
	require.NoError(t, m.Trigger(t.Context(), EventInitiateLogout))
	assert.Equal(t, PendingLogout, m.Current())
	assert.Error(t, m.Trigger(t.Context(), EventSendLogon))
	require.NoError(t, m.Trigger(t.Context(), EventDisconnect))
	assert.Equal(t, "Disconnected", m.Current().String())
}
