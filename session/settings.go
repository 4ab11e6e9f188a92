package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/message"
	"github.com/wyfcoding/fixengine/scheduler"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

// GapPolicy 检测到序列号缺口时对超前报文的处理方式.
type GapPolicy int

const (
	// GapQueue 缓存超前报文，缺口补齐后按序处理.
	GapQueue GapPolicy = iota
	// GapDiscard 丢弃超前报文，由对端一并重传.
	GapDiscard
)

func (p GapPolicy) String() string {
	if p == GapDiscard {
		return "discard"
	}
	return "queue"
}

// 默认值.
const (
	DefaultHeartBtInt                 = 30 * time.Second
	DefaultTestRequestDelayMultiplier = 0.5
	DefaultLogonTimeout               = 10 * time.Second
	DefaultLogoutTimeout              = 2 * time.Second
	DefaultMaxLatency                 = 120 * time.Second
)

// Settings 单个会话的运行参数.
type Settings struct {
	Initiator                  bool
	HeartBtInt                 time.Duration
	TestRequestDelayMultiplier float64
	ResetOnLogon               bool
	ResetOnLogout              bool
	ResetOnDisconnect          bool
	Window                     *Window // nil 表示全天
	ResetSchedule              string  // cron 表达式，空表示不定时重置
	PreferredFieldOrder        []tag.Tag
	Precision                  field.Precision
	GapPolicy                  GapPolicy
	LogonTimeout               time.Duration
	LogoutTimeout              time.Duration
	CheckLatency               bool
	MaxLatency                 time.Duration
	ResendRateLimit            float64 // 每秒重传报文数，0 表示不限
}

// DefaultSettings 返回默认参数.
func DefaultSettings() Settings {
	return Settings{
		HeartBtInt:                 DefaultHeartBtInt,
		TestRequestDelayMultiplier: DefaultTestRequestDelayMultiplier,
		Precision:                  field.Millis,
		LogonTimeout:               DefaultLogonTimeout,
		LogoutTimeout:              DefaultLogoutTimeout,
		MaxLatency:                 DefaultMaxLatency,
	}
}

// SettingsFromConfig 校验并转换会话配置.
// 失败返回 SessionConfigError，xerrors.SessionField 可取出出错的配置项.
func SettingsFromConfig(c config.SessionConfig) (message.SessionID, Settings, error) {
	id := message.SessionID{
		BeginString:  c.BeginString,
		SenderCompID: c.SenderCompID,
		TargetCompID: c.TargetCompID,
		Qualifier:    c.Qualifier,
	}
	st := DefaultSettings()

	if !enum.SupportedBeginString(c.BeginString) {
		return id, st, xerrors.SessionConfig("begin_string", fmt.Sprintf("unsupported version %q", c.BeginString))
	}
	if c.SenderCompID == "" {
		return id, st, xerrors.SessionConfig("sender_comp_id", "must not be empty")
	}
	if c.TargetCompID == "" {
		return id, st, xerrors.SessionConfig("target_comp_id", "must not be empty")
	}

	switch c.ConnectionType {
	case "initiator":
		st.Initiator = true
		if c.ConnectAddress == "" {
			return id, st, xerrors.SessionConfig("connect_address", "required for initiator")
		}
	case "acceptor":
	default:
		return id, st, xerrors.SessionConfig("connection_type", fmt.Sprintf("unknown type %q", c.ConnectionType))
	}

	if c.HeartBtInt < 0 {
		return id, st, xerrors.SessionConfig("heartbeat_interval", "must not be negative")
	}
	if c.HeartBtInt > 0 {
		st.HeartBtInt = time.Duration(c.HeartBtInt) * time.Second
	}
	if c.TestRequestDelayMultiplier < 0 {
		return id, st, xerrors.SessionConfig("test_request_delay_multiplier", "must not be negative")
	}
	if c.TestRequestDelayMultiplier > 0 {
		st.TestRequestDelayMultiplier = c.TestRequestDelayMultiplier
	}

	st.ResetOnLogon = c.ResetOnLogon
	st.ResetOnLogout = c.ResetOnLogout
	st.ResetOnDisconnect = c.ResetOnDisconnect

	switch {
	case c.StartTime == "" && c.EndTime == "":
	case c.StartTime == "":
		return id, st, xerrors.SessionConfig("start_time", "required when end_time is set")
	case c.EndTime == "":
		return id, st, xerrors.SessionConfig("end_time", "required when start_time is set")
	default:
		start, err := parseTimeOfDay(c.StartTime)
		if err != nil {
			return id, st, xerrors.SessionConfig("start_time", err.Error())
		}
		end, err := parseTimeOfDay(c.EndTime)
		if err != nil {
			return id, st, xerrors.SessionConfig("end_time", err.Error())
		}
		st.Window = &Window{Start: start, End: end}
	}

	if c.ResetSchedule != "" {
		if _, err := scheduler.ParseSpec(c.ResetSchedule); err != nil {
			return id, st, xerrors.SessionConfig("reset_schedule", err.Error())
		}
		st.ResetSchedule = c.ResetSchedule
	}

	for _, t := range c.PreferredFieldOrder {
		if t <= 0 {
			return id, st, xerrors.SessionConfig("preferred_field_order", fmt.Sprintf("invalid tag %d", t))
		}
		st.PreferredFieldOrder = append(st.PreferredFieldOrder, tag.Tag(t))
	}

	if c.TimestampPrecision != "" {
		p, err := field.ParsePrecision(c.TimestampPrecision)
		if err != nil {
			return id, st, xerrors.SessionConfig("timestamp_precision", err.Error())
		}
		st.Precision = p
	}

	switch strings.ToLower(c.GapPolicy) {
	case "", "queue":
		st.GapPolicy = GapQueue
	case "discard":
		st.GapPolicy = GapDiscard
	default:
		return id, st, xerrors.SessionConfig("gap_policy", fmt.Sprintf("unknown policy %q", c.GapPolicy))
	}

	if c.LogonTimeout > 0 {
		st.LogonTimeout = c.LogonTimeout
	}
	if c.LogoutTimeout > 0 {
		st.LogoutTimeout = c.LogoutTimeout
	}
	st.CheckLatency = c.CheckLatency
	if c.MaxLatency > 0 {
		st.MaxLatency = c.MaxLatency
	}
	if c.ResendRateLimit < 0 {
		return id, st, xerrors.SessionConfig("resend_rate_limit", "must not be negative")
	}
	st.ResendRateLimit = c.ResendRateLimit

	return id, st, nil
}
