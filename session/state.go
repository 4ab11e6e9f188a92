package session

import (
	"github.com/wyfcoding/fixengine/fsm"
)

// State 会话协议状态.
type State int

const (
	Disconnected State = iota
	LogonSent
	LogonReceived
	Active
	PendingLogout
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case LogonSent:
		return "LogonSent"
	case LogonReceived:
		return "LogonReceived"
	case Active:
		return "Active"
	case PendingLogout:
		return "PendingLogout"
	default:
		return "Unknown"
	}
}

// LoggedOn 报告状态是否已完成登录握手.
func (s State) LoggedOn() bool {
	return s == Active || s == PendingLogout
}

// Event 状态机事件.
type Event string

const (
	EventSendLogon      Event = "SendLogon"
	EventReceiveLogon   Event = "ReceiveLogon"
	EventLogonAccepted  Event = "LogonAccepted"
	EventLogonRejected  Event = "LogonRejected"
	EventInitiateLogout Event = "InitiateLogout"
	EventDisconnect     Event = "Disconnect"
)

func newMachine() *fsm.Machine[State, Event] {
	m := fsm.NewMachine[State, Event](Disconnected)
	m.AddTransition(Disconnected, EventSendLogon, LogonSent)
	m.AddTransition(Disconnected, EventReceiveLogon, LogonReceived)
	m.AddTransitions([]State{LogonSent, LogonReceived}, EventLogonAccepted, Active)
	m.AddTransitions([]State{LogonSent, LogonReceived}, EventLogonRejected, Disconnected)
	m.AddTransitions([]State{LogonSent, LogonReceived, Active}, EventInitiateLogout, PendingLogout)
	m.AddTransitions([]State{LogonSent, LogonReceived, Active, PendingLogout}, EventDisconnect, Disconnected)
	return m
}
