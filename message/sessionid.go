package message

// SessionID 会话标识，所有存储状态按其 String() 分区.
type SessionID struct {
	BeginString  string `mapstructure:"begin_string"`
	SenderCompID string `mapstructure:"sender_comp_id"`
	TargetCompID string `mapstructure:"target_comp_id"`
	Qualifier    string `mapstructure:"qualifier"`
}

// String 形如 FIX.4.4:SENDER->TARGET[:qualifier].
func (s SessionID) String() string {
	id := s.BeginString + ":" + s.SenderCompID + "->" + s.TargetCompID
	if s.Qualifier != "" {
		id += ":" + s.Qualifier
	}
	return id
}

// Reverse 交换发送方与接收方.
func (s SessionID) Reverse() SessionID {
	return SessionID{
		BeginString:  s.BeginString,
		SenderCompID: s.TargetCompID,
		TargetCompID: s.SenderCompID,
		Qualifier:    s.Qualifier,
	}
}

// IsZero 报告是否未设置.
func (s SessionID) IsZero() bool {
	return s.BeginString == "" && s.SenderCompID == "" && s.TargetCompID == ""
}
