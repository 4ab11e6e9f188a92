package session

import (
	"errors"
	"time"

	"github.com/wyfcoding/fixengine/field"
)

const day = 24 * time.Hour

// Window 每日会话时间窗口 (UTC)，Start 大于 End 时跨越午夜.
// Start 等于 End 表示全天在线，每天在 Start 时刻开始新的窗口.
type Window struct {
	Start time.Duration // 当日零点起的偏移
	End   time.Duration
}

var errTimeOfDay = errors.New("expected HH:MM:SS")

// parseTimeOfDay 解析 "HH:MM:SS"，复用 UTCTimeOnly 的严格格式校验.
func parseTimeOfDay(s string) (time.Duration, error) {
	if len(s) != 8 {
		return 0, errTimeOfDay
	}
	t, err := field.ParseUTCTimeOnly(s)
	if err != nil {
		return 0, errTimeOfDay
	}
	return t.Sub(time.Unix(0, 0).UTC()), nil
}

func timeOfDay(t time.Time) time.Duration {
	t = t.UTC()
	return t.Sub(t.Truncate(day))
}

// Contains 报告 t 是否落在窗口内，两端都包含.
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	tod := timeOfDay(t)
	if w.Start == w.End {
		return true
	}
	if w.Start < w.End {
		return tod >= w.Start && tod <= w.End
	}
	return tod >= w.Start || tod <= w.End
}

// StartOf 返回包含 t 的窗口的开始时刻，t 不在窗口内时返回零值.
func (w *Window) StartOf(t time.Time) time.Time {
	if w == nil || !w.Contains(t) {
		return time.Time{}
	}
	t = t.UTC()
	midnight := t.Truncate(day)
	start := midnight.Add(w.Start)
	if start.After(t) {
		// 跨午夜窗口，开始于前一天
		start = start.Add(-day)
	}
	return start
}

// NeedsReset 存储创建于当前窗口开始之前时需要重置.
func (w *Window) NeedsReset(created, now time.Time) bool {
	start := w.StartOf(now)
	return !start.IsZero() && created.Before(start)
}
