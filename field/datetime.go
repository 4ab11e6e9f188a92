package field

import (
	"time"

	"github.com/wyfcoding/fixengine/xerrors"
)

const (
	kindTimestamp = "UTC timestamp"
	kindTimeOnly  = "UTC time"
	kindDateOnly  = "UTC date"
)

// FormatUTCTimestamp 格式化为 YYYYMMDD-HH:MM:SS[.fff[fff[fff]]].
func FormatUTCTimestamp(t time.Time, p Precision) string {
	t = clampYear(t.UTC())
	b := make([]byte, 0, 27)
	b = appendDate(b, t)
	b = append(b, '-')
	b = appendClock(b, t)
	return string(p.appendFraction(b, t.Nanosecond()))
}

// ParseUTCTimestamp 使用默认日期缓存解析时间戳.
func ParseUTCTimestamp(s string) (time.Time, error) {
	return DefaultDateCache.ParseUTCTimestamp(s)
}

// ParseUTCTimestamp 解析时间戳，长度仅允许 17/21/24/27.
func (c *DateCache) ParseUTCTimestamp(s string) (time.Time, error) {
	switch len(s) {
	case 17, 21, 24, 27:
	default:
		return time.Time{}, xerrors.FieldConversion(kindTimestamp, s)
	}
	if !isDigits(s, 0, 8) || s[8] != '-' || !validClock(s, 9) {
		return time.Time{}, xerrors.FieldConversion(kindTimestamp, s)
	}
	if len(s) > 17 && (s[17] != '.' || !isDigits(s, 18, len(s))) {
		return time.Time{}, xerrors.FieldConversion(kindTimestamp, s)
	}
	day, ok := c.MillisForDay(s[:8])
	if !ok {
		return time.Time{}, xerrors.FieldConversion(kindTimestamp, s)
	}
	offset, ok := clockMillis(s, 9)
	if !ok {
		return time.Time{}, xerrors.FieldConversion(kindTimestamp, s)
	}
	nanos := 0
	if len(s) > 17 {
		nanos = parseFraction(s[18:])
	}
	ms := day + offset
	return time.Unix(ms/1000, int64(nanos)).UTC(), nil
}

// FormatUTCTimeOnly 格式化为 HH:MM:SS[.fff[fff[fff]]].
func FormatUTCTimeOnly(t time.Time, p Precision) string {
	t = t.UTC()
	b := make([]byte, 0, 18)
	b = appendClock(b, t)
	return string(p.appendFraction(b, t.Nanosecond()))
}

// ParseUTCTimeOnly 解析时间，长度仅允许 8/12/15/18，结果落在 1970-01-01 UTC.
func ParseUTCTimeOnly(s string) (time.Time, error) {
	switch len(s) {
	case 8, 12, 15, 18:
	default:
		return time.Time{}, xerrors.FieldConversion(kindTimeOnly, s)
	}
	if !validClock(s, 0) {
		return time.Time{}, xerrors.FieldConversion(kindTimeOnly, s)
	}
	if len(s) > 8 && (s[8] != '.' || !isDigits(s, 9, len(s))) {
		return time.Time{}, xerrors.FieldConversion(kindTimeOnly, s)
	}
	offset, ok := clockMillis(s, 0)
	if !ok {
		return time.Time{}, xerrors.FieldConversion(kindTimeOnly, s)
	}
	nanos := 0
	if len(s) > 8 {
		nanos = parseFraction(s[9:])
	}
	return time.Unix(offset/1000, int64(nanos)).UTC(), nil
}

// FormatUTCDate 格式化为 YYYYMMDD.
func FormatUTCDate(t time.Time) string {
	return string(appendDate(make([]byte, 0, 8), clampYear(t.UTC())))
}

// ParseUTCDate 解析恰好 8 位数字的日历日期.
func ParseUTCDate(s string) (time.Time, error) {
	if len(s) != 8 || !isDigits(s, 0, 8) {
		return time.Time{}, xerrors.FieldConversion(kindDateOnly, s)
	}
	ms, ok := DefaultDateCache.MillisForDay(s)
	if !ok {
		return time.Time{}, xerrors.FieldConversion(kindDateOnly, s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// validClock 校验 off 处的 HH:MM:SS 数字位与分隔符位.
func validClock(s string, off int) bool {
	return isDigits(s, off, off+2) && s[off+2] == ':' &&
		isDigits(s, off+3, off+5) && s[off+5] == ':' &&
		isDigits(s, off+6, off+8)
}

// clockMillis 将已校验的 HH:MM:SS 转为当日毫秒，超出范围返回 false.
// 秒允许 60 (闰秒)，与下一分钟零秒等价.
func clockMillis(s string, off int) (int64, bool) {
	h, m, sec := atoi(s, off, off+2), atoi(s, off+3, off+5), atoi(s, off+6, off+8)
	if h > 23 || m > 59 || sec > 60 {
		return 0, false
	}
	return int64(h)*3_600_000 + int64(m)*60_000 + int64(sec)*1000, true
}

// parseFraction 将 3/6/9 位小数秒转为纳秒.
func parseFraction(s string) int {
	n := atoi(s, 0, len(s))
	for i := len(s); i < 9; i++ {
		n *= 10
	}
	return n
}

var (
	minFormattable = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	maxFormattable = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

// clampYear 四位年份之外的时间收敛到 0000-01-01 或 9999-12-31 的边界.
func clampYear(t time.Time) time.Time {
	switch {
	case t.Before(minFormattable):
		return minFormattable
	case t.After(maxFormattable):
		return maxFormattable
	}
	return t
}

func appendDate(b []byte, t time.Time) []byte {
	b = appendPadded(b, t.Year(), 4)
	b = appendPadded(b, int(t.Month()), 2)
	return appendPadded(b, t.Day(), 2)
}

func appendClock(b []byte, t time.Time) []byte {
	b = appendPadded(b, t.Hour(), 2)
	b = append(b, ':')
	b = appendPadded(b, t.Minute(), 2)
	b = append(b, ':')
	return appendPadded(b, t.Second(), 2)
}

// appendPadded 以 width 位补零追加非负整数.
func appendPadded(b []byte, v, width int) []byte {
	var buf [9]byte
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, buf[:width]...)
}

func isDigits(s string, from, to int) bool {
	for i := from; i < to; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// atoi 解析已校验的数字区间.
func atoi(s string, from, to int) int {
	n := 0
	for i := from; i < to; i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
