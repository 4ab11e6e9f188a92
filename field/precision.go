package field

import (
	"strings"

	"github.com/wyfcoding/fixengine/xerrors"
)

// Precision 时间字段的小数秒输出精度.
type Precision int

const (
	Seconds Precision = iota
	Millis
	Micros
	Nanos
)

// ChoosePrecision 按 ns > µs > ms > 秒 的优先级选择输出精度.
func ChoosePrecision(ms, us, ns bool) Precision {
	switch {
	case ns:
		return Nanos
	case us:
		return Micros
	case ms:
		return Millis
	default:
		return Seconds
	}
}

// ParsePrecision 从配置名称解析精度，未知名称为配置错误.
func ParsePrecision(name string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "seconds", "second", "":
		return Seconds, nil
	case "millis", "milliseconds":
		return Millis, nil
	case "micros", "microseconds":
		return Micros, nil
	case "nanos", "nanoseconds":
		return Nanos, nil
	default:
		return Seconds, xerrors.Config("unknown timestamp precision "+name, nil)
	}
}

func (p Precision) String() string {
	switch p {
	case Millis:
		return "millis"
	case Micros:
		return "micros"
	case Nanos:
		return "nanos"
	default:
		return "seconds"
	}
}

// digits 小数部分位数.
func (p Precision) digits() int {
	switch p {
	case Millis:
		return 3
	case Micros:
		return 6
	case Nanos:
		return 9
	default:
		return 0
	}
}

// TimestampLength 该精度下 UTCTimestamp 的字符串长度.
func (p Precision) TimestampLength() int {
	if d := p.digits(); d > 0 {
		return 18 + d
	}
	return 17
}

// appendFraction 追加 ".fff[fff[fff]]"，按精度截断而非四舍五入.
func (p Precision) appendFraction(b []byte, nanos int) []byte {
	d := p.digits()
	if d == 0 {
		return b
	}
	v := nanos
	for i := d; i < 9; i++ {
		v /= 10
	}
	b = append(b, '.')
	return appendPadded(b, v, d)
}
