package field

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fixengine/xerrors"
)

// FormatInt 格式化整数.
func FormatInt(v int) string {
	return strconv.Itoa(v)
}

// ParseInt 解析整数，仅允许可选的前导 '-' 与数字.
func ParseInt(s string) (int, error) {
	i := 0
	if s != "" && s[0] == '-' {
		i = 1
	}
	if i == len(s) {
		return 0, xerrors.FieldConversion("integer", s)
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, xerrors.FieldConversion("integer", s)
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		// 只剩溢出一种可能
		return 0, xerrors.FieldConversion("integer", s)
	}
	return v, nil
}

// validDecimalText 校验浮点/定点数的词法: [-]digits[.digits]，至少一位数字.
func validDecimalText(s string) bool {
	i := 0
	if s != "" && s[0] == '-' {
		i = 1
	}
	digits, dots := 0, 0
	for ; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}

// ParseFloat 解析浮点数，拒绝 '+'、指数记法与其他非数字字符.
func ParseFloat(s string) (float64, error) {
	if !validDecimalText(s) {
		return 0, xerrors.FieldConversion("float", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, xerrors.FieldConversion("float", s)
	}
	return v, nil
}

// FormatFloat 以最短精确表示格式化浮点数，小数位不足 minDecimals 时补零.
func FormatFloat(v float64, minDecimals int) string {
	return padDecimals(strconv.FormatFloat(v, 'f', -1, 64), minDecimals)
}

// ParseDecimal 解析定点数，词法规则与 ParseFloat 相同.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if !validDecimalText(s) {
		return decimal.Zero, xerrors.FieldConversion("decimal", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, xerrors.FieldConversion("decimal", s)
	}
	return d, nil
}

// FormatDecimal 格式化定点数，小数位不足 minDecimals 时补零.
func FormatDecimal(d decimal.Decimal, minDecimals int) string {
	return padDecimals(d.String(), minDecimals)
}

func padDecimals(s string, minDecimals int) string {
	if minDecimals <= 0 {
		return s
	}
	have := 0
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		have = len(s) - dot - 1
	} else {
		s += "."
	}
	if have >= minDecimals {
		return s
	}
	return s + strings.Repeat("0", minDecimals-have)
}

// FormatChar 格式化单字符.
func FormatChar(c byte) string {
	return string([]byte{c})
}

// ParseChar 解析单字符，长度必须恰好为 1.
func ParseChar(s string) (byte, error) {
	if len(s) != 1 {
		return 0, xerrors.FieldConversion("char", s)
	}
	return s[0], nil
}

// FormatBool 格式化布尔值为 Y/N.
func FormatBool(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// ParseBool 仅接受 Y 与 N.
func ParseBool(s string) (bool, error) {
	switch s {
	case "Y":
		return true, nil
	case "N":
		return false, nil
	default:
		return false, xerrors.FieldConversion("boolean", s)
	}
}

// FormatString 原样返回.
func FormatString(s string) string {
	return s
}

// ParseString 要求非空且不含 SOH.
func ParseString(s string) (string, error) {
	if s == "" || strings.IndexByte(s, 0x01) >= 0 {
		return "", xerrors.FieldConversion("string", s)
	}
	return s, nil
}
