package field

import (
	"github.com/wyfcoding/fixengine/xerrors"
)

// CheckSum 计算字节和对 256 取模.
func CheckSum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum & 0xff
}

// FormatCheckSum 格式化为 3 位补零数字.
func FormatCheckSum(n int) (string, error) {
	if n < 0 || n > 255 {
		return "", xerrors.FieldConversion("checksum", FormatInt(n))
	}
	return string([]byte{byte('0' + n/100), byte('0' + n/10%10), byte('0' + n%10)}), nil
}

// ParseCheckSum 解析恰好 3 位数字的校验和.
func ParseCheckSum(s string) (int, error) {
	if len(s) != 3 || !isDigits(s, 0, 3) {
		return 0, xerrors.FieldConversion("checksum", s)
	}
	n := atoi(s, 0, 3)
	if n > 255 {
		return 0, xerrors.FieldConversion("checksum", s)
	}
	return n, nil
}
