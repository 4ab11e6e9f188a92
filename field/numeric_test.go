package field

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/xerrors"
)

func TestInt(t *testing.T) {
	assert.Equal(t, "123", FormatInt(123))

	for in, want := range map[string]int{"123": 123, "-1": -1, "00023": 23, "0": 0} {
		got, err := ParseInt(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"abc", "123.4", "+200", "", "-", "1e6", "12 ", "99999999999999999999999"} {
		_, err := ParseInt(in)
		require.Error(t, err, in)
		assert.True(t, xerrors.Is(err, xerrors.ErrFieldConversion), in)
	}
}

func TestFloat(t *testing.T) {
	assert.Equal(t, "45.32", FormatFloat(45.32, 0))
	assert.Equal(t, "45", FormatFloat(45, 0))
	assert.Equal(t, "0", FormatFloat(0, 0))
	assert.Equal(t, "1.500", FormatFloat(1.5, 3))
	assert.Equal(t, "45.00000", FormatFloat(45, 5))
	assert.Equal(t, "5.00", FormatFloat(5, 2))
	assert.Equal(t, "-5.00", FormatFloat(-5, 2))
	assert.Equal(t, "-12.2345", FormatFloat(-12.2345, 3))
	assert.Equal(t, "0.0", FormatFloat(0, 1))

	cases := map[string]float64{
		"45.32":           45.32,
		"45.3200":         45.32,
		"0.00340244000":   0.00340244,
		"12.000000000001": 12.000000000001,
		"0.0":             0,
		"0045.32":         45.32,
		"0.":              0,
		".0":              0,
		"000.06":          0.06,
		"0.0600":          0.06,
		"00023.":          23,
		"-7.5":            -7.5,
	}
	for in, want := range cases {
		got, err := ParseFloat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"abc", "+200", "123.A", ".", "1E6", "1e6", "", "-", "1..2", "1.2.3"} {
		_, err := ParseFloat(in)
		assert.True(t, xerrors.Is(err, xerrors.ErrFieldConversion), in)
	}
}

func TestDecimal(t *testing.T) {
	d, err := ParseDecimal("0045.3200")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("45.32")))
	assert.Equal(t, "45.3200", FormatDecimal(d, 4))
	assert.Equal(t, "45.32", FormatDecimal(d, 0))
	assert.Equal(t, "7.00", FormatDecimal(decimal.NewFromInt(7), 2))

	for _, in := range []string{"1e6", "+1", ".", "1,5"} {
		_, err := ParseDecimal(in)
		assert.Error(t, err, in)
	}
}

func TestCharBoolString(t *testing.T) {
	assert.Equal(t, "a", FormatChar('a'))
	c, err := ParseChar("F")
	require.NoError(t, err)
	assert.Equal(t, byte('F'), c)
	_, err = ParseChar("")
	assert.Error(t, err)
	_, err = ParseChar("a1")
	assert.Error(t, err)

	assert.Equal(t, "Y", FormatBool(true))
	assert.Equal(t, "N", FormatBool(false))
	b, err := ParseBool("Y")
	require.NoError(t, err)
	assert.True(t, b)
	b, err = ParseBool("N")
	require.NoError(t, err)
	assert.False(t, b)
	for _, in := range []string{"D", "true", "y", ""} {
		_, err = ParseBool(in)
		assert.Error(t, err, in)
	}

	s, err := ParseString("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", FormatString(s))
	_, err = ParseString("a\x01b")
	assert.Error(t, err)
	_, err = ParseString("")
	assert.Error(t, err)
}

func TestCheckSum(t *testing.T) {
	assert.Equal(t, 0, CheckSum(nil))
	assert.Equal(t, int('8'+'='+'A'+1)%256, CheckSum([]byte("8=A\x01")))

	for n, want := range map[int]string{0: "000", 5: "005", 12: "012", 234: "234", 255: "255"} {
		got, err := FormatCheckSum(n)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		back, err := ParseCheckSum(got)
		require.NoError(t, err)
		assert.Equal(t, n, back)
	}
	_, err := FormatCheckSum(-1)
	assert.Error(t, err)
	_, err = FormatCheckSum(256)
	assert.Error(t, err)
	for _, in := range []string{"12", "0012", "256", "1a2"} {
		_, err = ParseCheckSum(in)
		assert.Error(t, err, in)
	}
}
