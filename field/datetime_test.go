package field

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/fixengine/xerrors"
)

var sample = time.Date(2000, time.April, 26, 12, 5, 6, 123456789, time.UTC)

func TestFormatUTCTimestamp(t *testing.T) {
	assert.Equal(t, "20000426-12:05:06", FormatUTCTimestamp(sample, ChoosePrecision(false, false, false)))
	assert.Equal(t, "20000426-12:05:06.123", FormatUTCTimestamp(sample, ChoosePrecision(true, false, false)))
	assert.Equal(t, "20000426-12:05:06.123456", FormatUTCTimestamp(sample, ChoosePrecision(false, true, false)))
	assert.Equal(t, "20000426-12:05:06.123456789", FormatUTCTimestamp(sample, ChoosePrecision(false, false, true)))

	whole := sample.Truncate(time.Second)
	assert.Equal(t, "20000426-12:05:06.000", FormatUTCTimestamp(whole, Millis))
	assert.Equal(t, "20000426-12:05:06.000000", FormatUTCTimestamp(whole, Micros))
	assert.Equal(t, "20000426-12:05:06.000000000", FormatUTCTimestamp(whole, Nanos))

	// 非 UTC 输入先转换为 UTC
	shanghai := time.FixedZone("CST", 8*3600)
	assert.Equal(t, "20000426-12:05:06", FormatUTCTimestamp(sample.In(shanghai), Seconds))
}

func TestFormatClampsYearRange(t *testing.T) {
	far := time.Date(12345, time.June, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "99991231-23:59:59.999", FormatUTCTimestamp(far, Millis))
	assert.Equal(t, "99991231", FormatUTCDate(far))

	early := time.Date(-44, time.March, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "00000101-00:00:00", FormatUTCTimestamp(early, Seconds))
	assert.Equal(t, "00000101", FormatUTCDate(early))

	for _, ts := range []time.Time{far, early} {
		s := FormatUTCTimestamp(ts, Nanos)
		back, err := ParseUTCTimestamp(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, FormatUTCTimestamp(back, Nanos))
	}
}

func TestTimestampPrecisionLength(t *testing.T) {
	flags := []bool{false, true}
	for _, ms := range flags {
		for _, us := range flags {
			for _, ns := range flags {
				want := 17
				switch {
				case ns:
					want = 27
				case us:
					want = 24
				case ms:
					want = 21
				}
				p := ChoosePrecision(ms, us, ns)
				assert.Len(t, FormatUTCTimestamp(sample, p), want, "ms=%v us=%v ns=%v", ms, us, ns)
				assert.Equal(t, want, p.TimestampLength())
			}
		}
	}
}

func TestParseUTCTimestamp(t *testing.T) {
	cases := map[string]int{
		"20000426-12:05:06":           0,
		"20000426-12:05:06.123":       123000000,
		"20000426-12:05:06.123456":    123456000,
		"20000426-12:05:06.123456789": 123456789,
	}
	for in, nanos := range cases {
		got, err := ParseUTCTimestamp(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Date(2000, time.April, 26, 12, 5, 6, nanos, time.UTC), got, in)
		assert.Equal(t, time.UTC, got.Location())
	}

	bad := []string{
		"2000042x-12:05:06.123",
		"200004261-2:05:06.123",
		"20000426-1205:06.123",
		"20000426-12:0506.123",
		"20000426-12:05:06123",
		"20000426-12:05:06.12",
		"20000426-12:05:06.1234",
		"20000426 12:05:06",
		"20000431-12:05:06",
		"20000426-24:00:00",
		"20000426-12:60:00",
		"",
	}
	for _, in := range bad {
		_, err := ParseUTCTimestamp(in)
		require.Error(t, err, in)
		assert.True(t, xerrors.Is(err, xerrors.ErrFieldConversion), in)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	for _, p := range []Precision{Seconds, Millis, Micros, Nanos} {
		s := FormatUTCTimestamp(sample, p)
		got, err := ParseUTCTimestamp(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatUTCTimestamp(got, p))
		assert.Equal(t, sample.Truncate(time.Duration(pow10(9-p.digits()))), got)
	}
}

func pow10(n int) int64 {
	v := int64(1)
	for range n {
		v *= 10
	}
	return v
}

func TestUTCTimeOnly(t *testing.T) {
	assert.Equal(t, "12:05:06", FormatUTCTimeOnly(sample, Seconds))
	assert.Equal(t, "12:05:06.123", FormatUTCTimeOnly(sample, Millis))
	assert.Equal(t, "12:05:06.123456", FormatUTCTimeOnly(sample, Micros))
	assert.Equal(t, "12:05:06.123456789", FormatUTCTimeOnly(sample, Nanos))

	got, err := ParseUTCTimeOnly("12:05:06.123456")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1970, 1, 1, 12, 5, 6, 123456000, time.UTC), got)

	for _, p := range []Precision{Seconds, Millis, Micros, Nanos} {
		s := FormatUTCTimeOnly(sample, p)
		back, err := ParseUTCTimeOnly(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatUTCTimeOnly(back, p))
	}

	for _, in := range []string{"I2:05:06.555", "12:05:06.55", "12-05-06", "12:05:6", "12:05:06.1234567", "25:00:00"} {
		_, err := ParseUTCTimeOnly(in)
		assert.Error(t, err, in)
	}
}

func TestUTCDate(t *testing.T) {
	assert.Equal(t, "20000426", FormatUTCDate(sample))

	got, err := ParseUTCDate("20000426")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2000, time.April, 26, 0, 0, 0, 0, time.UTC), got)

	for _, in := range []string{"b000042b", "2000042", "200004268", "2000042b", "200k0425", "20001301", "20010229"} {
		_, err := ParseUTCDate(in)
		assert.Error(t, err, in)
	}
}

func TestPrecisionNames(t *testing.T) {
	for name, want := range map[string]Precision{"seconds": Seconds, "millis": Millis, "MICROS": Micros, "nanos": Nanos} {
		p, err := ParsePrecision(name)
		require.NoError(t, err)
		assert.Equal(t, want, p)
	}
	_, err := ParsePrecision("picos")
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.ErrConfig))
}

func TestDateCacheConcurrent(t *testing.T) {
	c := NewDateCache()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := fmt.Sprintf("200004%02d-12:00:00.000", i%5+1)
			got, err := c.ParseUTCTimestamp(s)
			assert.NoError(t, err)
			assert.Equal(t, i%5+1, got.Day())
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())

	_, ok := c.MillisForDay("20000230")
	assert.False(t, ok)
	assert.Equal(t, 5, c.Len())

	ms, ok := c.MillisForDay("19700102")
	require.True(t, ok)
	assert.Equal(t, int64(86_400_000), ms)
}

func BenchmarkParseUTCTimestamp(b *testing.B) {
	for b.Loop() {
		_, _ = ParseUTCTimestamp("20000426-12:05:06.123456")
	}
}
