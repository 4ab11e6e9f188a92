package field

import (
	"sync"
	"time"
)

// DateCache 缓存 8 位日期串到当日 UTC 零点的 epoch 毫秒.
// 读路径无锁，多会话共享.
type DateCache struct {
	days sync.Map // map[string]int64
}

// DefaultDateCache 包级函数使用的默认实例.
var DefaultDateCache = NewDateCache()

// NewDateCache 创建空缓存.
func NewDateCache() *DateCache {
	return &DateCache{}
}

// MillisForDay 返回 date (YYYYMMDD) 当日 UTC 零点的 epoch 毫秒.
// 调用方需保证 date 为 8 位数字，非法日历日期返回 ok=false 且不入缓存.
func (c *DateCache) MillisForDay(date string) (int64, bool) {
	if v, ok := c.days.Load(date); ok {
		return v.(int64), true
	}
	y, m, d := atoi(date, 0, 4), atoi(date, 4, 6), atoi(date, 6, 8)
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return 0, false
	}
	ms := t.UnixMilli()
	c.days.Store(date, ms)
	return ms, true
}

// Len 返回已缓存的日期数.
func (c *DateCache) Len() int {
	n := 0
	c.days.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
