// Package cache 提供进程内的字节缓存，用于加速重传时的报文读取.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/wyfcoding/fixengine/config"
)

// ErrMiss 缓存未命中.
var ErrMiss = errors.New("cache miss")

// BigCache 基于 allegro/bigcache 的本地缓存，值为原始字节.
// BigCache 只支持全局 TTL，不支持单键过期.
type BigCache struct {
	cache *bigcache.BigCache
}

// NewBigCache 按配置创建缓存，零值项使用 bigcache 默认值.
func NewBigCache(ctx context.Context, cfg config.BigCacheConfig) (*BigCache, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	c := bigcache.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		c.CleanWindow = cfg.CleanWindow
	} else {
		c.CleanWindow = 5 * time.Minute
	}
	if cfg.Shards > 0 {
		c.Shards = cfg.Shards
	}
	if cfg.MaxEntrySize > 0 {
		c.MaxEntrySize = cfg.MaxEntrySize
	}
	c.HardMaxCacheSize = cfg.HardMaxCacheSize

	bc, err := bigcache.New(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("初始化 bigcache 失败: %w", err)
	}
	return &BigCache{cache: bc}, nil
}

// Get 未命中返回 ErrMiss.
func (c *BigCache) Get(key string) ([]byte, error) {
	data, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, ErrMiss
	}
	return data, err
}

func (c *BigCache) Set(key string, value []byte) error {
	return c.cache.Set(key, value)
}

// Delete 键不存在时不报错.
func (c *BigCache) Delete(keys ...string) error {
	for _, key := range keys {
		if err := c.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			return err
		}
	}
	return nil
}

// Len 当前条目数.
func (c *BigCache) Len() int {
	return c.cache.Len()
}

func (c *BigCache) Close() error {
	return c.cache.Close()
}
