package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache 缓存接口
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
	Clear(ctx context.Context) error
	Len() int
	Close() error
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	MaxSize           int           // 最大条目数，0 表示不限制
	DefaultExpiration time.Duration // 默认过期时间
	CleanupInterval   time.Duration // 过期清理间隔
}

// LocalCache 基于 go-cache 的进程内缓存
type LocalCache struct {
	c       *gocache.Cache
	maxSize int
}

// NewLocalCache 创建本地缓存
func NewLocalCache(cfg LocalConfig) *LocalCache {
	if cfg.DefaultExpiration == 0 {
		cfg.DefaultExpiration = 5 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	return &LocalCache{
		c:       gocache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
		maxSize: cfg.MaxSize,
	}
}

func (l *LocalCache) Get(_ context.Context, key string) (interface{}, bool) {
	return l.c.Get(key)
}

// Set 写入缓存，expiration 为 0 时使用默认过期时间
// 达到 MaxSize 时先清理过期条目，仍然满则丢弃本次写入
func (l *LocalCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	if expiration == 0 {
		expiration = gocache.DefaultExpiration
	}
	if l.maxSize > 0 && l.c.ItemCount() >= l.maxSize {
		if _, ok := l.c.Get(key); !ok {
			l.c.DeleteExpired()
			if l.c.ItemCount() >= l.maxSize {
				return nil
			}
		}
	}
	l.c.Set(key, value, expiration)
	return nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.c.Delete(key)
	return nil
}

func (l *LocalCache) Exists(_ context.Context, key string) bool {
	_, ok := l.c.Get(key)
	return ok
}

func (l *LocalCache) Clear(_ context.Context) error {
	l.c.Flush()
	return nil
}

func (l *LocalCache) Len() int { return l.c.ItemCount() }

func (l *LocalCache) Close() error {
	l.c.Flush()
	return nil
}
