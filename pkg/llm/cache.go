package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/cache"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	"go.uber.org/zap"
)

const cacheName = "llm"

// CachedGenerator 对相同的提示词复用上一次的输出，只缓存成功结果
type CachedGenerator struct {
	next    Generator
	store   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewCachedGenerator wraps next with an in-process response cache.
func NewCachedGenerator(next Generator, ttl time.Duration, m *metrics.Metrics) *CachedGenerator {
	return &CachedGenerator{
		next: next,
		store: cache.NewLocalCache(cache.LocalConfig{
			MaxSize:           512,
			DefaultExpiration: ttl,
			CleanupInterval:   2 * ttl,
		}),
		ttl:     ttl,
		metrics: m,
	}
}

func (c *CachedGenerator) Generate(ctx context.Context, prompt Prompt, hint *SchemaHint) (string, error) {
	key, err := cacheKey(prompt, hint)
	if err != nil {
		return c.next.Generate(ctx, prompt, hint)
	}

	if v, ok := c.store.Get(ctx, key); ok {
		if text, ok := v.(string); ok {
			c.metrics.RecordCacheHit(cacheName)
			logger.Debug("LLM cache hit", zap.String("key", key[:12]))
			return text, nil
		}
	}
	c.metrics.RecordCacheMiss(cacheName)

	text, err := c.next.Generate(ctx, prompt, hint)
	if err != nil {
		return "", err
	}
	if err := c.store.Set(ctx, key, text, c.ttl); err != nil {
		logger.Debug("LLM cache write failed", zap.String("key", key[:12]), zap.Error(err))
	}
	return text, nil
}

func cacheKey(prompt Prompt, hint *SchemaHint) (string, error) {
	raw, err := json.Marshal(struct {
		Prompt Prompt      `json:"prompt"`
		Hint   *SchemaHint `json:"hint"`
	}{prompt, hint})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
