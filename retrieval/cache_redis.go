package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/davidgendel/chatbot-retrieval/internal/cache"
)

// TieredSimilarityCache 两级相似度缓存：进程内 CacheService 为一级，
// Redis 为跨进程共享二级。一级未命中时经 singleflight 合并并发的
// 同键 Redis 查询，防止缓存击穿。Redis 故障静默降级为仅一级缓存。
type TieredSimilarityCache struct {
	local  *CacheService
	remote *cache.Manager
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewTieredSimilarityCache 创建两级缓存。local、remote 均不可为 nil。
func NewTieredSimilarityCache(local *CacheService, remote *cache.Manager, ttl time.Duration, logger *zap.Logger) *TieredSimilarityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TieredSimilarityCache{
		local:  local,
		remote: remote,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "tiered_cache")),
	}
}

// GetSimilarity 先读进程内缓存，未命中再读 Redis 并回填一级
func (t *TieredSimilarityCache) GetSimilarity(ctx context.Context, key string) ([]Candidate, bool) {
	if candidates, ok := t.local.GetSimilarity(ctx, key); ok {
		return candidates, true
	}

	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		var candidates []Candidate
		if err := t.remote.GetJSON(ctx, key, &candidates); err != nil {
			return nil, err
		}
		return candidates, nil
	})
	if err != nil {
		if !cache.IsCacheMiss(err) {
			t.logger.Warn("redis 缓存读取失败，降级为进程内缓存", zap.Error(err))
		}
		return nil, false
	}

	candidates := v.([]Candidate)
	t.local.SetSimilarity(ctx, key, candidates)
	return candidates, true
}

// SetSimilarity 同时写入两级缓存，Redis 写失败只记日志
func (t *TieredSimilarityCache) SetSimilarity(ctx context.Context, key string, candidates []Candidate) {
	t.local.SetSimilarity(ctx, key, candidates)
	if err := t.remote.SetJSON(ctx, key, candidates, t.ttl); err != nil {
		t.logger.Warn("redis 缓存写入失败", zap.Error(err))
	}
}

// GetContext 上下文文本只在进程内缓存
func (t *TieredSimilarityCache) GetContext(key string) (string, bool) {
	return t.local.GetContext(key)
}

// SetContext 上下文文本只在进程内缓存
func (t *TieredSimilarityCache) SetContext(key, value string) {
	t.local.SetContext(key, value)
}
