package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CacheConfig 缓存配置
type CacheConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	SimilarityTTL time.Duration `json:"similarity_ttl" yaml:"similarity_ttl"` // 检索结果缓存 TTL
	ContextTTL    time.Duration `json:"context_ttl" yaml:"context_ttl"`       // 上下文缓存 TTL
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       true,
		SimilarityTTL: 5 * time.Minute,
		ContextTTL:    30 * time.Minute,
	}
}

// SimilarityCache 检索结果读透缓存接口。
// 进程内实现为 CacheService，跨进程共享实现为 TieredSimilarityCache。
type SimilarityCache interface {
	GetSimilarity(ctx context.Context, key string) ([]Candidate, bool)
	SetSimilarity(ctx context.Context, key string, candidates []Candidate)
}

// ContextCache 上下文文本读透缓存接口，由 CacheService 实现
type ContextCache interface {
	GetContext(key string) (string, bool)
	SetContext(key, value string)
}

type similarityEntry struct {
	candidates []Candidate
	expiresAt  time.Time
}

type contextEntry struct {
	value     string
	expiresAt time.Time
}

// CacheService 进程内读透缓存服务。
// 相似度结果缓存和上下文缓存各持有独立的锁和 TTL 表，
// 过期在读取时惰性判定，无后台清理协程。
type CacheService struct {
	config CacheConfig

	simMu    sync.RWMutex
	simCache map[string]similarityEntry

	ctxMu    sync.RWMutex
	ctxCache map[string]contextEntry

	logger *zap.Logger
}

// NewCacheService 创建缓存服务
func NewCacheService(config CacheConfig, logger *zap.Logger) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		config:   config,
		simCache: make(map[string]similarityEntry),
		ctxCache: make(map[string]contextEntry),
		logger:   logger.With(zap.String("component", "cache_service")),
	}
}

// SimilarityKey 由查询文本与检索参数生成稳定缓存键
func SimilarityKey(queryText string, targetResults int, filters map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", queryText, targetResults)
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, filters[k])
	}
	return "sim:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// ContextKey 由查询文本生成上下文缓存键
func ContextKey(queryText string) string {
	h := sha256.Sum256([]byte(queryText))
	return "ctx:" + hex.EncodeToString(h[:])[:32]
}

// GetSimilarity 读取检索结果缓存，过期视为未命中
func (s *CacheService) GetSimilarity(_ context.Context, key string) ([]Candidate, bool) {
	if !s.config.Enabled {
		return nil, false
	}
	s.simMu.RLock()
	entry, ok := s.simCache[key]
	s.simMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	// 返回副本，调用方的后续修改不污染缓存
	out := make([]Candidate, len(entry.candidates))
	copy(out, entry.candidates)
	for i := range out {
		out[i].Metadata = cloneMetadata(entry.candidates[i].Metadata)
	}
	return out, true
}

// SetSimilarity 写入检索结果缓存
func (s *CacheService) SetSimilarity(_ context.Context, key string, candidates []Candidate) {
	if !s.config.Enabled {
		return
	}
	stored := make([]Candidate, len(candidates))
	copy(stored, candidates)
	for i := range stored {
		stored[i].Metadata = cloneMetadata(candidates[i].Metadata)
	}
	s.simMu.Lock()
	s.simCache[key] = similarityEntry{candidates: stored, expiresAt: time.Now().Add(s.config.SimilarityTTL)}
	s.simMu.Unlock()
}

// GetContext 读取上下文缓存
func (s *CacheService) GetContext(key string) (string, bool) {
	if !s.config.Enabled {
		return "", false
	}
	s.ctxMu.RLock()
	entry, ok := s.ctxCache[key]
	s.ctxMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

// SetContext 写入上下文缓存
func (s *CacheService) SetContext(key, value string) {
	if !s.config.Enabled {
		return
	}
	s.ctxMu.Lock()
	s.ctxCache[key] = contextEntry{value: value, expiresAt: time.Now().Add(s.config.ContextTTL)}
	s.ctxMu.Unlock()
}

// PurgeExpired 清理已过期条目。调用是可选的，读取路径不依赖它。
func (s *CacheService) PurgeExpired() {
	now := time.Now()
	s.simMu.Lock()
	for k, e := range s.simCache {
		if now.After(e.expiresAt) {
			delete(s.simCache, k)
		}
	}
	s.simMu.Unlock()
	s.ctxMu.Lock()
	for k, e := range s.ctxCache {
		if now.After(e.expiresAt) {
			delete(s.ctxCache, k)
		}
	}
	s.ctxMu.Unlock()
}
