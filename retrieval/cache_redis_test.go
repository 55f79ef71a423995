package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/davidgendel/chatbot-retrieval/internal/cache"
)

func setupTieredCache(t *testing.T) (*miniredis.Miniredis, *TieredSimilarityCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	remote, err := cache.NewManager(cache.Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	local := NewCacheService(DefaultCacheConfig(), nil)
	return mr, NewTieredSimilarityCache(local, remote, time.Minute, nil)
}

func TestTieredSimilarityCache_RoundTrip(t *testing.T) {
	mr, tiered := setupTieredCache(t)
	ctx := context.Background()

	if _, ok := tiered.GetSimilarity(ctx, "sim:missing"); ok {
		t.Fatal("expected miss on empty caches")
	}

	candidates := []Candidate{{ChunkRef: "c1", Similarity: 0.9, Metadata: map[string]string{"k": "v"}}}
	tiered.SetSimilarity(ctx, "sim:key", candidates)

	got, ok := tiered.GetSimilarity(ctx, "sim:key")
	if !ok || len(got) != 1 || got[0].ChunkRef != "c1" {
		t.Fatalf("unexpected cached result: ok=%v %+v", ok, got)
	}
	if !mr.Exists("sim:key") {
		t.Fatal("expected entry written to redis")
	}
}

func TestTieredSimilarityCache_RemoteHitBackfillsLocal(t *testing.T) {
	mr, tiered := setupTieredCache(t)
	ctx := context.Background()

	// 用共享同一 redis 的第二个两级缓存模拟另一进程
	tiered.SetSimilarity(ctx, "sim:shared", []Candidate{{ChunkRef: "c1", Similarity: 0.8}})

	remote, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })
	fresh := NewTieredSimilarityCache(NewCacheService(DefaultCacheConfig(), nil), remote, time.Minute, nil)

	got, ok := fresh.GetSimilarity(ctx, "sim:shared")
	if !ok || got[0].ChunkRef != "c1" {
		t.Fatalf("expected remote hit through fresh local cache: ok=%v %+v", ok, got)
	}

	// 回填后一级直接命中，即使 redis 条目被删除
	mr.Del("sim:shared")
	if _, ok := fresh.GetSimilarity(ctx, "sim:shared"); !ok {
		t.Fatal("expected local backfill to serve after redis eviction")
	}
}

func TestTieredSimilarityCache_RedisDownDegradesToLocal(t *testing.T) {
	mr, tiered := setupTieredCache(t)
	ctx := context.Background()

	mr.Close()

	// redis 不可用：写入仍落一级，读取不报错
	tiered.SetSimilarity(ctx, "sim:degraded", []Candidate{{ChunkRef: "c1"}})
	got, ok := tiered.GetSimilarity(ctx, "sim:degraded")
	if !ok || got[0].ChunkRef != "c1" {
		t.Fatalf("expected local cache to serve while redis is down: ok=%v %+v", ok, got)
	}
}
