package ingestion

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidgendel/chatbot-retrieval/config"
	"github.com/davidgendel/chatbot-retrieval/embedding"
	"github.com/davidgendel/chatbot-retrieval/retrieval"
	"github.com/davidgendel/chatbot-retrieval/storage"
)

func newTestPipeline(t *testing.T) (*Pipeline, *retrieval.InMemoryVectorStore, *storage.ChunkStore) {
	chunker, err := retrieval.NewDocumentChunker(retrieval.DefaultChunkerConfig(), nil, zap.NewNop())
	require.NoError(t, err)

	vectors := retrieval.NewInMemoryVectorStore(nil)
	scorer := retrieval.NewLexicalScorer(nil)

	store, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipeline, err := NewPipeline(DefaultConfig(), chunker, embedding.NewLocalProvider(128), vectors, scorer, store, nil, nil, zap.NewNop())
	require.NoError(t, err)
	return pipeline, vectors, store
}

func testDocument() string {
	var b strings.Builder
	b.WriteString("# Introduction\n\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "This is sentence number %d about database retrieval systems. ", i)
	}
	b.WriteString("\n\n# Details\n\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Detailed explanation %d covers indexing and query planning. ", i)
	}
	return b.String()
}

func TestPipeline_IngestDocument(t *testing.T) {
	pipeline, vectors, store := newTestPipeline(t)
	ctx := context.Background()

	result, err := pipeline.IngestDocument(ctx, "doc1", testDocument())
	require.NoError(t, err)

	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, "doc1", result.DocumentID)
	assert.Greater(t, result.Chunks, 1)
	assert.Greater(t, result.Tokens, 0)

	// 向量索引与持久存储条数一致
	assert.Equal(t, result.Chunks, vectors.Count())
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, result.Chunks, count)

	// 块 ID 确定性生成
	records, err := store.ListByDocument(ctx, "doc1")
	require.NoError(t, err)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("doc1_chunk_%d", i), r.ID)
	}
}

func TestPipeline_IngestIdempotentIDs(t *testing.T) {
	pipeline, vectors, _ := newTestPipeline(t)
	ctx := context.Background()

	first, err := pipeline.IngestDocument(ctx, "doc1", testDocument())
	require.NoError(t, err)
	second, err := pipeline.IngestDocument(ctx, "doc1", testDocument())
	require.NoError(t, err)

	// 重复摄取覆盖同名块，不产生重复索引
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.Chunks, vectors.Count())
}

func TestPipeline_IngestEmptyDocument(t *testing.T) {
	pipeline, vectors, _ := newTestPipeline(t)

	result, err := pipeline.IngestDocument(context.Background(), "empty", "   \n\t  ")
	require.NoError(t, err)
	assert.Zero(t, result.Chunks)
	assert.Zero(t, vectors.Count())
}

func TestPipeline_IngestRequiresDocumentID(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t)

	_, err := pipeline.IngestDocument(context.Background(), "", "content")
	assert.Error(t, err)
}

func TestPipeline_RemoveDocument(t *testing.T) {
	pipeline, vectors, store := newTestPipeline(t)
	ctx := context.Background()

	_, err := pipeline.IngestDocument(ctx, "doc1", testDocument())
	require.NoError(t, err)
	_, err = pipeline.IngestDocument(ctx, "doc2", testDocument())
	require.NoError(t, err)

	require.NoError(t, pipeline.RemoveDocument(ctx, "doc1"))

	remaining, err := store.ListByDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	doc2, err := store.ListByDocument(ctx, "doc2")
	require.NoError(t, err)
	assert.NotEmpty(t, doc2)
	assert.Equal(t, len(doc2), vectors.Count())
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, fmt.Errorf("embedding service unavailable")
}

func (failingEmbedder) Dimensions() int { return 8 }

func TestPipeline_EmbedFailure(t *testing.T) {
	chunker, err := retrieval.NewDocumentChunker(retrieval.DefaultChunkerConfig(), nil, nil)
	require.NoError(t, err)

	pipeline, err := NewPipeline(DefaultConfig(), chunker, failingEmbedder{},
		retrieval.NewInMemoryVectorStore(nil), retrieval.NewLexicalScorer(nil), nil, nil, nil, nil)
	require.NoError(t, err)

	_, err = pipeline.IngestDocument(context.Background(), "doc1", testDocument())
	assert.ErrorContains(t, err, "embedding service unavailable")
}
