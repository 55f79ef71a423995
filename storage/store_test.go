package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidgendel/chatbot-retrieval/config"
)

func newTestStore(t *testing.T) *ChunkStore {
	store, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   ":memory:",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecords(documentID string, n int) []ChunkRecord {
	records := make([]ChunkRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, ChunkRecord{
			ID:              documentID + "_chunk_" + string(rune('0'+i)),
			DocumentID:      documentID,
			ChunkIndex:      i,
			Content:         "chunk content number " + string(rune('0'+i)),
			ChunkType:       "text_chunk",
			ImportanceScore: 1.0,
			TokenCount:      5,
		})
	}
	return records
}

func TestChunkStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, sampleRecords("doc1", 3)))

	record, err := store.Get(ctx, "doc1_chunk_1")
	require.NoError(t, err)
	assert.Equal(t, "doc1", record.DocumentID)
	assert.Equal(t, 1, record.ChunkIndex)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestChunkStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestChunkStore_SaveBatchUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := sampleRecords("doc1", 2)
	require.NoError(t, store.SaveBatch(ctx, records))

	// 重复写入相同 ID 覆盖而不是报错
	records[0].Content = "updated content"
	require.NoError(t, store.SaveBatch(ctx, records))

	record, err := store.Get(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "updated content", record.Content)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestChunkStore_ListByDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, sampleRecords("doc1", 3)))
	require.NoError(t, store.SaveBatch(ctx, sampleRecords("doc2", 2)))

	records, err := store.ListByDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	// 按块序号升序
	for i, r := range records {
		assert.Equal(t, i, r.ChunkIndex)
	}
}

func TestChunkStore_DeleteByDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, sampleRecords("doc1", 3)))
	require.NoError(t, store.SaveBatch(ctx, sampleRecords("doc2", 1)))

	deleted, err := store.DeleteByDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestChunkStore_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}
