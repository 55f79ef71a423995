// Package ingestion 提供文档摄取管线：分块、并行嵌入、持久化与索引登记。
package ingestion

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidgendel/chatbot-retrieval/embedding"
	"github.com/davidgendel/chatbot-retrieval/internal/metrics"
	"github.com/davidgendel/chatbot-retrieval/retrieval"
	"github.com/davidgendel/chatbot-retrieval/storage"
)

// Config 摄取管线配置
type Config struct {
	// 并行嵌入协程数
	EmbedConcurrency int `json:"embed_concurrency" yaml:"embed_concurrency"`
}

// DefaultConfig 返回默认摄取配置
func DefaultConfig() Config {
	return Config{EmbedConcurrency: 4}
}

// Result 单篇文档的摄取结果
type Result struct {
	BatchID    string `json:"batch_id"`
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Tokens     int    `json:"tokens"`
}

// Pipeline 文档摄取管线。store 和 collector 可为 nil。
type Pipeline struct {
	config   Config
	chunker  *retrieval.DocumentChunker
	embedder embedding.Provider
	vectors  *retrieval.InMemoryVectorStore
	scorer   *retrieval.LexicalScorer
	store    *storage.ChunkStore
	counter  retrieval.TokenCounter
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewPipeline 创建摄取管线
func NewPipeline(
	config Config,
	chunker *retrieval.DocumentChunker,
	embedder embedding.Provider,
	vectors *retrieval.InMemoryVectorStore,
	scorer *retrieval.LexicalScorer,
	store *storage.ChunkStore,
	counter retrieval.TokenCounter,
	collector *metrics.Collector,
	logger *zap.Logger,
) (*Pipeline, error) {
	if chunker == nil || embedder == nil || vectors == nil || scorer == nil {
		return nil, fmt.Errorf("chunker, embedder, vectors and scorer are required")
	}
	if config.EmbedConcurrency <= 0 {
		config.EmbedConcurrency = DefaultConfig().EmbedConcurrency
	}
	if counter == nil {
		counter = retrieval.EstimateCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:   config,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		scorer:   scorer,
		store:    store,
		counter:  counter,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "ingestion_pipeline")),
	}, nil
}

// IngestDocument 摄取一篇文档：分块、并行嵌入、写入向量索引与持久存储。
// 块 ID 由文档 ID 与块序号确定性生成，重复摄取同一文档得到相同的块 ID。
func (p *Pipeline) IngestDocument(ctx context.Context, documentID, content string) (*Result, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	batchID := uuid.NewString()
	chunks := p.chunker.Chunk(content, nil, nil)
	if len(chunks) == 0 {
		return &Result{BatchID: batchID, DocumentID: documentID}, nil
	}

	embeddings := make([][]float64, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.EmbedConcurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totalTokens := 0
	records := make([]storage.ChunkRecord, 0, len(chunks))
	for i, chunk := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", documentID, i)
		tokens := p.counter.CountTokens(chunk.Content)
		totalTokens += tokens

		if err := p.vectors.Add(retrieval.StoredChunk{
			ID:              chunkID,
			Content:         chunk.Content,
			Embedding:       embeddings[i],
			Heading:         chunk.Heading,
			DocumentID:      documentID,
			ChunkIndex:      i,
			ImportanceScore: chunk.ImportanceScore,
			Metadata:        chunk.Metadata,
		}); err != nil {
			return nil, fmt.Errorf("index chunk %s: %w", chunkID, err)
		}
		p.scorer.AddDocument(chunkID, chunk.Content)

		records = append(records, storage.ChunkRecord{
			ID:              chunkID,
			DocumentID:      documentID,
			ChunkIndex:      i,
			Content:         chunk.Content,
			Heading:         chunk.Heading,
			ChunkType:       string(chunk.Type),
			ImportanceScore: chunk.ImportanceScore,
			TokenCount:      tokens,
		})
	}

	if p.store != nil {
		if err := p.store.SaveBatch(ctx, records); err != nil {
			return nil, fmt.Errorf("persist chunks: %w", err)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordIngestion(len(chunks))
	}
	p.logger.Info("文档摄取完成",
		zap.String("batch_id", batchID),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
		zap.Int("tokens", totalTokens))

	return &Result{
		BatchID:    batchID,
		DocumentID: documentID,
		Chunks:     len(chunks),
		Tokens:     totalTokens,
	}, nil
}

// RemoveDocument 从向量索引、词法统计和持久存储中移除文档
func (p *Pipeline) RemoveDocument(ctx context.Context, documentID string) error {
	removed := p.vectors.DeleteByDocument(documentID)
	for i := 0; i < removed; i++ {
		p.scorer.RemoveDocument(fmt.Sprintf("%s_chunk_%d", documentID, i))
	}
	if p.store != nil {
		if _, err := p.store.DeleteByDocument(ctx, documentID); err != nil {
			return fmt.Errorf("delete persisted chunks: %w", err)
		}
	}
	p.logger.Info("文档已移除",
		zap.String("document_id", documentID),
		zap.Int("chunks", removed))
	return nil
}
