package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// StoredChunk 向量存储中的一条记录
type StoredChunk struct {
	ID              string
	Content         string
	Embedding       []float64
	Heading         string
	DocumentID      string
	ChunkIndex      int
	ImportanceScore float64
	Metadata        map[string]string
}

// InMemoryVectorStore 进程内向量存储，实现 VectorQuerier。
// 适用于测试和小规模语料，检索为全量余弦相似度扫描。
type InMemoryVectorStore struct {
	mu     sync.RWMutex
	chunks map[string]StoredChunk
	logger *zap.Logger
}

// NewInMemoryVectorStore 创建进程内向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		chunks: make(map[string]StoredChunk),
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

// Add 写入或覆盖一条记录
func (s *InMemoryVectorStore) Add(chunk StoredChunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("%w: chunk id is required", ErrInvalidConfig)
	}
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("%w: chunk embedding is required", ErrInvalidConfig)
	}
	s.mu.Lock()
	s.chunks[chunk.ID] = chunk
	s.mu.Unlock()
	return nil
}

// DeleteByDocument 删除某文档的全部记录，返回删除条数
func (s *InMemoryVectorStore) DeleteByDocument(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
			n++
		}
	}
	return n
}

// Count 当前记录数
func (s *InMemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Query 余弦相似度检索，结果按相似度降序并已按 threshold 过滤
func (s *InMemoryVectorStore) Query(ctx context.Context, embedding []float64, topK int, threshold float64, filters map[string]string) ([]VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	matches := make([]VectorMatch, 0, len(s.chunks))
	for _, c := range s.chunks {
		if !matchesFilters(c, filters) {
			continue
		}
		sim := cosineSimilarity(embedding, c.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:              c.ID,
			Content:         c.Content,
			Similarity:      sim,
			Heading:         c.Heading,
			DocumentID:      c.DocumentID,
			ChunkIndex:      c.ChunkIndex,
			ImportanceScore: c.ImportanceScore,
			Metadata:        cloneMetadata(c.Metadata),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func matchesFilters(c StoredChunk, filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case "document_id":
			if c.DocumentID != v {
				return false
			}
		case "heading":
			if c.Heading != v {
				return false
			}
		default:
			if c.Metadata[k] != v {
				return false
			}
		}
	}
	return true
}

// cosineSimilarity 余弦相似度。维度不一致或零向量返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
