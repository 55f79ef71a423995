package retrieval

import "context"

// ChunkType 块类型
type ChunkType string

const (
	ChunkTypeSection     ChunkType = "section"       // 完整章节
	ChunkTypeSectionPart ChunkType = "section_chunk" // 超长章节的切分块
	ChunkTypeText        ChunkType = "text_chunk"    // 无结构文本块
)

// Chunk 文档块。由 DocumentChunker 在摄取时创建，创建后不可变；
// 持久化由摄取管线负责，引擎本身不管理块的生命周期。
type Chunk struct {
	Content         string            `json:"content"`
	Heading         string            `json:"heading,omitempty"`
	Type            ChunkType         `json:"type"`
	ImportanceScore float64           `json:"importance_score"` // 钳制在 [0,2]
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Heading 文档结构中的一个标题
type Heading struct {
	StartPosition int    `json:"start_position"`
	Level         int    `json:"level"` // 1-6
	Text          string `json:"text"`
}

// QueryType 查询类型
type QueryType string

const (
	QueryGeneral     QueryType = "general"
	QuerySpecific    QueryType = "specific"
	QueryComparative QueryType = "comparative"
	QueryTemporal    QueryType = "temporal"
)

// QueryAnalysis 查询分析结果。每次查询重新计算，无状态。
type QueryAnalysis struct {
	Type           QueryType `json:"type"`
	Complexity     float64   `json:"complexity"` // [0,1]
	WordCount      int       `json:"word_count"`
	HasQuestions   bool      `json:"has_questions"`
	HasSpecifics   bool      `json:"has_specifics"`
	HasComparisons bool      `json:"has_comparisons"`
	HasTemporal    bool      `json:"has_temporal"`
	HasEntities    bool      `json:"has_entities"`
}

// Candidate 检索候选。仅在单次检索调用内产生和修改，
// 跨调用共享只通过读透缓存进行。
type Candidate struct {
	ChunkRef        string            `json:"chunk_ref"`
	Content         string            `json:"content"`
	Heading         string            `json:"heading,omitempty"`
	DocumentID      string            `json:"document_id,omitempty"`
	Similarity      float64           `json:"similarity"`    // 稠密相似度 [0,1]
	KeywordScore    float64           `json:"keyword_score"` // 归一化 BM25 [0,1]
	HybridScore     float64           `json:"hybrid_score"`
	RerankScore     float64           `json:"rerank_score"`
	ImportanceScore float64           `json:"importance_score"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// 候选元数据键
const (
	MetaSearchMethod       = "search_method"       // hybrid | semantic
	MetaRetrievalMode      = "retrieval_mode"      // multi_stage | single_stage
	MetaQueryComplexity    = "query_complexity"    // simple | medium | complex
	MetaOriginalSimilarity = "original_similarity" // 重排前的稠密相似度
)

// VectorMatch 向量查询能力返回的单条结果
type VectorMatch struct {
	ID              string            `json:"id"`
	Content         string            `json:"content"`
	Similarity      float64           `json:"similarity"`
	Heading         string            `json:"heading,omitempty"`
	DocumentID      string            `json:"document_id,omitempty"`
	ChunkIndex      int               `json:"chunk_index"`
	ImportanceScore float64           `json:"importance_score"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// VectorQuerier 外部向量查询能力。实现必须按相似度降序返回、
// 并已按 threshold 预过滤；无结果时返回空列表。
// 引擎把此处抛出的错误视为空结果，不向调用方扩散。
type VectorQuerier interface {
	Query(ctx context.Context, embedding []float64, topK int, threshold float64, filters map[string]string) ([]VectorMatch, error)
}

// Embedder 外部嵌入能力，维度由部署决定（如 1536）。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
