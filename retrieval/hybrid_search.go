package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// HybridSearchConfig 混合检索配置。
// 两个权重在构造时归一化为和为 1。
type HybridSearchConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`                 // 词法通道开关，关闭时退化为纯稠密检索
	DenseWeight    float64 `json:"dense_weight" yaml:"dense_weight"`       // 稠密相似度权重
	LexicalWeight  float64 `json:"lexical_weight" yaml:"lexical_weight"`   // 词法分数权重
	BM25Divisor    float64 `json:"bm25_divisor" yaml:"bm25_divisor"`       // BM25 归一化除数
	PoolMultiplier int     `json:"pool_multiplier" yaml:"pool_multiplier"` // 稠密候选池相对 topK 的放大倍数，0 取默认值
	PoolCap        int     `json:"pool_cap" yaml:"pool_cap"`               // 稠密候选池上限，0 取默认值
}

// 稠密候选池默认参数：向量库按 min(topK×倍数, 上限) 召回，融合后截断到 topK
const (
	defaultPoolMultiplier = 3
	defaultPoolCap        = 50
)

// DefaultHybridSearchConfig 返回默认混合检索配置
func DefaultHybridSearchConfig() HybridSearchConfig {
	return HybridSearchConfig{
		Enabled:        true,
		DenseWeight:    0.7,
		LexicalWeight:  0.3,
		BM25Divisor:    10.0,
		PoolMultiplier: defaultPoolMultiplier,
		PoolCap:        defaultPoolCap,
	}
}

// Validate 校验混合检索配置
func (c HybridSearchConfig) Validate() error {
	if c.DenseWeight < 0 || c.LexicalWeight < 0 {
		return fmt.Errorf("%w: hybrid weights must be non-negative", ErrInvalidConfig)
	}
	if c.DenseWeight+c.LexicalWeight == 0 {
		return fmt.Errorf("%w: hybrid weights sum to zero", ErrInvalidConfig)
	}
	if c.BM25Divisor <= 0 {
		return fmt.Errorf("%w: bm25_divisor must be positive", ErrInvalidConfig)
	}
	if c.PoolMultiplier < 0 || c.PoolCap < 0 {
		return fmt.Errorf("%w: pool parameters must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// HybridSearcher 稠密+词法混合检索器。
// 稠密相似度来自外部向量查询能力，词法分数由内置 BM25 打分器计算。
type HybridSearcher struct {
	config  HybridSearchConfig
	querier VectorQuerier
	scorer  *LexicalScorer
	logger  *zap.Logger
}

// NewHybridSearcher 创建混合检索器。权重在此归一化，
// 例如 (0.9, 0.9) 与 (0.5, 0.5) 行为完全一致。
func NewHybridSearcher(config HybridSearchConfig, querier VectorQuerier, scorer *LexicalScorer, logger *zap.Logger) (*HybridSearcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if querier == nil {
		return nil, fmt.Errorf("%w: vector querier is required", ErrInvalidConfig)
	}
	sum := config.DenseWeight + config.LexicalWeight
	config.DenseWeight /= sum
	config.LexicalWeight /= sum
	if config.PoolMultiplier == 0 {
		config.PoolMultiplier = defaultPoolMultiplier
	}
	if config.PoolCap == 0 {
		config.PoolCap = defaultPoolCap
	}
	if scorer == nil {
		scorer = NewLexicalScorer(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridSearcher{
		config:  config,
		querier: querier,
		scorer:  scorer,
		logger:  logger.With(zap.String("component", "hybrid_searcher")),
	}, nil
}

// Search 执行混合检索。向量库按放大后的候选池召回，融合重排后截断到 topK。
// 查询文本为空或分词为空时降级为纯稠密检索，按向量库原始排序返回，
// 混合分数保持零值。
func (s *HybridSearcher) Search(ctx context.Context, embedding []float64, queryText string, topK int, threshold float64, filters map[string]string) ([]Candidate, error) {
	poolK := topK * s.config.PoolMultiplier
	if poolK > s.config.PoolCap {
		poolK = s.config.PoolCap
	}
	matches, err := s.querier.Query(ctx, embedding, poolK, threshold, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: vector query: %v", ErrHybridSearchFailed, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, Candidate{
			ChunkRef:        m.ID,
			Content:         m.Content,
			Heading:         m.Heading,
			DocumentID:      m.DocumentID,
			Similarity:      m.Similarity,
			ImportanceScore: m.ImportanceScore,
			Metadata:        cloneMetadata(m.Metadata),
		})
	}

	method := "hybrid"
	if s.applyLexical(queryText, candidates) {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].HybridScore > candidates[j].HybridScore
		})
	} else {
		// 词法通道不可用：候选原样返回，保持向量库排序，混合分数不写入
		method = "semantic"
		for i := range candidates {
			candidates[i].KeywordScore = 0
			candidates[i].HybridScore = 0
		}
	}
	for i := range candidates {
		if candidates[i].Metadata == nil {
			candidates[i].Metadata = make(map[string]string)
		}
		candidates[i].Metadata[MetaSearchMethod] = method
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	s.logger.Debug("混合检索完成",
		zap.String("method", method),
		zap.Int("pool", poolK),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

// searchableText 拼出词法打分用的文本：正文加标题加文档标识，
// 命中标题或文档名的查询词也能参与词法信号
func searchableText(c *Candidate) string {
	text := c.Content
	if c.Heading != "" {
		text += " " + c.Heading
	}
	if c.DocumentID != "" {
		text += " " + c.DocumentID
	}
	return text
}

// applyLexical 计算词法分数并融合，返回词法通道是否可用
func (s *HybridSearcher) applyLexical(queryText string, candidates []Candidate) bool {
	if !s.config.Enabled || queryText == "" {
		return false
	}
	for i := range candidates {
		raw, err := s.scorer.Score(queryText, candidates[i].ChunkRef, searchableText(&candidates[i]))
		if err != nil {
			if errors.Is(err, ErrEmptyQueryTerms) {
				return false
			}
			raw = 0
		}
		lex := raw / s.config.BM25Divisor
		if lex > 1 {
			lex = 1
		}
		candidates[i].KeywordScore = lex
		candidates[i].HybridScore = s.config.DenseWeight*candidates[i].Similarity + s.config.LexicalWeight*lex
	}
	return true
}
