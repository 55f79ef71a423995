package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/davidgendel/chatbot-retrieval/config"
	"github.com/davidgendel/chatbot-retrieval/internal/metrics"
)

// Engine 检索引擎对外门面：分块、检索和上下文拼装三个同步入口。
// 除缓存写入外无副作用。
type Engine struct {
	chunker       *DocumentChunker
	retriever     *MultiStageRetriever
	scorer        *LexicalScorer
	contexts      ContextCache
	targetResults int
	logger        *zap.Logger
}

// EngineDeps 引擎的外部依赖。Querier 必填，其余可为 nil。
type EngineDeps struct {
	// Querier 向量查询能力
	Querier VectorQuerier
	// Tokenizer 句子切分器，nil 使用规则切分器
	Tokenizer SentenceTokenizer
	// Cache 检索结果缓存，nil 时按配置创建进程内缓存
	Cache SimilarityCache
	// Collector 指标收集器
	Collector *metrics.Collector
	// Logger 日志器
	Logger *zap.Logger
}

// NewEngineFromConfig 从全局配置一键创建检索引擎
func NewEngineFromConfig(cfg *config.Config, deps EngineDeps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if deps.Querier == nil {
		return nil, fmt.Errorf("%w: vector querier is required", ErrInvalidConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chunker, err := NewDocumentChunker(ChunkerConfig{
		TargetSize:     cfg.Chunking.TargetSize,
		MaxSize:        cfg.Chunking.MaxSize,
		MinSize:        cfg.Chunking.MinSize,
		OverlapSize:    cfg.Chunking.OverlapSize,
		SentenceEnders: cfg.Chunking.SentenceEnders,
	}, deps.Tokenizer, logger)
	if err != nil {
		return nil, err
	}

	scorer := NewLexicalScorer(logger)
	searcher, err := NewHybridSearcher(HybridSearchConfig{
		Enabled:        cfg.Retrieval.HybridSearch.Enabled,
		DenseWeight:    cfg.Retrieval.HybridSearch.SemanticWeight,
		LexicalWeight:  cfg.Retrieval.HybridSearch.KeywordWeight,
		BM25Divisor:    cfg.Retrieval.HybridSearch.BM25Divisor,
		PoolMultiplier: cfg.Retrieval.HybridSearch.PoolMultiplier,
		PoolCap:        cfg.Retrieval.HybridSearch.PoolCap,
	}, deps.Querier, scorer, logger)
	if err != nil {
		return nil, err
	}

	cache := deps.Cache
	if cache == nil && cfg.Cache.Enabled {
		cache = NewCacheService(CacheConfig{
			Enabled:       true,
			SimilarityTTL: cfg.Cache.SimilarityTTL,
			ContextTTL:    cfg.Cache.ContextTTL,
		}, logger)
	}
	// 缓存实现同时具备上下文缓存能力时，上下文拼装共用它
	contexts, _ := cache.(ContextCache)

	retriever, err := NewMultiStageRetriever(MultiStageConfig{
		Enabled:               cfg.Retrieval.MultiStage.Enabled,
		FallbackToSingleStage: cfg.Retrieval.MultiStage.FallbackToSingleStage,
		Simple:                StageThresholds(cfg.Retrieval.Thresholds.Simple),
		Medium:                StageThresholds(cfg.Retrieval.Thresholds.Medium),
		Complex:               StageThresholds(cfg.Retrieval.Thresholds.Complex),
		ExpansionSimple:       cfg.Retrieval.Limits.ExpansionMultiplier.Simple,
		ExpansionMedium:       cfg.Retrieval.Limits.ExpansionMultiplier.Medium,
		ExpansionComplex:      cfg.Retrieval.Limits.ExpansionMultiplier.Complex,
	}, NewQueryAnalyzer(logger), searcher, NewReranker(logger), deps.Querier, cache, deps.Collector, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		chunker:       chunker,
		retriever:     retriever,
		scorer:        scorer,
		contexts:      contexts,
		targetResults: cfg.Retrieval.TargetResults,
		logger:        logger.With(zap.String("component", "retrieval_engine")),
	}, nil
}

// Chunk 把文档切分为块。structure 为调用方已知的标题结构，
// metadata 附加到每个块上，两者均可为 nil。
func (e *Engine) Chunk(text string, structure []Heading, metadata map[string]string) []Chunk {
	return e.chunker.Chunk(text, structure, metadata)
}

// Chunker 返回引擎的分块器，供摄取管线复用
func (e *Engine) Chunker() *DocumentChunker {
	return e.chunker
}

// Scorer 返回引擎的词法打分器，供摄取管线登记语料
func (e *Engine) Scorer() *LexicalScorer {
	return e.scorer
}

// Retrieve 执行检索。targetResults <= 0 使用配置默认值。
func (e *Engine) Retrieve(ctx context.Context, embedding []float64, queryText string, targetResults int, filters map[string]string) ([]Candidate, error) {
	if targetResults <= 0 {
		targetResults = e.targetResults
	}
	return e.retriever.Retrieve(ctx, embedding, queryText, targetResults, filters)
}

// BuildContext 把检索结果拼装为提示上下文文本，
// 按查询文本读透上下文缓存。候选为空时返回空串且不写缓存。
func (e *Engine) BuildContext(queryText string, candidates []Candidate) string {
	key := ContextKey(queryText)
	if e.contexts != nil {
		if cached, ok := e.contexts.GetContext(key); ok {
			return cached
		}
	}

	var sb strings.Builder
	for i, c := range candidates {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if c.Heading != "" {
			sb.WriteString("## ")
			sb.WriteString(c.Heading)
			sb.WriteString("\n")
		}
		sb.WriteString(c.Content)
	}
	text := sb.String()
	if e.contexts != nil && text != "" {
		e.contexts.SetContext(key, text)
	}
	return text
}
