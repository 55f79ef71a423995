package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidgendel/chatbot-retrieval/internal/metrics"
)

// 复杂度分档边界
const (
	complexBoundary = 0.7
	mediumBoundary  = 0.4
)

// 自适应阈值参数
const (
	cliffGap           = 0.2  // rank1 与 rank3 的分差超过此值判定为断崖
	cliffMargin        = 0.05 // 断崖时阈值设为 rank3 分数加此余量
	specificFinalFloor = 0.5  // specific 查询的最终阈值下限
	degradeThreshold   = 0.45 // 降级单次稠密查询的阈值
	fallbackRelaxStep  = 0.1  // 回退重试的阈值放宽步长
	minStage1Threshold = 0.15 // 回退重试的阈值下限
)

// StageThresholds 单个复杂度档位的阈值对
type StageThresholds struct {
	Stage1 float64 `json:"stage1" yaml:"stage1"` // 初检阈值
	Final  float64 `json:"final" yaml:"final"`   // 最终筛选基准阈值
}

// MultiStageConfig 多阶段检索配置
type MultiStageConfig struct {
	Enabled               bool            `json:"enabled" yaml:"enabled"`
	FallbackToSingleStage bool            `json:"fallback_to_single_stage" yaml:"fallback_to_single_stage"`
	Simple                StageThresholds `json:"simple" yaml:"simple"`
	Medium                StageThresholds `json:"medium" yaml:"medium"`
	Complex               StageThresholds `json:"complex" yaml:"complex"`
	ExpansionSimple       int             `json:"expansion_simple" yaml:"expansion_simple"`
	ExpansionMedium       int             `json:"expansion_medium" yaml:"expansion_medium"`
	ExpansionComplex      int             `json:"expansion_complex" yaml:"expansion_complex"`
}

// DefaultMultiStageConfig 返回默认多阶段配置
func DefaultMultiStageConfig() MultiStageConfig {
	return MultiStageConfig{
		Enabled:               true,
		FallbackToSingleStage: true,
		Simple:                StageThresholds{Stage1: 0.4, Final: 0.4},
		Medium:                StageThresholds{Stage1: 0.35, Final: 0.4},
		Complex:               StageThresholds{Stage1: 0.25, Final: 0.3},
		ExpansionSimple:       2,
		ExpansionMedium:       3,
		ExpansionComplex:      4,
	}
}

// Validate 校验多阶段配置
func (c MultiStageConfig) Validate() error {
	for _, t := range []StageThresholds{c.Simple, c.Medium, c.Complex} {
		if t.Stage1 < 0 || t.Stage1 > 1 || t.Final < 0 || t.Final > 1 {
			return fmt.Errorf("%w: stage thresholds must be in [0,1]", ErrInvalidConfig)
		}
	}
	if c.ExpansionSimple < 1 || c.ExpansionMedium < 1 || c.ExpansionComplex < 1 {
		return fmt.Errorf("%w: expansion multipliers must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// stageParams 单次检索的派生参数
type stageParams struct {
	category        string // simple | medium | complex
	stage1Threshold float64
	finalBase       float64
	multiplier      int
}

// MultiStageRetriever 多阶段检索编排器：
// 查询分析 → 扩大初检 → 空结果回退 → 重排 → 自适应阈值筛选，
// 任一阶段异常时降级为单次稠密查询，不向调用方扩散。
type MultiStageRetriever struct {
	config    MultiStageConfig
	analyzer  *QueryAnalyzer
	searcher  *HybridSearcher
	reranker  *Reranker
	querier   VectorQuerier
	cache     SimilarityCache
	collector *metrics.Collector
	tracer    oteltrace.Tracer
	logger    *zap.Logger
}

// NewMultiStageRetriever 创建多阶段检索器。
// cache 和 collector 可为 nil（分别禁用缓存与指标）。
func NewMultiStageRetriever(
	config MultiStageConfig,
	analyzer *QueryAnalyzer,
	searcher *HybridSearcher,
	reranker *Reranker,
	querier VectorQuerier,
	cache SimilarityCache,
	collector *metrics.Collector,
	logger *zap.Logger,
) (*MultiStageRetriever, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if analyzer == nil || searcher == nil || reranker == nil || querier == nil {
		return nil, fmt.Errorf("%w: analyzer, searcher, reranker and querier are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiStageRetriever{
		config:    config,
		analyzer:  analyzer,
		searcher:  searcher,
		reranker:  reranker,
		querier:   querier,
		cache:     cache,
		collector: collector,
		tracer:    otel.Tracer("chatbot-retrieval/retrieval"),
		logger:    logger.With(zap.String("component", "multi_stage_retriever")),
	}, nil
}

// Retrieve 执行检索，返回按最终分数降序、数量不超过 targetResults 的候选。
// 多阶段禁用时直接走单阶段。检索内部错误不外传，
// 只有向量查询能力彻底不可用时才返回错误。
func (r *MultiStageRetriever) Retrieve(ctx context.Context, embedding []float64, queryText string, targetResults int, filters map[string]string) ([]Candidate, error) {
	if targetResults <= 0 {
		targetResults = 5
	}
	requestID := uuid.NewString()
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "retrieval.retrieve",
		oteltrace.WithAttributes(
			attribute.String("retrieval.request_id", requestID),
			attribute.Int("retrieval.target_results", targetResults),
		))
	defer span.End()

	cacheKey := SimilarityKey(queryText, targetResults, filters)
	if r.cache != nil {
		if cached, ok := r.cache.GetSimilarity(ctx, cacheKey); ok {
			if r.collector != nil {
				r.collector.RecordCacheHit("similarity")
			}
			span.SetAttributes(attribute.Bool("retrieval.cache_hit", true))
			return cached, nil
		}
		if r.collector != nil {
			r.collector.RecordCacheMiss("similarity")
		}
	}

	if !r.config.Enabled {
		return r.singleStage(ctx, embedding, queryText, targetResults, filters, cacheKey)
	}

	results, err := r.multiStage(ctx, embedding, queryText, targetResults, filters, requestID)
	if err != nil {
		r.logger.Warn("多阶段检索失败，尝试降级",
			zap.String("request_id", requestID),
			zap.Error(err))
		if r.config.FallbackToSingleStage {
			if results, ferr := r.degrade(ctx, embedding, targetResults, filters); ferr == nil {
				return results, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrMultiStageFailed, err)
	}

	if r.cache != nil && len(results) > 0 {
		r.cache.SetSimilarity(ctx, cacheKey, results)
	}
	if r.collector != nil {
		r.collector.RecordRetrieval("multi_stage", time.Since(start))
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	return results, nil
}

func (r *MultiStageRetriever) multiStage(ctx context.Context, embedding []float64, queryText string, targetResults int, filters map[string]string, requestID string) ([]Candidate, error) {
	analysis := r.analyzer.Analyze(queryText)
	params := r.deriveParams(analysis)
	if r.collector != nil {
		r.collector.RecordQuery(string(analysis.Type), params.category)
	}

	// 初检：扩大召回
	topK := targetResults * params.multiplier
	candidates, err := r.searcher.Search(ctx, embedding, queryText, topK, params.stage1Threshold, filters)
	if err != nil {
		return nil, err
	}

	// 回退：放宽阈值重试一次
	if len(candidates) == 0 {
		relaxed := params.stage1Threshold - fallbackRelaxStep
		if relaxed < minStage1Threshold {
			relaxed = minStage1Threshold
		}
		candidates, err = r.searcher.Search(ctx, embedding, queryText, topK, relaxed, filters)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			// 放宽后仍无候选：按约定返回空结果而不是错误
			r.logger.Debug("阈值放宽后仍无候选",
				zap.String("request_id", requestID),
				zap.Float64("relaxed_threshold", relaxed))
			return nil, nil
		}
	}

	candidates = r.reranker.Rerank(queryText, analysis, candidates)
	selected := r.selectByThreshold(candidates, analysis, params, targetResults)
	r.tagResults(selected, params.category, "multi_stage")

	r.logger.Debug("多阶段检索完成",
		zap.String("request_id", requestID),
		zap.String("category", params.category),
		zap.String("query_type", string(analysis.Type)),
		zap.Int("stage1_candidates", len(candidates)),
		zap.Int("selected", len(selected)))
	return selected, nil
}

// deriveParams 按复杂度分档并应用查询类型修正
func (r *MultiStageRetriever) deriveParams(analysis QueryAnalysis) stageParams {
	var p stageParams
	switch {
	case analysis.Complexity > complexBoundary:
		p = stageParams{category: "complex", stage1Threshold: r.config.Complex.Stage1, finalBase: r.config.Complex.Final, multiplier: r.config.ExpansionComplex}
	case analysis.Complexity > mediumBoundary:
		p = stageParams{category: "medium", stage1Threshold: r.config.Medium.Stage1, finalBase: r.config.Medium.Final, multiplier: r.config.ExpansionMedium}
	default:
		p = stageParams{category: "simple", stage1Threshold: r.config.Simple.Stage1, finalBase: r.config.Simple.Final, multiplier: r.config.ExpansionSimple}
	}

	// 比较类查询需要更广的召回
	if analysis.Type == QueryComparative {
		if p.multiplier < 3 {
			p.multiplier = 3
		}
		if p.stage1Threshold > 0.3 {
			p.stage1Threshold = 0.3
		}
	}
	// 带命名实体的 specific 查询收紧初检
	if analysis.Type == QuerySpecific && analysis.HasEntities {
		if p.stage1Threshold < 0.4 {
			p.stage1Threshold = 0.4
		}
	}
	return p
}

// selectByThreshold 自适应阈值筛选。
// 头部分数出现断崖时收紧阈值只保留头部；只要有候选就至少返回最优一条。
func (r *MultiStageRetriever) selectByThreshold(candidates []Candidate, analysis QueryAnalysis, params stageParams, targetResults int) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	threshold := params.finalBase
	if analysis.Type == QuerySpecific && threshold < specificFinalFloor {
		threshold = specificFinalFloor
	}
	if len(candidates) >= 3 {
		gap := candidates[0].RerankScore - candidates[2].RerankScore
		if gap > cliffGap {
			adaptive := candidates[2].RerankScore + cliffMargin
			if adaptive > threshold {
				threshold = adaptive
			}
		}
	}

	var selected []Candidate
	for _, c := range candidates {
		if c.RerankScore >= threshold {
			selected = append(selected, c)
		}
		if len(selected) == targetResults {
			break
		}
	}
	if len(selected) == 0 {
		selected = candidates[:1]
	}
	return selected
}

// tagResults 为最终候选补充检索元数据，并把重排分数回写为对外相似度
func (r *MultiStageRetriever) tagResults(candidates []Candidate, category, mode string) {
	for i := range candidates {
		if candidates[i].Metadata == nil {
			candidates[i].Metadata = make(map[string]string)
		}
		candidates[i].Metadata[MetaOriginalSimilarity] = fmt.Sprintf("%.4f", candidates[i].Similarity)
		candidates[i].Metadata[MetaQueryComplexity] = category
		candidates[i].Metadata[MetaRetrievalMode] = mode
		candidates[i].Similarity = candidates[i].RerankScore
	}
}

// singleStage 单阶段检索：按 medium 档参数做一次混合检索加重排
func (r *MultiStageRetriever) singleStage(ctx context.Context, embedding []float64, queryText string, targetResults int, filters map[string]string, cacheKey string) ([]Candidate, error) {
	start := time.Now()
	analysis := r.analyzer.Analyze(queryText)
	candidates, err := r.searcher.Search(ctx, embedding, queryText, targetResults, r.config.Medium.Stage1, filters)
	if err != nil {
		return r.degrade(ctx, embedding, targetResults, filters)
	}
	candidates = r.reranker.Rerank(queryText, analysis, candidates)
	if len(candidates) > targetResults {
		candidates = candidates[:targetResults]
	}
	r.tagResults(candidates, "medium", "single_stage")
	if r.cache != nil && len(candidates) > 0 {
		r.cache.SetSimilarity(ctx, cacheKey, candidates)
	}
	if r.collector != nil {
		r.collector.RecordRetrieval("single_stage", time.Since(start))
	}
	return candidates, nil
}

// degrade 降级路径：单次纯稠密查询，固定阈值
func (r *MultiStageRetriever) degrade(ctx context.Context, embedding []float64, targetResults int, filters map[string]string) ([]Candidate, error) {
	matches, err := r.querier.Query(ctx, embedding, targetResults, degradeThreshold, filters)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		c := Candidate{
			ChunkRef:        m.ID,
			Content:         m.Content,
			Heading:         m.Heading,
			DocumentID:      m.DocumentID,
			Similarity:      m.Similarity,
			RerankScore:     m.Similarity,
			ImportanceScore: m.ImportanceScore,
			Metadata:        cloneMetadata(m.Metadata),
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		c.Metadata[MetaSearchMethod] = "semantic"
		candidates = append(candidates, c)
	}
	r.tagResults(candidates, "degraded", "single_stage")
	if r.collector != nil {
		r.collector.RecordDegrade()
	}
	return candidates, nil
}
