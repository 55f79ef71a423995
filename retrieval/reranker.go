package retrieval

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// 重排序加权项
const (
	boostTermOverlapWeight = 0.2  // 查询词覆盖率加权
	boostSpecificMatch     = 0.1  // specific 查询命中专有名词
	boostComparative       = 0.15 // comparative 查询命中比较词
	boostTemporal          = 0.1  // temporal 查询命中时间词
	boostHighImportance    = 0.05 // 块重要度 > 1.2
	boostIdealLength       = 0.05 // 内容 50-300 词
	penaltyTooShort        = 0.1  // 内容 < 20 词
	importanceBoostFloor   = 1.2
	idealLengthMin         = 50
	idealLengthMax         = 300
	tooShortWords          = 20
)

// Reranker 启发式重排序器。以相似度为基准，
// 按查询词覆盖、查询类型匹配、块重要度和内容长度调整分数。
type Reranker struct {
	logger *zap.Logger
}

// NewReranker 创建重排序器
func NewReranker(logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{logger: logger.With(zap.String("component", "reranker"))}
}

// Rerank 重算候选分数并按分数降序排序。
// 候选带有混合分数时直接沿用混合分数，词法信号已在融合阶段计入，
// 两条打分路径不叠加；其余候选以稠密相似度为基准走加权打分。
func (r *Reranker) Rerank(query string, analysis QueryAnalysis, candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	queryTerms := tokenize(query)
	for i := range candidates {
		if candidates[i].HybridScore > 0 {
			candidates[i].RerankScore = candidates[i].HybridScore
			continue
		}
		candidates[i].RerankScore = r.score(queryTerms, analysis, &candidates[i])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RerankScore > candidates[j].RerankScore
	})
	return candidates
}

func (r *Reranker) score(queryTerms []string, analysis QueryAnalysis, c *Candidate) float64 {
	score := c.Similarity

	content := strings.ToLower(c.Content)
	contentWords := strings.Fields(content)

	if len(queryTerms) > 0 {
		matched := 0
		for _, t := range queryTerms {
			if strings.Contains(content, t) {
				matched++
			}
		}
		score += boostTermOverlapWeight * float64(matched) / float64(len(queryTerms))
	}

	switch analysis.Type {
	case QuerySpecific:
		if entityRe.MatchString(c.Content) {
			score += boostSpecificMatch
		}
	case QueryComparative:
		if containsAnyWord(contentWords, comparisonWords) {
			score += boostComparative
		}
	case QueryTemporal:
		if containsAnyWord(contentWords, temporalWords) {
			score += boostTemporal
		}
	}

	if c.ImportanceScore > importanceBoostFloor {
		score += boostHighImportance
	}

	wc := len(contentWords)
	switch {
	case wc >= idealLengthMin && wc <= idealLengthMax:
		score += boostIdealLength
	case wc < tooShortWords:
		score -= penaltyTooShort
	}

	return clamp(score, 0, 1)
}
