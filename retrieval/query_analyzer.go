package retrieval

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// 复杂度加权系数
const (
	complexityLengthWeight     = 0.3
	complexityQuestionWeight   = 0.2
	complexitySpecificWeight   = 0.2
	complexityComparisonWeight = 0.15
	complexityTemporalWeight   = 0.1
	complexityEntityWeight     = 0.05
	complexityLengthNorm       = 20.0 // 词数归一化基准
)

var (
	interrogativeWords = []string{"who", "what", "when", "where", "why", "how", "which", "whose"}
	comparisonWords    = []string{"compare", "comparison", "versus", "vs", "difference", "differences", "better", "worse", "between", "than"}
	temporalWords      = []string{"when", "before", "after", "during", "recent", "recently", "latest", "last", "first", "history", "timeline", "year", "today", "yesterday"}
	// 连续两个以上首字母大写的词视为命名实体
	entityRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
)

// QueryAnalyzer 查询分析器。无状态，按词面特征判定类型与复杂度。
type QueryAnalyzer struct {
	logger *zap.Logger
}

// NewQueryAnalyzer 创建查询分析器
func NewQueryAnalyzer(logger *zap.Logger) *QueryAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryAnalyzer{logger: logger.With(zap.String("component", "query_analyzer"))}
}

// Analyze 分析查询。空查询返回零值 general 分析结果。
func (a *QueryAnalyzer) Analyze(query string) QueryAnalysis {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return QueryAnalysis{Type: QueryGeneral}
	}

	lower := strings.ToLower(trimmed)
	words := strings.Fields(lower)

	analysis := QueryAnalysis{
		WordCount:      len(words),
		HasQuestions:   strings.Contains(trimmed, "?"),
		HasSpecifics:   containsAnyWord(words, interrogativeWords),
		HasComparisons: containsAnyWord(words, comparisonWords),
		HasTemporal:    containsAnyWord(words, temporalWords),
		HasEntities:    entityRe.MatchString(trimmed),
	}

	// 类型判定优先级：specific > comparative > temporal > general
	switch {
	case analysis.HasSpecifics:
		analysis.Type = QuerySpecific
	case analysis.HasComparisons:
		analysis.Type = QueryComparative
	case analysis.HasTemporal:
		analysis.Type = QueryTemporal
	default:
		analysis.Type = QueryGeneral
	}

	analysis.Complexity = a.complexity(analysis)
	a.logger.Debug("查询分析完成",
		zap.String("type", string(analysis.Type)),
		zap.Float64("complexity", analysis.Complexity),
		zap.Int("word_count", analysis.WordCount))
	return analysis
}

func (a *QueryAnalyzer) complexity(q QueryAnalysis) float64 {
	score := complexityLengthWeight * (float64(q.WordCount) / complexityLengthNorm)
	if q.HasQuestions {
		score += complexityQuestionWeight
	}
	if q.HasSpecifics {
		score += complexitySpecificWeight
	}
	if q.HasComparisons {
		score += complexityComparisonWeight
	}
	if q.HasTemporal {
		score += complexityTemporalWeight
	}
	if q.HasEntities {
		score += complexityEntityWeight
	}
	return clamp(score, 0, 1)
}

func containsAnyWord(words []string, vocab []string) bool {
	for _, w := range words {
		w = strings.Trim(w, ",.;:!?\"'()")
		for _, v := range vocab {
			if w == v {
				return true
			}
		}
	}
	return false
}
