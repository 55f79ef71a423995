package retrieval

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// BM25 标准参数
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// LexicalScorer 基于 BM25 的词法打分器。
// 语料统计（文档数、词频、平均长度）增量维护，线程安全。
type LexicalScorer struct {
	mu          sync.RWMutex
	docFreq     map[string]int            // 词 -> 含该词的文档数
	docTerms    map[string]map[string]int // 文档 -> 词 -> 词频
	docLengths  map[string]int            // 文档 -> 词数
	totalLength int
	logger      *zap.Logger
}

// NewLexicalScorer 创建词法打分器
func NewLexicalScorer(logger *zap.Logger) *LexicalScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LexicalScorer{
		docFreq:    make(map[string]int),
		docTerms:   make(map[string]map[string]int),
		docLengths: make(map[string]int),
		logger:     logger.With(zap.String("component", "lexical_scorer")),
	}
}

// tokenize 小写化、按非字母数字切分
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// AddDocument 登记文档。同一 id 重复登记为幂等空操作。
func (s *LexicalScorer) AddDocument(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(id, content)
}

func (s *LexicalScorer) addLocked(id, content string) {
	if _, exists := s.docTerms[id]; exists {
		return
	}
	terms := tokenize(content)
	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}
	for t := range freq {
		s.docFreq[t]++
	}
	s.docTerms[id] = freq
	s.docLengths[id] = len(terms)
	s.totalLength += len(terms)
}

// RemoveDocument 注销文档并回退语料统计。未知 id 为空操作。
func (s *LexicalScorer) RemoveDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	freq, exists := s.docTerms[id]
	if !exists {
		return
	}
	for t := range freq {
		s.docFreq[t]--
		if s.docFreq[t] <= 0 {
			delete(s.docFreq, t)
		}
	}
	s.totalLength -= s.docLengths[id]
	delete(s.docTerms, id)
	delete(s.docLengths, id)
}

// DocumentCount 当前语料文档数
func (s *LexicalScorer) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docTerms)
}

// Score 计算查询对文档的 BM25 分数，下限 0。
// 未登记的文档读时自动登记，保证打分总有统计可用。
func (s *LexicalScorer) Score(query, docID, docContent string) (float64, error) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return 0, ErrEmptyQueryTerms
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(docID, docContent)
	n := float64(len(s.docTerms))
	avgLen := float64(s.totalLength) / n
	freq := s.docTerms[docID]
	docLen := float64(s.docLengths[docID])

	score := 0.0
	for _, t := range queryTerms {
		tf := float64(freq[t])
		if tf == 0 {
			continue
		}
		df := float64(s.docFreq[t])
		idf := math.Log((n - df + 0.5) / (df + 0.5))
		norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
		score += idf * norm
	}

	if score < 0 {
		score = 0
	}
	return score, nil
}
