package retrieval

import (
	"strings"
	"unicode"
)

// SentenceTokenizer 句子切分接口。分块器优先使用语言学切分，
// 切分失败或产出为空时回退到字符级切分。
type SentenceTokenizer interface {
	Sentences(text string) []string
}

// 常见缩写，后面的句点不构成句子边界
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
	"sr": {}, "jr": {}, "st": {}, "vs": {}, "etc": {},
	"e.g": {}, "i.e": {}, "inc": {}, "ltd": {}, "co": {},
	"fig": {}, "vol": {}, "no": {}, "approx": {},
}

// LinguisticTokenizer 基于规则的句子切分器。
// 处理缩写、小数点和省略号，不依赖外部模型。
type LinguisticTokenizer struct {
	enders string
}

// NewLinguisticTokenizer 创建规则句子切分器。
// enders 为句子结束符集合，空串使用默认 ".!?\n"。
func NewLinguisticTokenizer(enders string) *LinguisticTokenizer {
	if enders == "" {
		enders = ".!?\n"
	}
	return &LinguisticTokenizer{enders: enders}
}

// Sentences 把文本切分为句子，保留结束符，丢弃空白句。
func (t *LinguisticTokenizer) Sentences(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !strings.ContainsRune(t.enders, r) {
			continue
		}
		if r == '.' && !t.isBoundary(runes, i) {
			continue
		}
		// 吞掉连续的结束符（省略号、!? 组合）
		for i+1 < len(runes) && strings.ContainsRune(t.enders, runes[i+1]) {
			i++
		}
		s := strings.TrimSpace(string(runes[start : i+1]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if start < len(runes) {
		s := strings.TrimSpace(string(runes[start:]))
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// isBoundary 判断位置 i 的句点是否为句子边界
func (t *LinguisticTokenizer) isBoundary(runes []rune, i int) bool {
	// 小数点：两侧都是数字
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}
	// 紧跟小写字母，多为缩写内部（e.g. 之类）
	if i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return false
	}
	// 句点前的词是已知缩写
	j := i - 1
	for j >= 0 && (unicode.IsLetter(runes[j]) || runes[j] == '.') {
		j--
	}
	word := strings.ToLower(strings.TrimSuffix(string(runes[j+1:i]), "."))
	if _, ok := abbreviations[word]; ok {
		return false
	}
	return true
}

// 以这些词开头的句子依赖前文，抽取重叠时保持与前句相连
var continuationWords = map[string]struct{}{
	"however": {}, "therefore": {}, "thus": {}, "moreover": {},
	"furthermore": {}, "additionally": {}, "also": {}, "this": {},
	"these": {}, "that": {}, "those": {}, "it": {}, "they": {},
	"consequently": {}, "similarly": {}, "instead": {}, "meanwhile": {},
}

// needsAntecedent 判断句子是否以承接词开头
func needsAntecedent(sentence string) bool {
	fields := strings.Fields(sentence)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.Trim(fields[0], ",.;:"))
	_, ok := continuationWords[first]
	return ok
}
