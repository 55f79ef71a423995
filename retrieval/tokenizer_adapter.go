package retrieval

import (
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter 统计文本的 token 数，供分块元数据和上下文预算使用
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter 基于 tiktoken 编码表的精确计数器。
// 编码表加载失败时构造函数回退到估算计数器。
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	fallback TokenCounter
	logger   *zap.Logger
}

// NewTokenCounter 创建 token 计数器。encodingName 为空使用 cl100k_base。
// tiktoken 初始化失败时返回估算计数器而不是错误。
func NewTokenCounter(encodingName string, logger *zap.Logger) TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.Warn("tiktoken 编码表加载失败，使用估算计数",
			zap.String("encoding", encodingName),
			zap.Error(err))
		return EstimateCounter{}
	}
	return &TiktokenCounter{
		encoding: enc,
		fallback: EstimateCounter{},
		logger:   logger.With(zap.String("component", "token_counter")),
	}
}

// CountTokens 返回精确 token 数
func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateCounter 无编码表时的估算计数器：
// 英文按 4 字符一个 token，CJK 按每字一个 token。
type EstimateCounter struct{}

// CountTokens 估算 token 数
func (EstimateCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk, ascii := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			ascii++
		}
	}
	n := cjk + (ascii+3)/4
	if n == 0 {
		n = 1
	}
	return n
}
