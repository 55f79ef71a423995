package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// LocalProvider 确定性本地嵌入提供者。
// 按词哈希到固定维度并做 L2 归一化，相同文本总是产生相同向量，
// 词面重叠的文本向量相近。仅用于测试和离线开发，无语义理解能力。
type LocalProvider struct {
	dimensions int
}

// NewLocalProvider 创建本地嵌入提供者
func NewLocalProvider(dimensions int) *LocalProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &LocalProvider{dimensions: dimensions}
}

// Embed 生成确定性嵌入向量
func (p *LocalProvider) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, p.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := sha256.Sum256([]byte(word))
		idx := int(binary.BigEndian.Uint32(h[:4])) % p.dimensions
		if idx < 0 {
			idx += p.dimensions
		}
		sign := 1.0
		if h[4]%2 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Dimensions 返回向量维度
func (p *LocalProvider) Dimensions() int {
	return p.dimensions
}
