// Package embedding 提供文本嵌入能力：OpenAI 兼容的 HTTP 提供者
// 和用于测试的确定性本地提供者。
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidgendel/chatbot-retrieval/config"
	"github.com/davidgendel/chatbot-retrieval/internal/metrics"
)

// Provider 文本嵌入提供者
type Provider interface {
	// Embed 生成文本的嵌入向量
	Embed(ctx context.Context, text string) ([]float64, error)
	// Dimensions 返回向量维度
	Dimensions() int
}

// HTTPProvider OpenAI 兼容的嵌入服务客户端，带请求限速。
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewHTTPProvider 创建 HTTP 嵌入提供者。collector 可为 nil。
func NewHTTPProvider(cfg config.EmbeddingConfig, collector *metrics.Collector, logger *zap.Logger) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base_url is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = int(rps) * 2
	}
	return &HTTPProvider{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		collector:  collector,
		logger:     logger.With(zap.String("component", "embedding_provider")),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed 调用嵌入服务生成向量，受限速器节流
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	vec, err := p.embed(ctx, text)
	if p.collector != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.collector.RecordEmbedding(status, time.Since(start))
	}
	return vec, err
}

func (p *HTTPProvider) embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: p.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned empty result")
	}

	vec := parsed.Data[0].Embedding
	if len(vec) != p.dimensions {
		p.logger.Warn("嵌入维度与配置不一致",
			zap.Int("expected", p.dimensions),
			zap.Int("actual", len(vec)))
	}
	return vec, nil
}

// Dimensions 返回配置的向量维度
func (p *HTTPProvider) Dimensions() int {
	return p.dimensions
}
