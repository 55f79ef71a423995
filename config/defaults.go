// =============================================================================
// 📦 检索服务默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Chunking:  DefaultChunkingConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsPort:     9091,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRetrievalConfig 返回默认检索引擎配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TargetResults: 5,
		HybridSearch: HybridSearchConfig{
			Enabled:        true,
			SemanticWeight: 0.7,
			KeywordWeight:  0.3,
			BM25Divisor:    10.0,
			PoolMultiplier: 3,
			PoolCap:        50,
		},
		MultiStage: MultiStageConfig{
			Enabled:               true,
			FallbackToSingleStage: true,
		},
		Thresholds: ThresholdsConfig{
			Simple:  StageThresholds{Stage1: 0.4, Final: 0.4},
			Medium:  StageThresholds{Stage1: 0.35, Final: 0.4},
			Complex: StageThresholds{Stage1: 0.25, Final: 0.3},
		},
		Limits: LimitsConfig{
			ExpansionMultiplier: ExpansionMultiplierConfig{
				Simple:  2,
				Medium:  3,
				Complex: 4,
			},
		},
	}
}

// DefaultChunkingConfig 返回默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		TargetSize:     1000,
		MaxSize:        1500,
		MinSize:        100,
		OverlapSize:    100,
		SentenceEnders: ".!?\n",
		TokenEncoding:  "cl100k_base",
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:        "http://localhost:8000/v1",
		APIKey:         "",
		Model:          "text-embedding-3-small",
		Dimensions:     1536,
		Timeout:        30 * time.Second,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
	}
}

// DefaultCacheConfig 返回默认进程内缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       true,
		SimilarityTTL: 5 * time.Minute,
		ContextTTL:    30 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		Namespace:    "retrieval",
		TTL:          5 * time.Minute,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "retrieval",
		Password:        "",
		Name:            "retrieval.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chatbot-retrieval",
		SampleRate:   1.0,
	}
}
