// =============================================================================
// 📦 检索服务配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RETRIEVAL").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是检索服务的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Retrieval 检索引擎配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Chunking 分块配置
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Embedding 嵌入服务配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Cache 进程内缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 共享缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 块存储数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RetrievalConfig 检索引擎配置
type RetrievalConfig struct {
	// 默认返回结果数
	TargetResults int `yaml:"target_results" env:"TARGET_RESULTS"`
	// 混合检索配置
	HybridSearch HybridSearchConfig `yaml:"hybrid_search" env:"HYBRID_SEARCH"`
	// 多阶段检索配置
	MultiStage MultiStageConfig `yaml:"multi_stage" env:"MULTI_STAGE"`
	// 阈值配置，按查询复杂度分档
	Thresholds ThresholdsConfig `yaml:"thresholds" env:"THRESHOLDS"`
	// 召回限制配置
	Limits LimitsConfig `yaml:"limits" env:"LIMITS"`
}

// HybridSearchConfig 混合检索配置
type HybridSearchConfig struct {
	// 是否启用词法通道
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 稠密相似度权重
	SemanticWeight float64 `yaml:"semantic_weight" env:"SEMANTIC_WEIGHT"`
	// 词法分数权重
	KeywordWeight float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	// BM25 归一化除数
	BM25Divisor float64 `yaml:"bm25_divisor" env:"BM25_DIVISOR"`
	// 稠密候选池相对 topK 的放大倍数
	PoolMultiplier int `yaml:"pool_multiplier" env:"POOL_MULTIPLIER"`
	// 稠密候选池上限
	PoolCap int `yaml:"pool_cap" env:"POOL_CAP"`
}

// MultiStageConfig 多阶段检索配置
type MultiStageConfig struct {
	// 是否启用多阶段编排
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 多阶段失败时是否回退单阶段
	FallbackToSingleStage bool `yaml:"fallback_to_single_stage" env:"FALLBACK_TO_SINGLE_STAGE"`
}

// StageThresholds 单个复杂度档位的阈值对
type StageThresholds struct {
	// 初检阈值
	Stage1 float64 `yaml:"stage1" env:"STAGE1"`
	// 最终筛选基准阈值
	Final float64 `yaml:"final" env:"FINAL"`
}

// ThresholdsConfig 按复杂度分档的阈值配置
type ThresholdsConfig struct {
	Simple  StageThresholds `yaml:"simple" env:"SIMPLE"`
	Medium  StageThresholds `yaml:"medium" env:"MEDIUM"`
	Complex StageThresholds `yaml:"complex" env:"COMPLEX"`
}

// ExpansionMultiplierConfig 初检召回扩展倍数
type ExpansionMultiplierConfig struct {
	Simple  int `yaml:"simple" env:"SIMPLE"`
	Medium  int `yaml:"medium" env:"MEDIUM"`
	Complex int `yaml:"complex" env:"COMPLEX"`
}

// LimitsConfig 召回限制配置
type LimitsConfig struct {
	ExpansionMultiplier ExpansionMultiplierConfig `yaml:"expansion_multiplier" env:"EXPANSION_MULTIPLIER"`
}

// ChunkingConfig 分块配置，尺寸单位为字符
type ChunkingConfig struct {
	// 目标块大小
	TargetSize int `yaml:"target_size" env:"TARGET_SIZE"`
	// 硬上限
	MaxSize int `yaml:"max_size" env:"MAX_SIZE"`
	// 最小块大小
	MinSize int `yaml:"min_size" env:"MIN_SIZE"`
	// 相邻块重叠
	OverlapSize int `yaml:"overlap_size" env:"OVERLAP_SIZE"`
	// 句子结束符
	SentenceEnders string `yaml:"sentence_enders" env:"SENTENCE_ENDERS"`
	// token 计数编码表名
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// EmbeddingConfig 嵌入服务配置
type EmbeddingConfig struct {
	// 基础 URL（OpenAI 兼容）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 向量维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// CacheConfig 进程内缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 检索结果缓存 TTL
	SimilarityTTL time.Duration `yaml:"similarity_ttl" env:"SIMILARITY_TTL"`
	// 上下文缓存 TTL
	ContextTTL time.Duration `yaml:"context_ttl" env:"CONTEXT_TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用共享缓存层
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀，用于键空间隔离
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 共享缓存条目 TTL
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RETRIEVAL",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Retrieval.TargetResults <= 0 {
		errs = append(errs, "retrieval.target_results must be positive")
	}
	if c.Retrieval.HybridSearch.SemanticWeight < 0 || c.Retrieval.HybridSearch.KeywordWeight < 0 {
		errs = append(errs, "hybrid search weights must be non-negative")
	}
	if c.Retrieval.HybridSearch.SemanticWeight+c.Retrieval.HybridSearch.KeywordWeight == 0 {
		errs = append(errs, "hybrid search weights must not both be zero")
	}
	if c.Retrieval.HybridSearch.BM25Divisor <= 0 {
		errs = append(errs, "hybrid_search.bm25_divisor must be positive")
	}
	if c.Retrieval.HybridSearch.PoolMultiplier < 0 || c.Retrieval.HybridSearch.PoolCap < 0 {
		errs = append(errs, "hybrid_search pool parameters must be non-negative")
	}
	for name, t := range map[string]StageThresholds{
		"simple":  c.Retrieval.Thresholds.Simple,
		"medium":  c.Retrieval.Thresholds.Medium,
		"complex": c.Retrieval.Thresholds.Complex,
	} {
		if t.Stage1 < 0 || t.Stage1 > 1 || t.Final < 0 || t.Final > 1 {
			errs = append(errs, fmt.Sprintf("thresholds.%s values must be in [0,1]", name))
		}
	}
	m := c.Retrieval.Limits.ExpansionMultiplier
	if m.Simple < 1 || m.Medium < 1 || m.Complex < 1 {
		errs = append(errs, "limits.expansion_multiplier values must be >= 1")
	}

	if c.Chunking.TargetSize <= 0 || c.Chunking.MaxSize < c.Chunking.TargetSize {
		errs = append(errs, "chunking sizes invalid: require 0 < target_size <= max_size")
	}
	if c.Chunking.MinSize >= c.Chunking.TargetSize {
		errs = append(errs, "chunking.min_size must be less than target_size")
	}
	if c.Chunking.OverlapSize >= c.Chunking.TargetSize {
		errs = append(errs, "chunking.overlap_size must be less than target_size")
	}

	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding.dimensions must be positive")
	}

	if c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			errs = append(errs, "invalid log level: "+c.Log.Level)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
