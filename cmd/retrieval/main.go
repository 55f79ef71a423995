// =============================================================================
// 检索服务主入口
// =============================================================================
// 文档摄取与检索的命令行入口，包含 Prometheus 指标端点
//
// 使用方法:
//
//	retrieval index --dir ./docs                  # 摄取目录下全部文档
//	retrieval query "how does indexing work"      # 执行检索
//	retrieval version                             # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/davidgendel/chatbot-retrieval/config"
	"github.com/davidgendel/chatbot-retrieval/embedding"
	"github.com/davidgendel/chatbot-retrieval/ingestion"
	"github.com/davidgendel/chatbot-retrieval/internal/cache"
	"github.com/davidgendel/chatbot-retrieval/internal/metrics"
	"github.com/davidgendel/chatbot-retrieval/internal/telemetry"
	"github.com/davidgendel/chatbot-retrieval/retrieval"
	"github.com/davidgendel/chatbot-retrieval/storage"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "index":
		runIndex(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runtimeEnv 一次命令运行所需的全部组件
type runtimeEnv struct {
	cfg      *config.Config
	logger   *zap.Logger
	engine   *retrieval.Engine
	embedder embedding.Provider
	pipeline *ingestion.Pipeline
	redis    *cache.Manager
	otel     *telemetry.Providers
}

// setup 加载配置并组装引擎与摄取管线
func setup(configPath string, local bool) (*runtimeEnv, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := initLogger(cfg.Log)
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	collector := metrics.NewCollector("retrieval", logger)

	var embedder embedding.Provider
	if local {
		embedder = embedding.NewLocalProvider(cfg.Embedding.Dimensions)
	} else {
		embedder, err = embedding.NewHTTPProvider(cfg.Embedding, collector, logger)
		if err != nil {
			return nil, fmt.Errorf("create embedding provider: %w", err)
		}
	}

	// Redis 可用时启用两级相似度缓存，不可用时回退为进程内缓存
	var simCache retrieval.SimilarityCache
	var redisManager *cache.Manager
	if cfg.Redis.Enabled {
		redisManager, err = cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Namespace:    cfg.Redis.Namespace,
			DefaultTTL:   cfg.Redis.TTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, falling back to in-process cache", zap.Error(err))
		} else {
			inProcess := retrieval.NewCacheService(retrieval.CacheConfig{
				Enabled:       true,
				SimilarityTTL: cfg.Cache.SimilarityTTL,
				ContextTTL:    cfg.Cache.ContextTTL,
			}, logger)
			simCache = retrieval.NewTieredSimilarityCache(inProcess, redisManager, cfg.Redis.TTL, logger)
		}
	}

	vectors := retrieval.NewInMemoryVectorStore(logger)
	engine, err := retrieval.NewEngineFromConfig(cfg, retrieval.EngineDeps{
		Querier:   vectors,
		Cache:     simCache,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create retrieval engine: %w", err)
	}

	store, err := storage.Open(cfg.Database, logger)
	if err != nil {
		logger.Warn("chunk store not available, persistence disabled", zap.Error(err))
		store = nil
	}

	counter := retrieval.NewTokenCounter(cfg.Chunking.TokenEncoding, logger)
	pipeline, err := ingestion.NewPipeline(ingestion.DefaultConfig(),
		engine.Chunker(), embedder, vectors, engine.Scorer(), store, counter, collector, logger)
	if err != nil {
		return nil, fmt.Errorf("create ingestion pipeline: %w", err)
	}

	if cfg.Server.MetricsPort > 0 {
		go serveMetrics(cfg.Server.MetricsPort, logger)
	}

	return &runtimeEnv{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		embedder: embedder,
		pipeline: pipeline,
		redis:    redisManager,
		otel:     otelProviders,
	}, nil
}

func (e *runtimeEnv) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn("redis shutdown failed", zap.Error(err))
		}
	}
	if err := e.otel.Shutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// =============================================================================
// 📥 index 命令
// =============================================================================

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dir := fs.String("dir", "", "Directory of documents to ingest")
	file := fs.String("file", "", "Single document to ingest")
	local := fs.Bool("local-embeddings", false, "Use deterministic local embeddings")
	fs.Parse(args)

	if *dir == "" && *file == "" {
		fmt.Fprintln(os.Stderr, "index requires --dir or --file")
		os.Exit(1)
	}

	env, err := setup(*configPath, *local)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		os.Exit(1)
	}
	defer env.shutdown()

	var paths []string
	if *file != "" {
		paths = append(paths, *file)
	}
	if *dir != "" {
		entries, err := os.ReadDir(*dir)
		if err != nil {
			env.logger.Fatal("read document directory failed", zap.Error(err))
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			paths = append(paths, filepath.Join(*dir, entry.Name()))
		}
	}

	ctx := context.Background()
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			env.logger.Error("read document failed", zap.String("path", path), zap.Error(err))
			continue
		}
		documentID := documentIDFromPath(path)
		result, err := env.pipeline.IngestDocument(ctx, documentID, string(content))
		if err != nil {
			env.logger.Error("ingest document failed", zap.String("path", path), zap.Error(err))
			continue
		}
		fmt.Printf("indexed %s: %d chunks, %d tokens\n", documentID, result.Chunks, result.Tokens)
	}
}

// documentIDFromPath 由文件名生成文档 ID
func documentIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// =============================================================================
// 🔍 query 命令
// =============================================================================

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dir := fs.String("dir", "", "Directory of documents to ingest before querying")
	topK := fs.Int("top-k", 0, "Number of results (0 uses config default)")
	local := fs.Bool("local-embeddings", false, "Use deterministic local embeddings")
	showContext := fs.Bool("show-context", false, "Print the assembled prompt context")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "query requires the query text as an argument")
		os.Exit(1)
	}
	queryText := strings.Join(fs.Args(), " ")

	env, err := setup(*configPath, *local)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		os.Exit(1)
	}
	defer env.shutdown()

	ctx := context.Background()
	if *dir != "" {
		runIndexDir(ctx, env, *dir)
	}

	vec, err := env.embedder.Embed(ctx, queryText)
	if err != nil {
		env.logger.Fatal("embed query failed", zap.Error(err))
	}

	results, err := env.engine.Retrieve(ctx, vec, queryText, *topK, nil)
	if err != nil {
		env.logger.Fatal("retrieval failed", zap.Error(err))
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return
	}
	for i, c := range results {
		heading := c.Heading
		if heading == "" {
			heading = "(no heading)"
		}
		fmt.Printf("%d. [%.3f] %s — %s\n", i+1, c.Similarity, c.ChunkRef, heading)
		fmt.Printf("   %s\n", snippet(c.Content, 160))
	}
	if *showContext {
		fmt.Println("\n--- context ---")
		fmt.Println(env.engine.BuildContext(queryText, results))
	}
}

func runIndexDir(ctx context.Context, env *runtimeEnv, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		env.logger.Fatal("read document directory failed", zap.Error(err))
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			env.logger.Error("read document failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, err := env.pipeline.IngestDocument(ctx, documentIDFromPath(path), string(content)); err != nil {
			env.logger.Error("ingest document failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func snippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// =============================================================================
// 📊 指标端点
// =============================================================================

func serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("retrieval %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`retrieval - multi-stage RAG retrieval engine

Usage:
  retrieval <command> [options]

Commands:
  index     Ingest documents into the index
  query     Run a retrieval query
  version   Show version information
  help      Show this help message

Options for 'index':
  --config <path>       Path to configuration file (YAML)
  --dir <path>          Directory of documents to ingest
  --file <path>         Single document to ingest
  --local-embeddings    Use deterministic local embeddings

Options for 'query':
  --config <path>       Path to configuration file (YAML)
  --dir <path>          Ingest this directory before querying
  --top-k <n>           Number of results to return
  --show-context        Print the assembled prompt context
  --local-embeddings    Use deterministic local embeddings

Examples:
  retrieval index --dir ./docs --local-embeddings
  retrieval query --dir ./docs --local-embeddings "how does chunking work"
  retrieval query --config /etc/retrieval/config.yaml "compare indexing strategies"`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// 构建配置
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	// 构建 logger
	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
