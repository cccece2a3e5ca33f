package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ServerConfig 定义了 RAG HTTP 服务的配置。
type ServerConfig struct {
	Address         string `yaml:"address"`         // 监听地址 (例如: ":8080")
	StaticDir       string `yaml:"staticDir"`       // 静态页面目录，为空时不提供页面
	UploadLimitMB   int    `yaml:"uploadLimitMB"`   // 单次上传的最大体积 (MB)
	ShutdownTimeout string `yaml:"shutdownTimeout"` // 优雅关闭的等待时间 (例如: "10s")
}

// IndexConfig 定义了向量索引的存储位置与后端。
type IndexConfig struct {
	Backend    string `yaml:"backend"`    // 后端类型: "sqlite", "memory", "milvus"
	Path       string `yaml:"path"`       // 本地索引目录 (sqlite 后端)
	Collection string `yaml:"collection"` // Milvus 集合名称 (milvus 后端)
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// CacheConfig 定义了 Embedding 缓存的配置。
type CacheConfig struct {
	Backend  string `yaml:"backend"`  // 缓存后端: "" (关闭), "memory", "redis"
	Capacity int    `yaml:"capacity"` // 内存缓存的最大条目数
	TTL      string `yaml:"ttl"`      // 条目存活时间，为空表示永不过期
}

// EmbeddingConfig 包含了 Embedding 提供商的配置。
type EmbeddingConfig struct {
	Provider       string               `yaml:"provider"`    // 提供商: "ollama", "openai", "gemini", "huggingface", "hash"
	Model          string               `yaml:"model"`       // 模型名称，写入索引清单，查询时必须一致
	BaseURL        string               `yaml:"baseURL"`     // 服务基础 URL (可选)
	APIKey         string               `yaml:"apiKey"`      // API 密钥 (可选)
	Dimensions     int                  `yaml:"dimensions"`  // 向量维度 (仅 hash 提供商使用)
	Timeout        string               `yaml:"timeout"`     // 单次调用超时 (例如: "60s")
	BatchSize      int                  `yaml:"batchSize"`   // 每批嵌入的文本数量
	Concurrency    int                  `yaml:"concurrency"` // 并发批次数
	Cache          CacheConfig          `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// LLMConfig 包含了大语言模型提供商的配置。
type LLMConfig struct {
	Provider       string               `yaml:"provider"`       // 提供商: "ollama", "openai", "gemini", "huggingface"
	Model          string               `yaml:"model"`          // 模型名称
	BaseURL        string               `yaml:"baseURL"`        // 服务基础 URL (可选)
	APIKey         string               `yaml:"apiKey"`         // API 密钥 (可选)
	Timeout        string               `yaml:"timeout"`        // 单次生成超时 (例如: "60s")
	PromptTemplate string               `yaml:"promptTemplate"` // 提示词模板，包含 {context} 与 {question} 占位符，为空时使用内置模板
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// ChunkingConfig 定义了文本切分参数。
type ChunkingConfig struct {
	Strategy string `yaml:"strategy"` // 切分策略: "recursive" (字符) 或 "token"
	Size     int    `yaml:"size"`     // 每个分块的最大长度
	Overlap  int    `yaml:"overlap"`  // 相邻分块的重叠长度
}

// RetrievalConfig 定义了检索参数。
type RetrievalConfig struct {
	TopK    int `yaml:"topK"`    // 默认返回的分块数量
	MaxTopK int `yaml:"maxTopK"` // 请求可以指定的最大分块数量
}

// IngestConfig 定义了文档导入的配置。
type IngestConfig struct {
	DataDir string `yaml:"dataDir"` // 默认文档目录
	Pattern string `yaml:"pattern"` // 默认文档匹配模式 (例如: "handbook-*.pdf")
	OnError string `yaml:"onError"` // 单个文档加载失败时的策略: "abort" 或 "skip"
	// AllowRemote 允许通过 HTTP 接口导入 http(s):// 与 minio:// 来源。
	// 关闭时 HTTP 请求只能引用 DataDir 下的相对路径。
	AllowRemote bool `yaml:"allowRemote"`
}

// MilvusConfig 定义了 Milvus 数据库的连接与索引参数。
type MilvusConfig struct {
	Address        string `yaml:"address"`        // Milvus 服务地址
	M              int    `yaml:"m"`              // HNSW 参数 M
	EfConstruction int    `yaml:"efConstruction"` // HNSW 构建参数
	Ef             int    `yaml:"ef"`             // HNSW 搜索参数
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务地址，为空时不启用 minio:// 文档源
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Secure    bool   `yaml:"secure"`    // 是否使用 HTTPS
}

// DatabaseConfigs 包含所有外部存储的配置。
type DatabaseConfigs struct {
	Milvus MilvusConfig `yaml:"milvus"`
	Redis  RedisConfig  `yaml:"redis"`
	MinIO  MinIOConfig  `yaml:"minio"`
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Algorithm      string               `yaml:"algorithm"` // 支持: "fixedWindow", "slidingLog", "slidingCounter", "leakyBucket", "tokenBucket"
	FixedWindow    WindowConfig         `yaml:"fixedWindow"`
	SlidingLog     WindowConfig         `yaml:"slidingLog"`
	SlidingCounter SlidingCounterConfig `yaml:"slidingCounter"`
	LeakyBucket    BucketConfig         `yaml:"leakyBucket"`
	TokenBucket    BucketConfig         `yaml:"tokenBucket"`
}

// WindowConfig 定义了窗口类限流算法的配置。
type WindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"` // 例如: "1m", "30s"
}

// SlidingCounterConfig 定义了滑动窗口计数器算法的配置。
type SlidingCounterConfig struct {
	Limit      int    `yaml:"limit"`
	Window     string `yaml:"window"`
	NumBuckets int    `yaml:"numBuckets"`
}

// BucketConfig 定义了桶类限流算法的配置。
type BucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// FrontendConfig 定义了前端代理服务的配置 (拆分部署时使用)。
type FrontendConfig struct {
	Address       string `yaml:"address"`       // 监听地址
	RAGServiceURL string `yaml:"ragServiceURL"` // RAG 服务地址
	StaticDir     string `yaml:"staticDir"`     // 静态页面目录
	Timeout       string `yaml:"timeout"`       // 代理请求超时
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`
	Logger     LoggerConfig     `yaml:"logger"`
	Server     ServerConfig     `yaml:"server"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Databases  DatabaseConfigs  `yaml:"databases"`
	Middleware MiddlewareConfig `yaml:"middleware"`
	Frontend   FrontendConfig   `yaml:"frontend"`
}

// Default 返回一份完整的默认配置。
func Default() *AppConfig {
	modelBreaker := CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          "30s",
	}
	return &AppConfig{
		App:    AppInfo{Name: "ragdesk", Version: "dev", Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Server: ServerConfig{Address: ":8080", UploadLimitMB: 32, ShutdownTimeout: "10s"},
		Index:  IndexConfig{Backend: "sqlite", Path: "./db", Collection: "ragdesk_chunks"},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "all-minilm",
			BaseURL:        "http://localhost:11434",
			Dimensions:     384,
			Timeout:        "60s",
			BatchSize:      64,
			Concurrency:    2,
			Cache:          CacheConfig{Capacity: 10000},
			CircuitBreaker: modelBreaker,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "phi3:mini",
			BaseURL:        "http://localhost:11434",
			Timeout:        "60s",
			CircuitBreaker: modelBreaker,
		},
		Chunking:  ChunkingConfig{Strategy: "recursive", Size: 500, Overlap: 50},
		Retrieval: RetrievalConfig{TopK: 4, MaxTopK: 50},
		Ingest:    IngestConfig{DataDir: "./data", Pattern: "handbook-*.pdf", OnError: "abort"},
		Databases: DatabaseConfigs{
			Milvus: MilvusConfig{Address: "localhost:19530", M: 16, EfConstruction: 200, Ef: 64},
			Redis:  RedisConfig{Address: "localhost:6379"},
		},
		Middleware: MiddlewareConfig{
			RateLimiter: RateLimiterConfig{
				Algorithm:   "tokenBucket",
				TokenBucket: BucketConfig{Rate: 20, Capacity: 40},
			},
			CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: "30s"},
		},
		Frontend: FrontendConfig{
			Address:       ":8000",
			RAGServiceURL: "http://localhost:8080",
			Timeout:       "60s",
		},
	}
}

// LoadConfig 函数加载配置：默认值 → YAML 文件 → 环境变量，最后进行校验。
//
// 参数:
//
//	path: YAML 配置文件的路径。文件不存在时只使用默认值与环境变量。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取、解析或校验失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	cfg := Default()

	yamlFile, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 没有配置文件时使用默认值。
	case err != nil:
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	default:
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 使用环境变量覆盖配置项。lookup 通常为 os.LookupEnv。
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("环境变量 %s 不是整数: %q", key, v)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &c.Logger.Level)
	str("HTTP_ADDR", &c.Server.Address)
	str("STATIC_DIR", &c.Server.StaticDir)
	str("RAG_INDEX_BACKEND", &c.Index.Backend)
	str("RAG_INDEX_PATH", &c.Index.Path)
	str("RAG_COLLECTION", &c.Index.Collection)
	str("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("EMBEDDING_MODEL", &c.Embedding.Model)
	str("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	str("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	str("EMBEDDING_CACHE", &c.Embedding.Cache.Backend)
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	str("OLLAMA_BASE_URL", &c.LLM.BaseURL)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_TIMEOUT", &c.LLM.Timeout)
	str("CHUNK_STRATEGY", &c.Chunking.Strategy)
	str("INGEST_ON_ERROR", &c.Ingest.OnError)
	str("DATA_DIR", &c.Ingest.DataDir)
	str("DOCUMENT_PATTERN", &c.Ingest.Pattern)
	str("RAG_SERVICE_URL", &c.Frontend.RAGServiceURL)
	str("FRONTEND_ADDR", &c.Frontend.Address)
	str("MILVUS_ADDRESS", &c.Databases.Milvus.Address)
	str("REDIS_ADDRESS", &c.Databases.Redis.Address)
	str("REDIS_PASSWORD", &c.Databases.Redis.Password)
	str("MINIO_ENDPOINT", &c.Databases.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Databases.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &c.Databases.MinIO.SecretKey)

	if v, ok := lookup("INGEST_ALLOW_REMOTE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("环境变量 INGEST_ALLOW_REMOTE 不是布尔值: %q", v)
		}
		c.Ingest.AllowRemote = b
	}

	for key, dst := range map[string]*int{
		"CHUNK_SIZE":           &c.Chunking.Size,
		"CHUNK_OVERLAP":        &c.Chunking.Overlap,
		"TOP_K":                &c.Retrieval.TopK,
		"EMBEDDING_DIMENSIONS": &c.Embedding.Dimensions,
		"EMBEDDING_BATCH_SIZE": &c.Embedding.BatchSize,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate 校验配置之间的约束。
func (c *AppConfig) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Chunking.Size <= 0 {
		fail("chunking.size 必须大于 0，当前为 %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		fail("chunking.overlap 必须满足 0 <= overlap < size，当前为 %d", c.Chunking.Overlap)
	}
	if !oneOf(c.Chunking.Strategy, "recursive", "token") {
		fail("未知的 chunking.strategy: %q", c.Chunking.Strategy)
	}
	if c.Retrieval.TopK < 1 {
		fail("retrieval.topK 必须大于等于 1，当前为 %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxTopK < c.Retrieval.TopK {
		fail("retrieval.maxTopK (%d) 不能小于 topK (%d)", c.Retrieval.MaxTopK, c.Retrieval.TopK)
	}
	if !oneOf(c.Index.Backend, "sqlite", "memory", "milvus") {
		fail("未知的 index.backend: %q", c.Index.Backend)
	}
	if c.Index.Backend == "sqlite" && c.Index.Path == "" {
		fail("index.path 不能为空")
	}
	if !oneOf(c.Embedding.Provider, "ollama", "openai", "gemini", "huggingface", "hash") {
		fail("未知的 embedding.provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		fail("embedding.model 不能为空")
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.Concurrency < 1 {
		fail("embedding.batchSize 与 embedding.concurrency 必须大于 0")
	}
	if !oneOf(c.Embedding.Cache.Backend, "", "memory", "redis") {
		fail("未知的 embedding.cache.backend: %q", c.Embedding.Cache.Backend)
	}
	if !oneOf(c.LLM.Provider, "ollama", "openai", "gemini", "huggingface") {
		fail("未知的 llm.provider: %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		fail("llm.model 不能为空")
	}
	if t := c.LLM.PromptTemplate; t != "" && (!strings.Contains(t, "{context}") || !strings.Contains(t, "{question}")) {
		fail("llm.promptTemplate 必须包含 {context} 与 {question}")
	}
	if !oneOf(c.Ingest.OnError, "abort", "skip") {
		fail("ingest.onError 必须为 abort 或 skip，当前为 %q", c.Ingest.OnError)
	}

	for name, d := range map[string]string{
		"embedding.timeout":                c.Embedding.Timeout,
		"embedding.cache.ttl":              c.Embedding.Cache.TTL,
		"embedding.circuitBreaker.timeout": c.Embedding.CircuitBreaker.Timeout,
		"llm.timeout":                      c.LLM.Timeout,
		"llm.circuitBreaker.timeout":       c.LLM.CircuitBreaker.Timeout,
		"server.shutdownTimeout":           c.Server.ShutdownTimeout,
		"frontend.timeout":                 c.Frontend.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			fail("%s 不是合法的时长: %q", name, d)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置无效: %w", errors.Join(errs...))
	}
	return nil
}

// Duration 解析时长字符串，为空或非法时返回 def。
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
