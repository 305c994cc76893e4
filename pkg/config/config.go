package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/dialogue"
	"github.com/code-100-precent/MedIntake/pkg/graph"
	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	stores "github.com/code-100-precent/MedIntake/pkg/storage"
	"github.com/code-100-precent/MedIntake/pkg/utils"
)

// Config System  CommonConfig
type Config struct {
	Mode     string `env:"MODE"`
	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`
	Log      logger.LogConfig

	// 问诊与抽取模型
	LLMProvider    string        `env:"LLM_PROVIDER"` // openai, ollama
	LLMApiKey      string        `env:"LLM_API_KEY"`
	LLMBaseURL     string        `env:"LLM_BASE_URL"`
	LLMModel       string        `env:"LLM_MODEL"`
	LLMTemperature float64       `env:"LLM_TEMPERATURE"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT"`
	LLMJSONMode    string        `env:"LLM_JSON_MODE"` // schema, object, none
	LLMCacheTTL    time.Duration `env:"LLM_CACHE_TTL"` // 0 表示不缓存

	// 诊断（thesis）模型，默认走本地 Ollama
	DiagnosisProvider string `env:"DIAGNOSIS_PROVIDER"`
	DiagnosisBaseURL  string `env:"DIAGNOSIS_BASE_URL"`
	DiagnosisModel    string `env:"DIAGNOSIS_MODEL"`

	// Neo4j 图数据库配置
	Neo4jEnabled          bool          `env:"NEO4J_ENABLED"`
	Neo4jURI              string        `env:"NEO4J_URI"`
	Neo4jUsername         string        `env:"NEO4J_USERNAME"`
	Neo4jPassword         string        `env:"NEO4J_PASSWORD"`
	Neo4jDatabase         string        `env:"NEO4J_DATABASE"`
	Neo4jStatementTimeout time.Duration `env:"NEO4J_STATEMENT_TIMEOUT"`

	// 图谱构建
	KGBatchSize     int           `env:"KG_BATCH_SIZE"`
	KGBatchPause    time.Duration `env:"KG_BATCH_PAUSE"`
	KGCompilePolicy string        `env:"KG_COMPILE_POLICY"` // skip, abort
	KGEnhance       bool          `env:"KG_ENHANCE"`

	TerminationScope string `env:"TERMINATION_SCOPE"` // all, after_confirmation

	// 产物存储
	StorageKind    string `env:"STORAGE_KIND"` // local, minio
	ArtifactDir    string `env:"ARTIFACT_DIR"`
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET"`
	MinioRegion    string `env:"MINIO_REGION"`
	MinioPrefix    string `env:"MINIO_PREFIX"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL"`

	MetricsAddr string `env:"METRICS_ADDR"` // 为空时不启动 /metrics
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件（如果不存在也不报错，使用默认值）
	env := os.Getenv("APP_ENV")
	err := utils.LoadEnv(env)
	if err != nil {
		// .env文件不存在时只记录日志，不影响启动
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. 加载全局配置（所有配置都有默认值，确保无.env文件也能启动）
	GlobalConfig = FromEnv()
	return nil
}

// FromEnv builds a Config from the current environment.
func FromEnv() *Config {
	return &Config{
		Mode:     getStringOrDefault("MODE", "development"),
		DBDriver: getStringOrDefault("DB_DRIVER", "sqlite"),
		DSN:      getStringOrDefault("DSN", "./medintake.db"),
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/medintake.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		LLMProvider:    getStringOrDefault("LLM_PROVIDER", string(llm.ProviderTypeOpenAI)),
		LLMApiKey:      getStringOrDefault("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMBaseURL:     getStringOrDefault("LLM_BASE_URL", ""),
		LLMModel:       getStringOrDefault("LLM_MODEL", "gpt-4"),
		LLMTemperature: getFloatOrDefault("LLM_TEMPERATURE", 0.1),
		LLMTimeout:     getDurationOrDefault("LLM_TIMEOUT", 2*time.Minute),
		LLMJSONMode:    getStringOrDefault("LLM_JSON_MODE", string(llm.JSONModeSchema)),
		LLMCacheTTL:    getDurationOrDefault("LLM_CACHE_TTL", 0),
		// 诊断模型配置
		DiagnosisProvider: getStringOrDefault("DIAGNOSIS_PROVIDER", string(llm.ProviderTypeOllama)),
		DiagnosisBaseURL:  getStringOrDefault("DIAGNOSIS_BASE_URL", ""),
		DiagnosisModel:    getStringOrDefault("DIAGNOSIS_MODEL", "alibayram/medgemma:latest"),
		// Neo4j 图数据库配置（默认禁用）
		Neo4jEnabled:          getBoolOrDefault("NEO4J_ENABLED", false),
		Neo4jURI:              getStringOrDefault("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUsername:         getStringOrDefault("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword:         getStringOrDefault("NEO4J_PASSWORD", ""),
		Neo4jDatabase:         getStringOrDefault("NEO4J_DATABASE", "neo4j"),
		Neo4jStatementTimeout: getDurationOrDefault("NEO4J_STATEMENT_TIMEOUT", 30*time.Second),
		// 图谱构建
		KGBatchSize:     getIntOrDefault("KG_BATCH_SIZE", 10),
		KGBatchPause:    getDurationOrDefault("KG_BATCH_PAUSE", 100*time.Millisecond),
		KGCompilePolicy: getStringOrDefault("KG_COMPILE_POLICY", string(graph.SkipInvalid)),
		KGEnhance:       getBoolOrDefault("KG_ENHANCE", false),

		TerminationScope: getStringOrDefault("TERMINATION_SCOPE", string(dialogue.ScopeAllPatientTurns)),
		// 产物存储（默认本地目录）
		StorageKind:    getStringOrDefault("STORAGE_KIND", stores.KindLocal),
		ArtifactDir:    getStringOrDefault("ARTIFACT_DIR", stores.DefaultDir),
		MinioEndpoint:  getStringOrDefault("MINIO_ENDPOINT", ""),
		MinioAccessKey: getStringOrDefault("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getStringOrDefault("MINIO_SECRET_KEY", ""),
		MinioBucket:    getStringOrDefault("MINIO_BUCKET", "medintake"),
		MinioRegion:    getStringOrDefault("MINIO_REGION", ""),
		MinioPrefix:    getStringOrDefault("MINIO_PREFIX", ""),
		MinioUseSSL:    getBoolOrDefault("MINIO_USE_SSL", false),

		MetricsAddr: getStringOrDefault("METRICS_ADDR", ""),
	}
}

// Validate 校验配置之间的一致性，返回全部问题
func (c *Config) Validate() error {
	var errs []error

	for _, p := range []struct{ key, value string }{
		{"LLM_PROVIDER", c.LLMProvider},
		{"DIAGNOSIS_PROVIDER", c.DiagnosisProvider},
	} {
		switch llm.ProviderType(p.value) {
		case llm.ProviderTypeOpenAI, llm.ProviderTypeOllama:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", p.key, p.value))
		}
	}
	if llm.ProviderType(c.LLMProvider) == llm.ProviderTypeOpenAI && c.LLMApiKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required for the openai provider"))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE must be within [0, 2], got %v", c.LLMTemperature))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT must be positive"))
	}
	if _, err := llm.ParseJSONMode(c.LLMJSONMode); err != nil {
		errs = append(errs, fmt.Errorf("LLM_JSON_MODE: %w", err))
	}
	if _, err := graph.ParsePolicy(c.KGCompilePolicy); err != nil {
		errs = append(errs, fmt.Errorf("KG_COMPILE_POLICY: %w", err))
	}
	if _, err := dialogue.ParseScope(c.TerminationScope); err != nil {
		errs = append(errs, fmt.Errorf("TERMINATION_SCOPE: %w", err))
	}
	if c.KGBatchSize <= 0 {
		errs = append(errs, errors.New("KG_BATCH_SIZE must be positive"))
	}
	if c.KGBatchPause < 0 {
		errs = append(errs, errors.New("KG_BATCH_PAUSE must not be negative"))
	}
	if c.Neo4jEnabled && c.Neo4jURI == "" {
		errs = append(errs, errors.New("NEO4J_URI is required when NEO4J_ENABLED is set"))
	}

	switch c.StorageKind {
	case stores.KindLocal:
		if c.ArtifactDir == "" {
			errs = append(errs, errors.New("ARTIFACT_DIR is required for local storage"))
		}
	case stores.KindMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required for minio storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_KIND: unknown kind %q", c.StorageKind))
	}

	switch c.DBDriver {
	case "", "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver))
	}
	if c.DBDriver != "" && c.DSN == "" {
		errs = append(errs, errors.New("DSN is required when DB_DRIVER is set"))
	}

	return errors.Join(errs...)
}

// LLMOptions 问诊与抽取模型的生成器配置
func (c *Config) LLMOptions(m *metrics.Metrics) llm.Options {
	mode, _ := llm.ParseJSONMode(c.LLMJSONMode)
	return llm.Options{
		Provider:    c.LLMProvider,
		APIKey:      c.LLMApiKey,
		BaseURL:     c.LLMBaseURL,
		Model:       c.LLMModel,
		Temperature: float32(c.LLMTemperature),
		JSONMode:    mode,
		CacheTTL:    c.LLMCacheTTL,
		Metrics:     m,
	}
}

// DiagnosisOptions 诊断模型的生成器配置，输出为自由文本
func (c *Config) DiagnosisOptions(m *metrics.Metrics) llm.Options {
	opts := llm.Options{
		Provider:    c.DiagnosisProvider,
		BaseURL:     c.DiagnosisBaseURL,
		Model:       c.DiagnosisModel,
		Temperature: float32(c.LLMTemperature),
		JSONMode:    llm.JSONModeNone,
		Metrics:     m,
	}
	if llm.ProviderType(c.DiagnosisProvider) == llm.ProviderTypeOpenAI {
		opts.APIKey = c.LLMApiKey
	}
	return opts
}

// Neo4jConfig 图数据库连接配置
func (c *Config) Neo4jConfig() graph.Neo4jConfig {
	return graph.Neo4jConfig{
		URI:              c.Neo4jURI,
		Username:         c.Neo4jUsername,
		Password:         c.Neo4jPassword,
		Database:         c.Neo4jDatabase,
		StatementTimeout: c.Neo4jStatementTimeout,
	}
}

// StorageConfig 产物存储配置
func (c *Config) StorageConfig() stores.Config {
	return stores.Config{
		Kind: c.StorageKind,
		Dir:  c.ArtifactDir,
		Minio: stores.MinioConfig{
			Endpoint:  c.MinioEndpoint,
			AccessKey: c.MinioAccessKey,
			SecretKey: c.MinioSecretKey,
			Bucket:    c.MinioBucket,
			Region:    c.MinioRegion,
			Prefix:    c.MinioPrefix,
			UseSSL:    c.MinioUseSSL,
		},
	}
}

// PhrasePolicy 根据 TERMINATION_SCOPE 构造结束判定策略
func (c *Config) PhrasePolicy() dialogue.PhrasePolicy {
	p := dialogue.DefaultPolicy()
	if scope, err := dialogue.ParseScope(c.TerminationScope); err == nil {
		p.Scope = scope
	}
	return p
}

// CompilePolicy 解析 KG_COMPILE_POLICY，无效值回退为 skip
func (c *Config) CompilePolicy() graph.Policy {
	p, err := graph.ParsePolicy(c.KGCompilePolicy)
	if err != nil {
		return graph.SkipInvalid
	}
	return p
}

// getStringOrDefault 获取环境变量值，如果为空则返回默认值
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault 获取布尔环境变量值，如果为空则返回默认值
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault 获取整数环境变量值，如果为空则返回默认值
func getIntOrDefault(key string, defaultValue int) int {
	value := utils.GetIntEnv(key)
	if value == 0 {
		return defaultValue
	}
	return int(value)
}

// getFloatOrDefault 获取浮点环境变量值，未设置时返回默认值（显式的 0 会被保留）
func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strings.TrimSpace(utils.GetEnv(key)) == "" {
		return defaultValue
	}
	return utils.GetFloatEnv(key)
}

// getDurationOrDefault 获取时长环境变量值，为空或无法解析时返回默认值
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := utils.GetDurationEnv(key)
	if value == 0 {
		return defaultValue
	}
	return value
}
