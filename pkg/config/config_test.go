package config

import (
	"testing"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/dialogue"
	"github.com/code-100-precent/MedIntake/pkg/graph"
	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "gpt-4", cfg.LLMModel)
	assert.InDelta(t, 0.1, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 2*time.Minute, cfg.LLMTimeout)
	assert.Equal(t, "ollama", cfg.DiagnosisProvider)
	assert.Equal(t, "alibayram/medgemma:latest", cfg.DiagnosisModel)
	assert.False(t, cfg.Neo4jEnabled)
	assert.Equal(t, 10, cfg.KGBatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.KGBatchPause)
	assert.Equal(t, graph.SkipInvalid, cfg.CompilePolicy())
	assert.Equal(t, dialogue.ScopeAllPatientTurns, cfg.PhrasePolicy().Scope)
	assert.Equal(t, "local", cfg.StorageKind)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_MODEL", "llama3.1")
	t.Setenv("LLM_TEMPERATURE", "0")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("LLM_JSON_MODE", "object")
	t.Setenv("LLM_CACHE_TTL", "10m")
	t.Setenv("KG_BATCH_SIZE", "25")
	t.Setenv("KG_BATCH_PAUSE", "250ms")
	t.Setenv("KG_COMPILE_POLICY", "abort")
	t.Setenv("KG_ENHANCE", "true")
	t.Setenv("TERMINATION_SCOPE", "after_confirmation")
	t.Setenv("NEO4J_ENABLED", "true")
	t.Setenv("NEO4J_STATEMENT_TIMEOUT", "5s")
	t.Setenv("STORAGE_KIND", "minio")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_USE_SSL", "false")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate(), "ollama needs no api key")

	assert.InDelta(t, 0.0, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 25, cfg.KGBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.KGBatchPause)
	assert.True(t, cfg.KGEnhance)
	assert.Equal(t, graph.AbortOnInvalid, cfg.CompilePolicy())
	assert.Equal(t, dialogue.ScopeAfterConfirmation, cfg.PhrasePolicy().Scope)

	opts := cfg.LLMOptions(nil)
	assert.Equal(t, "ollama", opts.Provider)
	assert.Equal(t, llm.JSONModeObject, opts.JSONMode)
	assert.Equal(t, 10*time.Minute, opts.CacheTTL)
	assert.Equal(t, float32(0), opts.Temperature)

	diag := cfg.DiagnosisOptions(nil)
	assert.Equal(t, llm.JSONModeNone, diag.JSONMode)
	assert.Empty(t, diag.APIKey)

	neo := cfg.Neo4jConfig()
	assert.Equal(t, "bolt://localhost:7687", neo.URI)
	assert.Equal(t, 5*time.Second, neo.StatementTimeout)

	sc := cfg.StorageConfig()
	assert.Equal(t, "minio", sc.Kind)
	assert.Equal(t, "localhost:9000", sc.Minio.Endpoint)
	assert.Equal(t, "medintake", sc.Minio.Bucket)
}

func TestValidate(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing api key", func(c *Config) { c.LLMApiKey = "" }, "LLM_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "bard" }, "LLM_PROVIDER"},
		{"bad diagnosis provider", func(c *Config) { c.DiagnosisProvider = "x" }, "DIAGNOSIS_PROVIDER"},
		{"temperature", func(c *Config) { c.LLMTemperature = 3 }, "LLM_TEMPERATURE"},
		{"json mode", func(c *Config) { c.LLMJSONMode = "yaml" }, "LLM_JSON_MODE"},
		{"policy", func(c *Config) { c.KGCompilePolicy = "retry" }, "KG_COMPILE_POLICY"},
		{"scope", func(c *Config) { c.TerminationScope = "never" }, "TERMINATION_SCOPE"},
		{"batch size", func(c *Config) { c.KGBatchSize = 0 }, "KG_BATCH_SIZE"},
		{"neo4j uri", func(c *Config) { c.Neo4jEnabled = true; c.Neo4jURI = "" }, "NEO4J_URI"},
		{"storage kind", func(c *Config) { c.StorageKind = "cos" }, "STORAGE_KIND"},
		{"minio endpoint", func(c *Config) { c.StorageKind = "minio"; c.MinioEndpoint = "" }, "MINIO_ENDPOINT"},
		{"db driver", func(c *Config) { c.DBDriver = "oracle" }, "DB_DRIVER"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := FromEnv()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_WithoutEnvFile(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, Load())
	require.NotNil(t, GlobalConfig)
}
