package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/code-100-precent/MedIntake/internal/task"
	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/code-100-precent/MedIntake/pkg/config"
	"github.com/code-100-precent/MedIntake/pkg/extraction"
	"github.com/code-100-precent/MedIntake/pkg/graph"
	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	stores "github.com/code-100-precent/MedIntake/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InitApp loads configuration for mode and initializes the global logger.
func InitApp(mode string) (*config.Config, error) {
	if mode != "" {
		os.Setenv("APP_ENV", mode)
	}
	if err := config.Load(); err != nil {
		return nil, err
	}
	cfg := config.GlobalConfig
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		return nil, err
	}
	LogConfigInfo(cfg)
	return cfg, nil
}

// LogConfigInfo 打印关键配置，不输出密钥
func LogConfigInfo(cfg *config.Config) {
	logger.Info("checked config",
		zap.String("mode", cfg.Mode),
		zap.String("db-driver", cfg.DBDriver),
		zap.String("llm-provider", cfg.LLMProvider),
		zap.String("llm-model", cfg.LLMModel),
		zap.String("diagnosis-provider", cfg.DiagnosisProvider),
		zap.String("diagnosis-model", cfg.DiagnosisModel),
		zap.Bool("neo4j-enabled", cfg.Neo4jEnabled),
		zap.String("storage", cfg.StorageKind),
	)
}

// OpenGraphStore connects to Neo4j when enabled. A nil store with a nil
// error means graph execution is turned off.
func OpenGraphStore(ctx context.Context, cfg *config.Config) (*graph.Neo4jStore, error) {
	if !cfg.Neo4jEnabled {
		logger.Info("Neo4j disabled, statements will only be saved")
		return nil, nil
	}
	return graph.NewNeo4jStore(ctx, cfg.Neo4jConfig())
}

// PipelineOptions 流水线组装选项
type PipelineOptions struct {
	DB      *gorm.DB
	Metrics *metrics.Metrics
	// DryRun 在内存图中执行，不连接 Neo4j，也不记录数据库
	DryRun bool
}

// NewPipeline wires extraction, compilation, artifact storage and, unless
// disabled, the graph store. The returned cleanup closes what was opened.
func NewPipeline(ctx context.Context, cfg *config.Config, opts PipelineOptions) (*task.Pipeline, func(), error) {
	artifacts, err := stores.New(cfg.StorageConfig())
	if err != nil {
		return nil, nil, err
	}

	p := &task.Pipeline{
		Extractor: extraction.NewEngine(llm.NewGenerator(cfg.LLMOptions(opts.Metrics)), extraction.Options{
			Timeout: cfg.LLMTimeout,
			Metrics: opts.Metrics,
		}),
		Assembler: clinical.NewAssembler(),
		Compiler:  graph.NewCompiler(cfg.CompilePolicy()),
		Executor: &graph.Executor{
			BatchSize:        cfg.KGBatchSize,
			Pause:            cfg.KGBatchPause,
			StatementTimeout: cfg.Neo4jStatementTimeout,
			Metrics:          opts.Metrics,
		},
		Artifacts: artifacts,
		DB:        opts.DB,
		Metrics:   opts.Metrics,
	}
	cleanup := func() {}

	if opts.DryRun {
		p.Graph = graph.NewMemoryStore()
		p.DB = nil
	} else {
		store, err := OpenGraphStore(ctx, cfg)
		if err != nil {
			// 图数据库不可用时仍然抽取并保存语句，之后可用 --replay 重放
			logger.Error("Graph store unavailable, continuing without execution", zap.Error(err))
		} else if store != nil {
			p.Graph = store
			cleanup = func() {
				if err := store.Close(context.Background()); err != nil {
					logger.Warn("Failed to close graph store", zap.Error(err))
				}
			}
		}
	}
	return p, cleanup, nil
}

// ServeMetrics exposes /metrics on addr until ctx ends. Empty addr is a no-op.
func ServeMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	if addr == "" || m == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
