package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/code-100-precent/MedIntake/cmd/bootstrap"
	"github.com/code-100-precent/MedIntake/internal/task"
	"github.com/code-100-precent/MedIntake/pkg/config"
	"github.com/code-100-precent/MedIntake/pkg/dialogue"
	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// lineReader reads patient lines from r without blocking past ctx.
type lineReader struct {
	out   io.Writer
	lines chan string
	errs  chan error
}

func newLineReader(r io.Reader, out io.Writer) *lineReader {
	lr := &lineReader{out: out, lines: make(chan string), errs: make(chan error, 1)}
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lr.lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			lr.errs <- err
			return
		}
		lr.errs <- io.EOF
	}()
	return lr
}

func (lr *lineReader) Next(ctx context.Context) (string, error) {
	fmt.Fprint(lr.out, "\nPatient: ")
	select {
	case line := <-lr.lines:
		return line, nil
	case err := <-lr.errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runOptions 命令行开关
type runOptions struct {
	enhance bool
	noGraph bool
	noDB    bool
}

func main() {
	mode := flag.String("mode", "", "running environment (development, test, production)")
	enhance := flag.Bool("enhance", false, "enhance the extracted case with medical knowledge")
	noGraph := flag.Bool("no-graph", false, "build the graph in memory instead of Neo4j")
	noDB := flag.Bool("no-db", false, "do not record sessions and cases in the database")
	flag.Parse()

	cfg, err := bootstrap.InitApp(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init failed:", err)
		os.Exit(1)
	}

	code := run(cfg, runOptions{enhance: *enhance, noGraph: *noGraph, noDB: *noDB}, os.Stdin, os.Stdout)
	logger.Sync()
	os.Exit(code)
}

// run 执行一次问诊并返回退出码，返回前关闭图数据库连接和 /metrics
func run(cfg *config.Config, opts runOptions, in io.Reader, out io.Writer) int {
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	bootstrap.ServeMetrics(ctx, cfg.MetricsAddr, m)

	var db *gorm.DB
	if !opts.noDB {
		var err error
		db, err = bootstrap.SetupDatabase(io.Discard, &bootstrap.Options{
			Driver:      cfg.DBDriver,
			DSN:         cfg.DSN,
			AutoMigrate: true,
		})
		if err != nil {
			// 数据库只用于记录，失败时继续问诊
			logger.Warn("database unavailable, sessions will not be recorded", zap.Error(err))
			db = nil
		}
	}

	pipeline, cleanup, err := bootstrap.NewPipeline(ctx, cfg, bootstrap.PipelineOptions{DB: db, Metrics: m, DryRun: opts.noGraph})
	if err != nil {
		logger.Error("pipeline setup failed", zap.Error(err))
		return 1
	}
	defer cleanup()

	recorder := task.StartSession(db, time.Now())

	policy := cfg.PhrasePolicy()
	controller := dialogue.NewController(
		llm.NewGenerator(cfg.LLMOptions(m)),
		llm.NewGenerator(cfg.DiagnosisOptions(m)),
		dialogue.Options{
			Policy:  policy.Terminate,
			Timeout: cfg.LLMTimeout,
			Metrics: m,
			Hook: pipeline.DiagnosisHook(opts.enhance || cfg.KGEnhance, func(res *task.Result) {
				recorder.CaseProcessed(res)
				fmt.Fprintln(out, "\nKnowledge graph:", res.Summary())
			}),
		},
	)
	controller.Observer = dialogue.Observer{
		OnTurn: func(t dialogue.Turn) {
			if t.Role == dialogue.RoleAssistant {
				fmt.Fprintf(out, "\nDoctor: %s\n", t.Text)
			}
		},
		OnNotice: func(notice string) {
			fmt.Fprintf(out, "\n[%s, please try again]\n", notice)
		},
		OnDiagnosis: func(text string) {
			fmt.Fprintf(out, "\n=== Clinical analysis ===\n%s\n", text)
		},
	}

	fmt.Fprintln(out, "Prenatal intake assistant. Describe how you are feeling; type 'quit' to leave.")
	state, err := controller.Run(ctx, newLineReader(in, out))
	if ferr := recorder.Finish(state, time.Now()); ferr != nil {
		logger.Warn("session not recorded", zap.Error(ferr))
	}
	if err != nil {
		logger.Error("intake session failed", zap.Error(err))
		return 1
	}
	if state.Interrupted {
		fmt.Fprintln(out, "\nSession ended.")
	}
	logger.Info("intake session finished",
		zap.String("sessionID", recorder.SessionID()),
		zap.Int("turns", len(state.Turns)),
		zap.Bool("interrupted", state.Interrupted),
	)
	return 0
}
