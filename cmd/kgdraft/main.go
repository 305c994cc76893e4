package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/code-100-precent/MedIntake/cmd/bootstrap"
	"github.com/code-100-precent/MedIntake/internal/models"
	"github.com/code-100-precent/MedIntake/internal/task"
	"github.com/code-100-precent/MedIntake/pkg/config"
	"github.com/code-100-precent/MedIntake/pkg/graph"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: kgdraft [flags] <report-file | ->

Extracts a clinical case from a medical report and writes it to the knowledge graph.

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	mode := flag.String("mode", "", "running environment (development, test, production)")
	enhance := flag.Bool("enhance", false, "enhance the extracted case with medical knowledge")
	dryRun := flag.Bool("dry-run", false, "execute against an in-memory graph instead of Neo4j; nothing is recorded")
	replay := flag.String("replay", "", "execute statements saved for an earlier case (artifact key)")
	stats := flag.Bool("stats", false, "print knowledge graph statistics")
	clearGraph := flag.Bool("clear", false, "delete every node and relationship in the graph")
	yes := flag.Bool("yes", false, "confirm --clear")
	cases := flag.Int("cases", 0, "list the most recent recorded cases")
	printStmts := flag.Bool("print", false, "print the compiled statements")
	flag.Usage = usage
	flag.Parse()

	cfg, err := bootstrap.InitApp(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch {
	case *stats || *clearGraph:
		code = runGraphAdmin(ctx, cfg, *stats, *clearGraph, *yes)
	case *cases > 0:
		code = runListCases(cfg, *cases)
	case *replay != "":
		code = runReplay(ctx, cfg, *replay)
	default:
		if flag.NArg() != 1 {
			usage()
			os.Exit(2)
		}
		code = runReport(ctx, cfg, flag.Arg(0), *enhance || cfg.KGEnhance, *dryRun, *printStmts)
	}
	logger.Sync()
	os.Exit(code)
}

func openDB(cfg *config.Config) *gorm.DB {
	db, err := bootstrap.SetupDatabase(io.Discard, &bootstrap.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DSN,
		AutoMigrate: true,
	})
	if err != nil {
		logger.Warn("database unavailable, cases will not be recorded", zap.Error(err))
		return nil
	}
	return db
}

func readReport(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func runReport(ctx context.Context, cfg *config.Config, path string, enhance, dryRun, printStmts bool) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	text, err := readReport(path)
	if err != nil {
		logger.Error("failed to read report", zap.String("path", path), zap.Error(err))
		return 1
	}

	m := metrics.NewMetrics()
	bootstrap.ServeMetrics(ctx, cfg.MetricsAddr, m)
	pipeline, cleanup, err := bootstrap.NewPipeline(ctx, cfg, bootstrap.PipelineOptions{DB: openDB(cfg), Metrics: m, DryRun: dryRun})
	if err != nil {
		logger.Error("pipeline setup failed", zap.Error(err))
		return 1
	}
	defer cleanup()

	res := pipeline.Process(ctx, text, enhance)
	if printStmts {
		for i, stmt := range res.Statements {
			fmt.Printf("// %d\n%s\n\n", i, stmt.String())
		}
	}
	fmt.Println(res.Summary())
	if res.Batch != nil {
		for _, f := range res.Batch.Errors {
			fmt.Printf("  statement %d failed: %s\n    %s\n", f.Index, f.Message, f.Preview)
		}
	}
	if res.Status != task.StatusSuccess {
		return 1
	}
	return 0
}

func runReplay(ctx context.Context, cfg *config.Config, key string) int {
	pipeline, cleanup, err := bootstrap.NewPipeline(ctx, cfg, bootstrap.PipelineOptions{DB: openDB(cfg), Metrics: metrics.NewMetrics()})
	if err != nil {
		logger.Error("pipeline setup failed", zap.Error(err))
		return 1
	}
	defer cleanup()

	batch, err := pipeline.Replay(ctx, key)
	if batch != nil {
		fmt.Printf("replayed %s: %d/%d statements succeeded, %d matched nothing\n",
			key, batch.SuccessCount, batch.Total, batch.ZeroEffect)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay failed:", err)
		return 1
	}
	return 0
}

func runGraphAdmin(ctx context.Context, cfg *config.Config, stats, clearGraph, confirm bool) int {
	store, err := bootstrap.OpenGraphStore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if store == nil {
		fmt.Fprintln(os.Stderr, "Neo4j is disabled; set NEO4J_ENABLED=true")
		return 1
	}
	defer store.Close(context.Background())

	var inspector graph.Inspector = store
	if clearGraph {
		if err := inspector.Clear(ctx, confirm); err != nil {
			fmt.Fprintln(os.Stderr, "clear failed:", err)
			return 1
		}
		fmt.Println("knowledge graph cleared")
	}
	if stats {
		s, err := inspector.Stats(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "stats failed:", err)
			return 1
		}
		out, _ := json.MarshalIndent(s, "", "  ")
		fmt.Println(string(out))
	}
	return 0
}

func runListCases(cfg *config.Config, limit int) int {
	db := openDB(cfg)
	if db == nil {
		return 1
	}
	list, err := models.ListClinicalCases(db, limit)
	if err != nil {
		logger.Error("failed to list cases", zap.Error(err))
		return 1
	}
	counts, err := models.CaseStatusCounts(db)
	if err != nil {
		logger.Error("failed to count cases", zap.Error(err))
		return 1
	}

	fmt.Printf("cases: %d success, %d failed\n", counts[models.CaseStatusSuccess], counts[models.CaseStatusFailed])
	for _, c := range list {
		executed := "not executed"
		if c.Executed {
			executed = fmt.Sprintf("executed %d/%d", c.SuccessCount, c.StatementCount)
		}
		fmt.Printf("%s  %-7s  %s  %q  %s\n", c.CreatedAt.Format("2006-01-02 15:04"), c.Status, c.CaseID, c.ChiefComplaint, executed)
	}
	return 0
}
