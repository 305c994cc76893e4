package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 10
	defaultPreviewLen = 100
)

// ErrNoConnection 没有可用的存储连接
var ErrNoConnection = errors.New("graph: no store connection")

// ConnectionError 存储不可达，整次运行失败，不执行任何语句
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "graph store unavailable: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// StatementError 单条语句失败，记录后继续执行
type StatementError struct {
	Index int
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d failed: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// StatementFailure is one recorded failure of a run.
type StatementFailure struct {
	Index   int    `json:"index"`
	Preview string `json:"preview"`
	Message string `json:"message"`
}

// BatchResult 批量执行结果
type BatchResult struct {
	Total                int                `json:"total"`
	SuccessCount         int                `json:"success_count"`
	ErrorCount           int                `json:"error_count"`
	Errors               []StatementFailure `json:"errors"`
	Elapsed              time.Duration      `json:"elapsed"`
	Batches              int                `json:"batches"`
	ZeroEffect           int                `json:"zero_effect"`
	NodesCreated         int                `json:"nodes_created"`
	RelationshipsCreated int                `json:"relationships_created"`
	PropertiesSet        int                `json:"properties_set"`
}

// Validate checks success_count + error_count == total.
func (r *BatchResult) Validate() error {
	if r.SuccessCount+r.ErrorCount != r.Total {
		return fmt.Errorf("batch result invariant violated: %d + %d != %d", r.SuccessCount, r.ErrorCount, r.Total)
	}
	if len(r.Errors) != r.ErrorCount {
		return fmt.Errorf("batch result invariant violated: %d recorded failures, error count %d", len(r.Errors), r.ErrorCount)
	}
	return nil
}

// Executor applies statements in fixed-size, paced batches.
type Executor struct {
	BatchSize        int
	Pause            time.Duration // 批次之间的间隔
	StatementTimeout time.Duration
	PreviewLen       int
	Metrics          *metrics.Metrics
}

// Run executes stmts sequentially over conn. A failing statement is recorded
// and execution moves on. When ctx ends, every statement not yet attempted is
// recorded as failed and ctx.Err() is returned with the result.
func (e *Executor) Run(ctx context.Context, conn Conn, stmts []Statement) (*BatchResult, error) {
	if conn == nil {
		return nil, &ConnectionError{Err: ErrNoConnection}
	}

	batchSize, previewLen := defaultBatchSize, defaultPreviewLen
	var pause, timeout time.Duration
	var m *metrics.Metrics
	if e != nil {
		if e.BatchSize > 0 {
			batchSize = e.BatchSize
		}
		if e.PreviewLen > 0 {
			previewLen = e.PreviewLen
		}
		pause, timeout, m = e.Pause, e.StatementTimeout, e.Metrics
	}

	start := time.Now()
	result := &BatchResult{Total: len(stmts), Errors: []StatementFailure{}}
	fail := func(i int, err error) {
		result.ErrorCount++
		result.Errors = append(result.Errors, StatementFailure{
			Index:   i,
			Preview: stmts[i].Preview(previewLen),
			Message: err.Error(),
		})
	}

	var runErr error
	for from := 0; from < len(stmts); from += batchSize {
		to := min(from+batchSize, len(stmts))

		if from > 0 && pause > 0 {
			if err := sleep(ctx, pause); err != nil {
				runErr = err
			}
		}
		if runErr == nil {
			runErr = ctx.Err()
		}
		if runErr != nil {
			for i := from; i < len(stmts); i++ {
				fail(i, runErr)
			}
			break
		}

		result.Batches++
		m.RecordBatch()
		logger.Info("Executing batch",
			zap.Int("batch", result.Batches),
			zap.Int("from", from+1),
			zap.Int("to", to),
		)

		for i := from; i < to; i++ {
			if err := ctx.Err(); err != nil {
				runErr = err
				for j := i; j < len(stmts); j++ {
					fail(j, err)
				}
				break
			}

			stmtStart := time.Now()
			sum, err := execute(ctx, conn, stmts[i], timeout)
			m.RecordStatement(string(stmts[i].Kind), err == nil, time.Since(stmtStart))
			if err != nil {
				stmtErr := &StatementError{Index: i, Err: err}
				fail(i, err)
				logger.Error("Statement failed", zap.Int("index", i), zap.String("kind", string(stmts[i].Kind)), zap.Error(stmtErr))
				continue
			}

			result.SuccessCount++
			result.NodesCreated += sum.NodesCreated
			result.RelationshipsCreated += sum.RelationshipsCreated
			result.PropertiesSet += sum.PropertiesSet
			if stmts[i].Kind == KindRelationship && sum.Matched == 0 {
				result.ZeroEffect++
				m.RecordZeroEffect()
				logger.Warn("Relationship matched no endpoints",
					zap.Int("index", i),
					zap.Any("from", stmts[i].Params["from"]),
					zap.Any("to", stmts[i].Params["to"]),
				)
			}
		}
		if runErr != nil {
			break
		}
	}

	result.Elapsed = time.Since(start)
	if err := result.Validate(); err != nil {
		logger.Error("Batch executor bookkeeping error", zap.Error(err))
		return result, err
	}

	logger.Info("Batch execution finished",
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("zero_effect", result.ZeroEffect),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, runErr
}

// Apply opens one connection on store, runs stmts over it and closes it.
func (e *Executor) Apply(ctx context.Context, store Store, stmts []Statement) (*BatchResult, error) {
	if store == nil {
		return nil, &ConnectionError{Err: ErrNoConnection}
	}
	conn, err := store.Open(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer func() {
		if err := conn.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to close graph connection", zap.Error(err))
		}
	}()
	return e.Run(ctx, conn, stmts)
}

// execute runs one statement under its own timeout and turns a panicking
// connection into an error.
func execute(ctx context.Context, conn Conn, stmt Statement, timeout time.Duration) (sum Summary, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while executing statement: %v", r)
		}
	}()
	return conn.Execute(ctx, stmt)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
