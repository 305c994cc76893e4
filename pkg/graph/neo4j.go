package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jConfig Neo4j 连接配置
type Neo4jConfig struct {
	URI              string
	Username         string
	Password         string
	Database         string
	ConnectTimeout   time.Duration // 建立连接并校验的超时
	StatementTimeout time.Duration // 单条语句的事务超时，0 表示使用服务端默认值
}

// Neo4jStore Neo4j 图数据库实现
type Neo4jStore struct {
	driver  neo4j.DriverWithContext
	db      string // 数据库名称
	timeout time.Duration
}

// NewNeo4jStore 创建 Neo4j 存储实例
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("failed to create Neo4j driver: %w", err)}
	}

	// 验证连接
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	verifyCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, &ConnectionError{Err: fmt.Errorf("failed to verify Neo4j connectivity: %w", err)}
	}

	logger.Info("Neo4j connection established", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))
	return &Neo4jStore{
		driver:  driver,
		db:      cfg.Database,
		timeout: cfg.StatementTimeout,
	}, nil
}

// Open 打开一个写会话，整个批次复用
func (s *Neo4jStore) Open(ctx context.Context) (Conn, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.db,
		AccessMode:   neo4j.AccessModeWrite,
	})
	return &neo4jConn{session: session, timeout: s.timeout}, nil
}

type neo4jConn struct {
	session neo4j.SessionWithContext
	timeout time.Duration
}

func (c *neo4jConn) Execute(ctx context.Context, stmt Statement) (Summary, error) {
	var configurers []func(*neo4j.TransactionConfig)
	if c.timeout > 0 {
		configurers = append(configurers, neo4j.WithTxTimeout(c.timeout))
	}

	result, err := c.session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, stmt.Text, stmt.Params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}

		counters := summary.Counters()
		out := Summary{
			NodesCreated:         counters.NodesCreated(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			PropertiesSet:        counters.PropertiesSet(),
			Matched:              -1,
		}
		if len(records) > 0 {
			if v, ok := records[0].Get("matched"); ok {
				if n, ok := v.(int64); ok {
					out.Matched = int(n)
				}
			}
		}
		return out, nil
	}, configurers...)
	if err != nil {
		return Summary{}, err
	}
	return result.(Summary), nil
}

func (c *neo4jConn) Close(ctx context.Context) error {
	return c.session.Close(ctx)
}

// Stats 获取数据库统计信息
func (s *Neo4jStore) Stats(ctx context.Context) (*Stats, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.db,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		stats := &Stats{}

		var err error
		if stats.NodeLabels, err = collectCounts(ctx, tx, `
			MATCH (n)
			UNWIND labels(n) AS label
			RETURN label AS name, count(*) AS count
			ORDER BY count DESC, name`); err != nil {
			return nil, err
		}
		if stats.RelationshipTypes, err = collectCounts(ctx, tx, `
			MATCH ()-[r]->()
			RETURN type(r) AS name, count(r) AS count
			ORDER BY count DESC, name`); err != nil {
			return nil, err
		}
		if stats.TotalNodes, err = single(ctx, tx, "MATCH (n) RETURN count(n) AS total"); err != nil {
			return nil, err
		}
		if stats.TotalRelationships, err = single(ctx, tx, "MATCH ()-[r]->() RETURN count(r) AS total"); err != nil {
			return nil, err
		}
		return stats, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}
	return result.(*Stats), nil
}

func collectCounts(ctx context.Context, tx neo4j.ManagedTransaction, query string) ([]LabelCount, error) {
	res, err := tx.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	var out []LabelCount
	for res.Next(ctx) {
		record := res.Record()
		name, _ := record.Get("name")
		count, _ := record.Get("count")
		lc := LabelCount{}
		lc.Name, _ = name.(string)
		lc.Count, _ = count.(int64)
		out = append(out, lc)
	}
	return out, res.Err()
}

func single(ctx context.Context, tx neo4j.ManagedTransaction, query string) (int64, error) {
	res, err := tx.Run(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	total, _ := record.Get("total")
	n, _ := total.(int64)
	return n, nil
}

// Clear 删除所有节点和关系，必须显式确认
func (s *Neo4jStore) Clear(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrClearNotConfirmed
	}
	logger.Warn("Clearing entire database", zap.String("database", s.db))

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.db,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to clear database: %w", err)
	}
	logger.Info("Database cleared successfully")
	return nil
}

// Close 关闭连接
func (s *Neo4jStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.driver.Close(ctx)
}
