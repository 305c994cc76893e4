package graph

import (
	"context"
	"errors"
)

// ErrClearNotConfirmed 清库需要显式确认
var ErrClearNotConfirmed = errors.New("graph: clearing the database requires explicit confirmation")

// Summary 单条语句的执行统计
type Summary struct {
	NodesCreated         int
	RelationshipsCreated int
	PropertiesSet        int
	// Matched is the row count a statement reported through its RETURN
	// clause, or -1 when the statement returns nothing.
	Matched int
}

// Store 图数据库存储接口
type Store interface {
	// Open 建立一次运行期间复用的连接
	Open(ctx context.Context) (Conn, error)
	Close(ctx context.Context) error
}

// Conn executes statements one at a time.
type Conn interface {
	Execute(ctx context.Context, stmt Statement) (Summary, error)
	Close(ctx context.Context) error
}

// Inspector is implemented by stores that can report and reset contents.
type Inspector interface {
	Stats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context, confirm bool) error
}

// LabelCount 按标签或关系类型统计的数量
type LabelCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats 数据库统计信息
type Stats struct {
	TotalNodes         int64        `json:"total_nodes"`
	TotalRelationships int64        `json:"total_relationships"`
	NodeLabels         []LabelCount `json:"node_types"`
	RelationshipTypes  []LabelCount `json:"relationship_types"`
}
