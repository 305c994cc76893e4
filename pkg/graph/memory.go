package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MemoryNode is a node held by MemoryStore.
type MemoryNode struct {
	Label string
	Key   string // name, or id for Case nodes
	Props map[string]any
}

// MemoryRelationship is a relationship held by MemoryStore.
type MemoryRelationship struct {
	From, Type, To string // node ids
	Props          map[string]any
}

// MemoryStore 进程内图存储，语义与 Neo4jStore 上的语句一致：
// 节点按 (label, name) 合并，Case 按 id 合并，关系按 (from, type, to) 合并
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[string]*MemoryNode
	rels  map[string]*MemoryRelationship
	order []string

	// FailOn lets tests inject per-statement failures.
	FailOn func(stmt Statement) error
	// OpenErr is returned by Open when set.
	OpenErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*MemoryNode),
		rels:  make(map[string]*MemoryRelationship),
	}
}

func (m *MemoryStore) Open(ctx context.Context) (Conn, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return &memoryConn{store: m}, nil
}

func (m *MemoryStore) Close(ctx context.Context) error { return nil }

type memoryConn struct {
	store  *MemoryStore
	closed bool
}

func (c *memoryConn) Execute(ctx context.Context, stmt Statement) (Summary, error) {
	if c.closed {
		return Summary{}, errors.New("connection closed")
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	return c.store.apply(stmt)
}

func (c *memoryConn) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

func nodeID(label, key string) string { return label + "\x00" + key }

func (m *MemoryStore) apply(stmt Statement) (Summary, error) {
	if m.FailOn != nil {
		if err := m.FailOn(stmt); err != nil {
			return Summary{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	props, _ := stmt.Params["props"].(map[string]any)
	sum := Summary{Matched: -1}

	switch stmt.Kind {
	case KindCase:
		id, ok := stmt.Params["id"].(string)
		if !ok {
			return Summary{}, fmt.Errorf("case statement without id parameter")
		}
		m.mergeNode(&sum, "Case", id, props)

	case KindNode:
		name, ok := stmt.Params["name"].(string)
		if !ok || stmt.Label == "" {
			return Summary{}, fmt.Errorf("node statement without label or name")
		}
		id := m.mergeNode(&sum, stmt.Label, name, props)
		if caseID, ok := stmt.Params["case_id"].(string); ok {
			if _, exists := m.nodes[nodeID("Case", caseID)]; exists {
				m.mergeRel(&sum, nodeID("Case", caseID), "HAS_ENTITY", id, nil)
			}
		}

	case KindRelationship:
		from, _ := stmt.Params["from"].(string)
		to, _ := stmt.Params["to"].(string)
		if stmt.RelType == "" {
			return Summary{}, fmt.Errorf("relationship statement without type")
		}
		// 端点只按 name 匹配，不区分标签
		sum.Matched = 0
		for _, a := range m.byName(from) {
			for _, b := range m.byName(to) {
				m.mergeRel(&sum, a, stmt.RelType, b, props)
				sum.Matched++
			}
		}

	default:
		return Summary{}, fmt.Errorf("unknown statement kind %q", stmt.Kind)
	}
	return sum, nil
}

func (m *MemoryStore) mergeNode(sum *Summary, label, key string, props map[string]any) string {
	id := nodeID(label, key)
	n, ok := m.nodes[id]
	if !ok {
		n = &MemoryNode{Label: label, Key: key, Props: map[string]any{}}
		m.nodes[id] = n
		m.order = append(m.order, id)
		sum.NodesCreated++
	}
	for k, v := range props {
		n.Props[k] = v
		sum.PropertiesSet++
	}
	return id
}

func (m *MemoryStore) mergeRel(sum *Summary, from, typ, to string, props map[string]any) {
	id := from + "\x01" + typ + "\x01" + to
	r, ok := m.rels[id]
	if !ok {
		r = &MemoryRelationship{From: from, Type: typ, To: to, Props: map[string]any{}}
		m.rels[id] = r
		sum.RelationshipsCreated++
	}
	for k, v := range props {
		r.Props[k] = v
		sum.PropertiesSet++
	}
}

func (m *MemoryStore) byName(name string) []string {
	var ids []string
	for _, id := range m.order {
		n := m.nodes[id]
		if n.Label != "Case" && n.Key == name {
			ids = append(ids, id)
		}
	}
	return ids
}

// Node returns a copy of the node with the given label and key.
func (m *MemoryStore) Node(label, key string) (MemoryNode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID(label, key)]
	if !ok {
		return MemoryNode{}, false
	}
	out := *n
	out.Props = make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		out.Props[k] = v
	}
	return out, true
}

// Snapshot returns every node and relationship in a stable order.
func (m *MemoryStore) Snapshot() ([]MemoryNode, []MemoryRelationship) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodes := make([]MemoryNode, 0, len(m.nodes))
	for _, id := range m.order {
		n := *m.nodes[id]
		n.Props = copyProps(n.Props)
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodeID(nodes[i].Label, nodes[i].Key) < nodeID(nodes[j].Label, nodes[j].Key)
	})

	rels := make([]MemoryRelationship, 0, len(m.rels))
	for _, r := range m.rels {
		c := *r
		c.Props = copyProps(r.Props)
		rels = append(rels, c)
	}
	sort.Slice(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.To < b.To
	})
	return nodes, rels
}

func copyProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	labels := map[string]int64{}
	for _, n := range m.nodes {
		labels[n.Label]++
	}
	types := map[string]int64{}
	for _, r := range m.rels {
		types[r.Type]++
	}
	return &Stats{
		TotalNodes:         int64(len(m.nodes)),
		TotalRelationships: int64(len(m.rels)),
		NodeLabels:         sortedCounts(labels),
		RelationshipTypes:  sortedCounts(types),
	}, nil
}

func (m *MemoryStore) Clear(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrClearNotConfirmed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]*MemoryNode)
	m.rels = make(map[string]*MemoryRelationship)
	m.order = nil
	return nil
}

// sortedCounts orders by count descending, then name.
func sortedCounts(counts map[string]int64) []LabelCount {
	out := make([]LabelCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, LabelCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
