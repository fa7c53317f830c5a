// Package export 将画布投影为只读的连接摘要，供外部查看或交给执行端。
package export

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentCanvas/internal/graph"
)

// Snapshot 是导出的 JSON 文档。
type Snapshot struct {
	Summary         Summary          `json:"summary"`
	NodeConnections []NodeConnection `json:"nodeConnections"`
	RawEdges        []RawEdge        `json:"rawEdges"`
}

// Summary 汇总节点与连线数量。Digest 只覆盖连接内容，与时间戳无关。
type Summary struct {
	TotalNodes       int       `json:"totalNodes"`
	TotalConnections int       `json:"totalConnections"`
	Timestamp        time.Time `json:"timestamp"`
	Digest           string    `json:"digest"`
}

// NodeConnection 描述单个节点的入边与出边邻居。
type NodeConnection struct {
	NodeID              string         `json:"nodeId"`
	NodeType            graph.NodeType `json:"nodeType"`
	NodeLabel           string         `json:"nodeLabel"`
	IncomingConnections Connections    `json:"incomingConnections"`
	OutgoingConnections Connections    `json:"outgoingConnections"`
}

// Connections 是一个方向上的邻居列表。
type Connections struct {
	Count int        `json:"count"`
	Nodes []Neighbor `json:"nodes"`
}

// Neighbor 是邻居节点的 id 与名称。
type Neighbor struct {
	NodeID    string `json:"nodeId"`
	NodeLabel string `json:"nodeLabel"`
}

// RawEdge 是附带两端名称的原始连线。
type RawEdge struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	SourceLabel string `json:"sourceLabel"`
	TargetLabel string `json:"targetLabel"`
}

// Build 生成画布的导出快照。节点按画布顺序，邻居按连线顺序排列。
func Build(g graph.Graph, now time.Time) Snapshot {
	labels := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		labels[n.ID] = n.Label()
	}
	labelOf := func(id string) string {
		if label, ok := labels[id]; ok {
			return label
		}
		return id
	}

	incoming := make(map[string][]Neighbor)
	outgoing := make(map[string][]Neighbor)
	raw := make([]RawEdge, 0, len(g.Edges))
	for _, e := range g.Edges {
		incoming[e.Target] = append(incoming[e.Target], Neighbor{NodeID: e.Source, NodeLabel: labelOf(e.Source)})
		outgoing[e.Source] = append(outgoing[e.Source], Neighbor{NodeID: e.Target, NodeLabel: labelOf(e.Target)})
		raw = append(raw, RawEdge{
			ID:          e.ID,
			Source:      e.Source,
			Target:      e.Target,
			SourceLabel: labelOf(e.Source),
			TargetLabel: labelOf(e.Target),
		})
	}

	conns := make([]NodeConnection, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		conns = append(conns, NodeConnection{
			NodeID:              n.ID,
			NodeType:            n.Type,
			NodeLabel:           labels[n.ID],
			IncomingConnections: connections(incoming[n.ID]),
			OutgoingConnections: connections(outgoing[n.ID]),
		})
	}

	return Snapshot{
		Summary: Summary{
			TotalNodes:       len(g.Nodes),
			TotalConnections: len(g.Edges),
			Timestamp:        now.UTC(),
			Digest:           Digest(conns, raw).Hex(),
		},
		NodeConnections: conns,
		RawEdges:        raw,
	}
}

func connections(nodes []Neighbor) Connections {
	if nodes == nil {
		nodes = []Neighbor{}
	}
	return Connections{Count: len(nodes), Nodes: nodes}
}

// Digest 计算连接内容的 Keccak-256 摘要，便于在链上锚定导出结果。
func Digest(conns []NodeConnection, edges []RawEdge) common.Hash {
	body, err := json.Marshal(struct {
		NodeConnections []NodeConnection `json:"nodeConnections"`
		RawEdges        []RawEdge        `json:"rawEdges"`
	}{conns, edges})
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(body)
}

// Verify 判断快照的摘要是否与内容一致。
func (s Snapshot) Verify() bool {
	return Digest(s.NodeConnections, s.RawEdges).Hex() == s.Summary.Digest
}
