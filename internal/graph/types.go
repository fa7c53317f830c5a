package graph

import (
	xerrors "AgentCanvas/internal/errors"
)

// NodeType 表示画布节点的种类。
type NodeType string

const (
	TypeStart          NodeType = "start"
	TypeTool           NodeType = "tool"
	TypeAgent          NodeType = "agent"
	TypeCondition      NodeType = "condition"
	TypeLoop           NodeType = "loop"
	TypeLoopContainer  NodeType = "loopContainer"
	TypeAgentContainer NodeType = "agentContainer"
)

// EdgeTypeCustom 是画布上所有连线使用的统一类型。
const EdgeTypeCustom = "custom"

// 节点 data 中具有特殊含义的键。
const (
	DataLabel      = "label"
	DataName       = "name"
	DataChildCount = "childNodeCount"
	DataCollapsed  = "collapsed"
	DataLoading    = "loading"
	DataError      = "error"
)

// IsContainer 判断节点类型是否可以包含子节点。
func (t NodeType) IsContainer() bool {
	return t == TypeLoopContainer || t == TypeAgentContainer
}

// Position 是画布坐标；子节点的坐标相对于父容器。
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size 是节点的显示尺寸。
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node 是画布上的一个顶点。
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	ParentID string         `json:"parentId,omitempty"`
	Data     map[string]any `json:"data"`
	Style    *Size          `json:"style,omitempty"`
	Hidden   bool           `json:"hidden,omitempty"`
}

// Label 返回节点的可读名称：依次尝试 data.label、data.name，最后回退到 id。
func (n Node) Label() string {
	for _, key := range []string{DataLabel, DataName} {
		if v, ok := n.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return n.ID
}

// Clone 返回节点的副本，data 与 style 不与原节点共享。
func (n Node) Clone() Node {
	dup := n
	dup.Data = cloneData(n.Data)
	if n.Style != nil {
		style := *n.Style
		dup.Style = &style
	}
	return dup
}

// Edge 是两个节点之间的有向连线。
type Edge struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data"`
}

// NewEdge 创建一条统一类型、空 data 的连线。
func NewEdge(id, source, target string) Edge {
	return Edge{ID: id, Source: source, Target: target, Type: EdgeTypeCustom, Data: map[string]any{}}
}

// Clone 返回连线的副本。
func (e Edge) Clone() Edge {
	dup := e
	dup.Data = cloneData(e.Data)
	return dup
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	dup := make(map[string]any, len(data))
	for k, v := range data {
		dup[k] = v
	}
	return dup
}

const (
	CodeDuplicateNode xerrors.Code = "GRAPH_DUPLICATE_NODE"
	CodeDuplicateEdge xerrors.Code = "GRAPH_DUPLICATE_EDGE"
	CodeDanglingEdge  xerrors.Code = "GRAPH_DANGLING_EDGE"
	CodeInvalidParent xerrors.Code = "GRAPH_INVALID_PARENT"
	CodeNodeNotFound  xerrors.Code = "GRAPH_NODE_NOT_FOUND"
)

var (
	// ErrDuplicateNode 表示节点 id 已存在。
	ErrDuplicateNode = xerrors.New(CodeDuplicateNode, "node id already exists")
	// ErrDuplicateEdge 表示连线 id 已存在。
	ErrDuplicateEdge = xerrors.New(CodeDuplicateEdge, "edge id already exists")
	// ErrDanglingEdge 表示连线引用了不存在的节点。
	ErrDanglingEdge = xerrors.New(CodeDanglingEdge, "edge references a missing node")
	// ErrInvalidParent 表示 parentId 指向的节点不存在或不是容器。
	ErrInvalidParent = xerrors.New(CodeInvalidParent, "parent must be an existing container")
	// ErrNodeNotFound 表示节点不存在。
	ErrNodeNotFound = xerrors.New(CodeNodeNotFound, "node not found")
)

func init() {
	xerrors.Register(CodeDuplicateNode, xerrors.Attributes{Message: "node id already exists", Severity: xerrors.SeverityWarning, Kind: xerrors.KindRejected})
	xerrors.Register(CodeDuplicateEdge, xerrors.Attributes{Message: "edge id already exists", Severity: xerrors.SeverityWarning, Kind: xerrors.KindRejected})
	xerrors.Register(CodeDanglingEdge, xerrors.Attributes{Message: "edge references a missing node", Severity: xerrors.SeverityWarning, Kind: xerrors.KindRejected})
	xerrors.Register(CodeInvalidParent, xerrors.Attributes{Message: "parent must be an existing container", Severity: xerrors.SeverityWarning, Kind: xerrors.KindRejected})
	xerrors.Register(CodeNodeNotFound, xerrors.Attributes{Message: "node not found", Severity: xerrors.SeverityInfo, Kind: xerrors.KindRejected})
}
