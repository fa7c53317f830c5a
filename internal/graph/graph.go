package graph

import (
	"fmt"
	"sort"

	xerrors "AgentCanvas/internal/errors"
)

// Graph 保存画布上的节点与连线，切片顺序即渲染顺序。
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// RemoveResult 记录一次删除带来的结构变化。
type RemoveResult struct {
	RemovedNodes []string `json:"removedNodes"`
	RemovedEdges []string `json:"removedEdges"`
	AddedEdges   []Edge   `json:"addedEdges"`
}

// Clone 返回图的深拷贝。
func (g *Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, 0, len(g.Nodes)),
		Edges: make([]Edge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, n.Clone())
	}
	for _, e := range g.Edges {
		out.Edges = append(out.Edges, e.Clone())
	}
	return out
}

// Node 返回指定节点的指针。指针在下一次增删节点前有效。
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// HasNode 判断节点是否存在。
func (g *Graph) HasNode(id string) bool {
	_, ok := g.Node(id)
	return ok
}

// HasEdge 判断连线 id 是否存在。
func (g *Graph) HasEdge(id string) bool {
	for _, e := range g.Edges {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Children 返回 parentId 等于给定 id 的节点。
func (g *Graph) Children(parentID string) []*Node {
	var children []*Node
	for i := range g.Nodes {
		if g.Nodes[i].ParentID == parentID {
			children = append(children, &g.Nodes[i])
		}
	}
	return children
}

// ContainersOf 返回指定类型的所有容器节点。
func (g *Graph) ContainersOf(t NodeType) []*Node {
	var out []*Node
	for i := range g.Nodes {
		if g.Nodes[i].Type == t {
			out = append(out, &g.Nodes[i])
		}
	}
	return out
}

// AddNode 追加节点。parentId 必须指向已存在的容器，容器本身不可嵌套。
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "node id is empty")
	}
	if g.HasNode(n.ID) {
		return xerrors.Wrap(CodeDuplicateNode, ErrDuplicateNode, n.ID)
	}
	if n.ParentID != "" {
		parent, ok := g.Node(n.ParentID)
		if !ok || !parent.Type.IsContainer() || n.Type.IsContainer() {
			return xerrors.Wrap(CodeInvalidParent, ErrInvalidParent, fmt.Sprintf("%s -> %s", n.ID, n.ParentID))
		}
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	g.Nodes = append(g.Nodes, n)
	if n.ParentID != "" {
		g.RecountChildren(n.ParentID)
	}
	return nil
}

// AddEdge 追加连线。两端节点必须已经存在。
func (g *Graph) AddEdge(e Edge) error {
	if e.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "edge id is empty")
	}
	if g.HasEdge(e.ID) {
		return xerrors.Wrap(CodeDuplicateEdge, ErrDuplicateEdge, e.ID)
	}
	if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
		return xerrors.Wrap(CodeDanglingEdge, ErrDanglingEdge, fmt.Sprintf("%s -> %s", e.Source, e.Target))
	}
	if e.Type == "" {
		e.Type = EdgeTypeCustom
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	g.Edges = append(g.Edges, e)
	return nil
}

// RecountChildren 根据当前子节点数量重写容器的 childNodeCount。
func (g *Graph) RecountChildren(parentID string) int {
	parent, ok := g.Node(parentID)
	if !ok {
		return 0
	}
	count := 0
	for _, n := range g.Nodes {
		if n.ParentID == parentID {
			count++
		}
	}
	if parent.Data == nil {
		parent.Data = map[string]any{}
	}
	parent.Data[DataChildCount] = count
	return count
}

// RemoveNode 删除节点并维护连线一致性。
//
// 容器节点级联删除自身、全部子节点以及触及它们的连线。普通节点在同时存在入边和出边时，
// 为每一对 (入边, 出边) 生成一条从入边源到出边目标的新连线，源与目标相同的组合跳过；
// 自环连线不参与配对。newEdgeID 为新连线生成 id。
func (g *Graph) RemoveNode(id string, newEdgeID func() string) (RemoveResult, error) {
	node, ok := g.Node(id)
	if !ok {
		return RemoveResult{}, xerrors.Wrap(CodeNodeNotFound, ErrNodeNotFound, id)
	}
	if node.Type.IsContainer() {
		return g.removeCascade(id), nil
	}
	return g.removeWithReconnect(id, node.ParentID, newEdgeID), nil
}

func (g *Graph) removeCascade(id string) RemoveResult {
	removed := map[string]struct{}{id: {}}
	for _, n := range g.Nodes {
		if n.ParentID == id {
			removed[n.ID] = struct{}{}
		}
	}

	var result RemoveResult
	nodes := g.Nodes[:0]
	for _, n := range g.Nodes {
		if _, ok := removed[n.ID]; ok {
			result.RemovedNodes = append(result.RemovedNodes, n.ID)
			continue
		}
		nodes = append(nodes, n)
	}
	g.Nodes = nodes

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		_, src := removed[e.Source]
		_, dst := removed[e.Target]
		if src || dst {
			result.RemovedEdges = append(result.RemovedEdges, e.ID)
			continue
		}
		edges = append(edges, e)
	}
	g.Edges = edges
	return result
}

func (g *Graph) removeWithReconnect(id, parentID string, newEdgeID func() string) RemoveResult {
	var incoming, outgoing []Edge
	for _, e := range g.Edges {
		if e.Source == id && e.Target == id {
			continue
		}
		if e.Target == id {
			incoming = append(incoming, e)
		}
		if e.Source == id {
			outgoing = append(outgoing, e)
		}
	}

	var added []Edge
	for _, in := range incoming {
		for _, out := range outgoing {
			if in.Source == out.Target {
				continue
			}
			added = append(added, NewEdge(newEdgeID(), in.Source, out.Target))
		}
	}

	result := RemoveResult{RemovedNodes: []string{id}}
	nodes := g.Nodes[:0]
	for _, n := range g.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	g.Nodes = nodes

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if e.Source == id || e.Target == id {
			result.RemovedEdges = append(result.RemovedEdges, e.ID)
			continue
		}
		edges = append(edges, e)
	}
	g.Edges = append(edges, added...)
	result.AddedEdges = added

	if parentID != "" {
		g.RecountChildren(parentID)
	}
	return result
}

// Validate 检查悬挂连线与无效的父子关系。
func (g *Graph) Validate() error {
	ids := make(map[string]NodeType, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = n.Type
	}
	for _, n := range g.Nodes {
		if n.ParentID == "" {
			continue
		}
		parentType, ok := ids[n.ParentID]
		if !ok || !parentType.IsContainer() {
			return xerrors.Wrap(CodeInvalidParent, ErrInvalidParent, n.ID)
		}
	}
	for _, e := range g.Edges {
		_, src := ids[e.Source]
		_, dst := ids[e.Target]
		if !src || !dst {
			return xerrors.Wrap(CodeDanglingEdge, ErrDanglingEdge, e.ID)
		}
	}
	return nil
}

// BuildOutgoing 构建 节点 id -> 目标节点 id 列表 的邻接表。
func (g *Graph) BuildOutgoing() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}

// BuildIncoming 构建 节点 id -> 源节点 id 列表 的邻接表。
func (g *Graph) BuildIncoming() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.Target] = append(adj[e.Target], e.Source)
	}
	return adj
}

// StartNode 返回用于线性化的起始节点：优先顶层 start 节点。
func (g *Graph) StartNode() (*Node, bool) {
	var fallback *Node
	for i := range g.Nodes {
		if g.Nodes[i].Type != TypeStart {
			continue
		}
		if g.Nodes[i].ParentID == "" {
			return &g.Nodes[i], true
		}
		if fallback == nil {
			fallback = &g.Nodes[i]
		}
	}
	return fallback, fallback != nil
}

// Linearize 按 BFS 顺序返回节点，作为交给执行端的工作流条目顺序。
// 同层邻居按名称排序；不可达节点按名称追加在末尾。图中的环不会导致重复。
func (g *Graph) Linearize() []Node {
	if len(g.Nodes) == 0 {
		return nil
	}
	byID := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}
	outgoing := g.BuildOutgoing()
	visited := make(map[string]bool, len(g.Nodes))
	var result []Node

	if start, ok := g.StartNode(); ok {
		queue := []string{start.ID}
		visited[start.ID] = true
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			result = append(result, byID[current])

			var neighbors []Node
			for _, target := range outgoing[current] {
				if n, ok := byID[target]; ok && !visited[target] {
					neighbors = append(neighbors, n)
				}
			}
			sortByLabel(neighbors)
			for _, n := range neighbors {
				if !visited[n.ID] {
					visited[n.ID] = true
					queue = append(queue, n.ID)
				}
			}
		}
	}

	var rest []Node
	for _, n := range g.Nodes {
		if !visited[n.ID] {
			rest = append(rest, n)
		}
	}
	sortByLabel(rest)
	return append(result, rest...)
}

func sortByLabel(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Label() == nodes[j].Label() {
			return nodes[i].ID < nodes[j].ID
		}
		return nodes[i].Label() < nodes[j].Label()
	})
}
