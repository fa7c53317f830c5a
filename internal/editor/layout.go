package editor

import (
	"fmt"

	"AgentCanvas/internal/catalog"
	"AgentCanvas/internal/graph"
)

// Layout 汇总画布布局常量。
type Layout struct {
	// ContainerPadding 是子节点包围盒之外的留白。
	ContainerPadding float64
	// 智能体预置布局的网格参数。
	GridColumns int
	NodeWidth   float64
	ColumnGap   float64
	RowHeight   float64
	RowGap      float64
	GridPadding float64
}

// DefaultLayout 返回默认布局：两列网格，节点宽 250，列距 50，行高 150，行距 50，留白 80。
func DefaultLayout() Layout {
	return Layout{
		ContainerPadding: 80,
		GridColumns:      2,
		NodeWidth:        250,
		ColumnGap:        50,
		RowHeight:        150,
		RowGap:           50,
		GridPadding:      80,
	}
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.ContainerPadding <= 0 {
		l.ContainerPadding = d.ContainerPadding
	}
	if l.GridColumns <= 0 {
		l.GridColumns = d.GridColumns
	}
	if l.NodeWidth <= 0 {
		l.NodeWidth = d.NodeWidth
	}
	if l.ColumnGap <= 0 {
		l.ColumnGap = d.ColumnGap
	}
	if l.RowHeight <= 0 {
		l.RowHeight = d.RowHeight
	}
	if l.RowGap <= 0 {
		l.RowGap = d.RowGap
	}
	if l.GridPadding <= 0 {
		l.GridPadding = d.GridPadding
	}
	return l
}

// GridPosition 返回网格中第 index 个格子的相对坐标，按行优先填充。
func (l Layout) GridPosition(index int) graph.Position {
	col := index % l.GridColumns
	row := index / l.GridColumns
	return graph.Position{
		X: l.GridPadding + float64(col)*(l.NodeWidth+l.ColumnGap),
		Y: l.GridPadding + float64(row)*(l.RowHeight+l.RowGap),
	}
}

// agentBatch 是智能体预置布局展开后的子节点与连线。
type agentBatch struct {
	nodes []graph.Node
	edges []graph.Edge
}

// buildAgentBatch 将预置布局展开为一个 start 子节点加每个条目一个工具子节点。
// 声明了前驱的条目按前驱逐条连线，未知前驱被跳过；没有声明前驱的条目从 start 节点连出。
func (l Layout) buildAgentBatch(containerID string, items []catalog.LayoutItem, exists func(string) bool, newEdgeID func() string) agentBatch {
	var batch agentBatch
	taken := map[string]bool{}
	uniqueID := func(base string) string {
		id := base
		for n := 2; exists(id) || taken[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		taken[id] = true
		return id
	}

	startID := uniqueID(containerID + "-start")
	batch.nodes = append(batch.nodes, graph.Node{
		ID:       startID,
		Type:     graph.TypeStart,
		Position: l.GridPosition(0),
		ParentID: containerID,
		Data:     map[string]any{graph.DataLabel: "Start"},
	})

	byItem := make(map[string]string, len(items))
	for i, item := range items {
		key := item.ItemID
		if key == "" {
			key = fmt.Sprintf("%d", i+1)
		}
		id := uniqueID(fmt.Sprintf("%s-item-%s", containerID, key))
		byItem[key] = id
		label := item.SubnetName
		if label == "" {
			label = key
		}
		batch.nodes = append(batch.nodes, graph.Node{
			ID:       id,
			Type:     graph.TypeTool,
			Position: l.GridPosition(i + 1),
			ParentID: containerID,
			Data: map[string]any{
				graph.DataLabel: label,
				"subnet_id":     item.SubnetID,
				"subnet_name":   item.SubnetName,
				"item_id":       key,
				"inputs":        append([]string(nil), item.Inputs...),
			},
		})
	}

	for i, item := range items {
		key := item.ItemID
		if key == "" {
			key = fmt.Sprintf("%d", i+1)
		}
		target := byItem[key]
		if len(item.Inputs) == 0 {
			batch.edges = append(batch.edges, graph.NewEdge(newEdgeID(), startID, target))
			continue
		}
		for _, input := range item.Inputs {
			source, ok := byItem[input]
			if !ok {
				continue
			}
			batch.edges = append(batch.edges, graph.NewEdge(newEdgeID(), source, target))
		}
	}
	return batch
}
