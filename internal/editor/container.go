package editor

import (
	"AgentCanvas/internal/graph"
)

// SizingMode 是容器尺寸的状态机：Auto 时周期性自适应，Manual 时保持用户拖拽的尺寸。
// Auto -> Manual 发生在手动调整尺寸时，Manual -> Auto 发生在折叠时。
type SizingMode int

const (
	SizingAuto SizingMode = iota
	SizingManual
)

func (m SizingMode) String() string {
	if m == SizingManual {
		return "manual"
	}
	return "auto"
}

// CollapsedSize 是折叠后容器的固定尺寸。
var CollapsedSize = graph.Size{Width: 300, Height: 80}

// MinimumSize 返回容器类型的最小尺寸，非容器返回零值。
func MinimumSize(t graph.NodeType) graph.Size {
	switch t {
	case graph.TypeAgentContainer:
		return graph.Size{Width: 600, Height: 400}
	case graph.TypeLoopContainer:
		return graph.Size{Width: 400, Height: 300}
	default:
		return graph.Size{}
	}
}

// EffectiveSize 返回节点参与包围盒计算的尺寸。显式 style 优先，折叠的节点使用折叠尺寸。
func EffectiveSize(n graph.Node) graph.Size {
	if n.Style != nil {
		return *n.Style
	}
	if collapsed, _ := n.Data[graph.DataCollapsed].(bool); collapsed {
		return CollapsedSize
	}
	switch n.Type {
	case graph.TypeTool, graph.TypeAgent:
		return graph.Size{Width: 250, Height: 100}
	case graph.TypeCondition:
		return graph.Size{Width: 220, Height: 100}
	case graph.TypeStart:
		return graph.Size{Width: 150, Height: 60}
	default:
		return graph.Size{Width: 200, Height: 80}
	}
}

// ContainerSize 根据子节点包围盒加留白计算容器尺寸，并保证不小于类型最小值。
func ContainerSize(container graph.Node, children []graph.Node, padding float64) graph.Size {
	var right, bottom float64
	for _, child := range children {
		size := EffectiveSize(child)
		right = max(right, child.Position.X+size.Width)
		bottom = max(bottom, child.Position.Y+size.Height)
	}
	size := graph.Size{Width: right + padding, Height: bottom + padding}
	return clampSize(size, MinimumSize(container.Type))
}

func clampSize(size, minimum graph.Size) graph.Size {
	return graph.Size{
		Width:  max(size.Width, minimum.Width),
		Height: max(size.Height, minimum.Height),
	}
}

// bounds 返回容器在画布上的当前尺寸。
func bounds(n graph.Node) graph.Size {
	if n.Style != nil {
		return *n.Style
	}
	return MinimumSize(n.Type)
}

func contains(n graph.Node, p graph.Position) bool {
	size := bounds(n)
	return p.X >= n.Position.X && p.X <= n.Position.X+size.Width &&
		p.Y >= n.Position.Y && p.Y <= n.Position.Y+size.Height
}

func isCollapsed(n graph.Node) bool {
	collapsed, _ := n.Data[graph.DataCollapsed].(bool)
	return collapsed
}
