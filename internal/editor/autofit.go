package editor

import (
	"context"
	"log/slog"
	"time"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/graph"
)

// AutoFit 按子节点重新计算容器尺寸。
// Manual 模式、折叠状态或尺寸未变化时不做任何修改并返回 false。
func (e *Editor) AutoFit(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.containerLocked(id); err != nil {
		return false, err
	}
	return e.autoFitLocked(id), nil
}

// AutoFitAll 对所有容器执行一次自适应，返回尺寸发生变化的容器数量。
func (e *Editor) AutoFitAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, n := range e.graph.Nodes {
		if n.Type.IsContainer() {
			ids = append(ids, n.ID)
		}
	}
	changed := 0
	for _, id := range ids {
		if e.autoFitLocked(id) {
			changed++
		}
	}
	return changed
}

// RunAutoFit 按固定周期执行 AutoFitAll，用于捕捉没有显式事件的子节点拖动，直到 ctx 被取消。
func (e *Editor) RunAutoFit(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed := e.AutoFitAll(); changed > 0 {
				e.log.Debug("容器尺寸已自适应", slog.Int("containers", changed))
			}
		}
	}
}

func (e *Editor) autoFitLocked(id string) bool {
	n, ok := e.graph.Node(id)
	if !ok || !n.Type.IsContainer() {
		return false
	}
	if e.modes[id] == SizingManual || isCollapsed(*n) {
		return false
	}
	return e.applySizeLocked(id)
}

// applySizeLocked 无条件重新计算尺寸，只有结果不同才写回。
func (e *Editor) applySizeLocked(id string) bool {
	n, ok := e.graph.Node(id)
	if !ok {
		return false
	}
	var children []graph.Node
	for _, child := range e.graph.Children(id) {
		children = append(children, *child)
	}
	size := ContainerSize(*n, children, e.layout.ContainerPadding)
	if n.Style != nil && *n.Style == size {
		return false
	}
	n.Style = &size
	e.metrics.AutoFitUpdate()
	return true
}

// ToggleCollapse 切换容器的折叠状态，返回切换后的状态。
//
// 折叠时隐藏全部子节点、尺寸降为折叠尺寸，并将尺寸模式恢复为 Auto；
// 展开时显示子节点并强制重新计算一次尺寸。
func (e *Editor) ToggleCollapse(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	n, err := e.containerLocked(id)
	if err != nil {
		e.mu.Unlock()
		return false, e.reject(ctx, err, id)
	}
	collapsed := !isCollapsed(*n)
	n.Data[graph.DataCollapsed] = collapsed
	if collapsed {
		size := CollapsedSize
		n.Style = &size
		e.modes[id] = SizingAuto
	}
	for _, child := range e.graph.Children(id) {
		child.Hidden = collapsed
	}
	if !collapsed {
		e.applySizeLocked(id)
	}
	e.mu.Unlock()

	e.metrics.EditorMutation("collapse")
	return collapsed, nil
}

// Resize 应用用户手动调整的尺寸，并将容器切换到 Manual 模式。低于类型最小值的尺寸被抬高到最小值。
func (e *Editor) Resize(ctx context.Context, id string, size graph.Size) (graph.Size, error) {
	e.mu.Lock()
	n, err := e.containerLocked(id)
	if err == nil && isCollapsed(*n) {
		err = xerrors.New(xerrors.CodeInvalidArgument, "cannot resize a collapsed container")
	}
	if err != nil {
		e.mu.Unlock()
		return graph.Size{}, e.reject(ctx, err, id)
	}
	size = clampSize(size, MinimumSize(n.Type))
	n.Style = &size
	e.modes[id] = SizingManual
	e.mu.Unlock()

	e.metrics.EditorMutation("resize")
	return size, nil
}

func (e *Editor) containerLocked(id string) (*graph.Node, error) {
	n, ok := e.graph.Node(id)
	if !ok {
		return nil, xerrors.Wrap(graph.CodeNodeNotFound, graph.ErrNodeNotFound, id)
	}
	if !n.Type.IsContainer() {
		return nil, xerrors.New(CodeNotContainer, "", xerrors.WithMetadata("node_id", id))
	}
	return n, nil
}
