package editor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentCanvas/internal/catalog"
	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/export"
	"AgentCanvas/internal/graph"
	"AgentCanvas/internal/notify"
	"AgentCanvas/internal/observability/metrics"
	"AgentCanvas/pkg/logger"
)

const (
	CodeInvalidPayload       xerrors.Code = "EDITOR_INVALID_PAYLOAD"
	CodeAgentContainerExists xerrors.Code = "EDITOR_AGENT_CONTAINER_EXISTS"
	CodeNotContainer         xerrors.Code = "EDITOR_NOT_CONTAINER"
	CodeHydrationFailed      xerrors.Code = "EDITOR_HYDRATION_FAILED"
	CodeEditorClosed         xerrors.Code = "EDITOR_CLOSED"
)

func init() {
	xerrors.Register(CodeInvalidPayload, xerrors.Attributes{Message: "invalid drop payload", Severity: xerrors.SeverityWarning, Kind: xerrors.KindRejected, Notify: true})
	xerrors.Register(CodeAgentContainerExists, xerrors.Attributes{Message: "only one agent container is allowed per canvas", Severity: xerrors.SeverityWarning, Kind: xerrors.KindRejected, Notify: true})
	xerrors.Register(CodeNotContainer, xerrors.Attributes{Message: "node is not a container", Severity: xerrors.SeverityInfo, Kind: xerrors.KindRejected})
	xerrors.Register(CodeHydrationFailed, xerrors.Attributes{Message: "failed to load node details", Severity: xerrors.SeverityWarning, Kind: xerrors.KindDegraded, Notify: true})
	xerrors.Register(CodeEditorClosed, xerrors.Attributes{Message: "editor is closed", Severity: xerrors.SeverityInfo, Kind: xerrors.KindRejected})
}

// 工具补全失败时写入节点的描述。
const hydrationFailedDescription = "failed to load tool details"

// DefaultHydrationTimeout 是单次详情获取的超时时间。
const DefaultHydrationTimeout = 15 * time.Second

// DropResult 描述一次拖放插入的结果。Node 为插入时的乐观状态。
type DropResult struct {
	Kind    PayloadKind `json:"kind"`
	Node    graph.Node  `json:"node"`
	Pending bool        `json:"pending"`
}

// Option 定义 Editor 的可选配置。
type Option func(*Editor)

// WithCatalog 设置详情服务。未设置时节点保持加载态之外的初始数据，不发起补全。
func WithCatalog(c catalog.Catalog) Option {
	return func(e *Editor) {
		e.catalog = c
	}
}

// WithNotifier 设置用户可见通知的出口。
func WithNotifier(n notify.Dispatcher) Option {
	return func(e *Editor) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithClock 注入时钟，用于生成节点 id 与导出时间戳。
func WithClock(now func() time.Time) Option {
	return func(e *Editor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLayout 覆盖布局常量，未填写的字段使用默认值。
func WithLayout(l Layout) Option {
	return func(e *Editor) {
		e.layout = l.withDefaults()
	}
}

// WithIDGenerator 设置连线 id 生成器。
func WithIDGenerator(next func() string) Option {
	return func(e *Editor) {
		if next != nil {
			e.newEdgeID = next
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Editor) {
		e.metrics = m
	}
}

// WithHydrationTimeout 设置单次详情获取的超时时间。
func WithHydrationTimeout(d time.Duration) Option {
	return func(e *Editor) {
		if d > 0 {
			e.hydrationTimeout = d
		}
	}
}

// Editor 持有一张画布。
type Editor struct {
	mu    sync.Mutex
	graph graph.Graph
	modes map[string]SizingMode

	catalog          catalog.Catalog
	notifier         notify.Dispatcher
	now              func() time.Time
	layout           Layout
	newEdgeID        func() string
	log              *slog.Logger
	metrics          *metrics.Metrics
	hydrationTimeout time.Duration

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New 创建一个空画布的编辑器。
func New(opts ...Option) *Editor {
	e := &Editor{
		modes:            make(map[string]SizingMode),
		notifier:         notify.NewFanout(),
		now:              time.Now,
		layout:           DefaultLayout(),
		newEdgeID:        uuid.NewString,
		hydrationTimeout: DefaultHydrationTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.log == nil {
		e.log = logger.Named("editor")
	}
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Close 取消尚未完成的补全并等待其退出。之后需要补全的拖放会被拒绝。
func (e *Editor) Close() {
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()
	e.inflight.Wait()
}

// Wait 阻塞直到所有进行中的补全结束。
func (e *Editor) Wait() {
	e.inflight.Wait()
}

// Graph 返回当前画布的深拷贝。
func (e *Editor) Graph() graph.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Clone()
}

// Export 生成当前画布的只读连接摘要。
func (e *Editor) Export() export.Snapshot {
	g := e.Graph()
	return export.Build(g, e.now())
}

// WorkflowItems 返回交给执行端的线性节点顺序。
func (e *Editor) WorkflowItems() []graph.Node {
	g := e.Graph()
	return g.Linearize()
}

// Mode 返回容器当前的尺寸模式。
func (e *Editor) Mode(id string) SizingMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modes[id]
}

// Drop 根据拖放载荷在 at 处插入节点。
//
// 工具与智能体节点先以加载态插入，随后在后台获取详情并就地修补。
// 载荷无法识别或画布上已存在智能体容器时返回错误并发送通知，画布不变。
func (e *Editor) Drop(ctx context.Context, raw []byte, at graph.Position) (*DropResult, error) {
	payload, err := DecodePayload(raw)
	if err != nil {
		return nil, e.reject(ctx, err, "")
	}

	e.mu.Lock()
	if payload.Kind != PayloadBlock && e.catalog != nil && e.baseCtx.Err() != nil {
		e.mu.Unlock()
		return nil, e.reject(ctx, xerrors.New(CodeEditorClosed, ""), "")
	}
	var (
		result  *DropResult
		hydrate func(context.Context)
	)
	switch payload.Kind {
	case PayloadTool:
		result, hydrate, err = e.dropToolLocked(payload, at)
	case PayloadAgent:
		result, hydrate, err = e.dropAgentLocked(payload, at)
	default:
		result, err = e.dropBlockLocked(payload, at)
	}
	// 补全计数在锁内登记，保证 Close 之后不会再有新的 Add。
	pending := err == nil && hydrate != nil && e.catalog != nil
	if pending {
		e.inflight.Add(1)
	}
	e.mu.Unlock()
	if err != nil {
		return nil, e.reject(ctx, err, "")
	}

	e.metrics.EditorMutation("drop")
	e.log.Info("节点已插入", slog.String("node_id", result.Node.ID), slog.String("kind", string(result.Kind)))

	if pending {
		result.Pending = true
		go func() {
			defer e.inflight.Done()
			hctx, cancel := context.WithTimeout(e.baseCtx, e.hydrationTimeout)
			defer cancel()
			hydrate(hctx)
		}()
	}
	return result, nil
}

func (e *Editor) dropToolLocked(p Payload, at graph.Position) (*DropResult, func(context.Context), error) {
	n := graph.Node{
		ID:   e.nextNodeIDLocked(graph.TypeTool),
		Type: graph.TypeTool,
		Data: map[string]any{
			graph.DataLabel:   p.SubnetName,
			"subnet_id":       p.SubnetID,
			"subnet_name":     p.SubnetName,
			graph.DataLoading: e.catalog != nil,
		},
	}
	inserted, err := e.placeLocked(n, at)
	if err != nil {
		return nil, nil, err
	}
	id := inserted.ID
	hydrate := func(ctx context.Context) { e.hydrateTool(ctx, id, p.SubnetID) }
	return &DropResult{Kind: PayloadTool, Node: inserted}, hydrate, nil
}

// agentContainerFreeLocked 保证画布上至多一个智能体容器，无论它来自智能体载荷还是区块载荷。
func (e *Editor) agentContainerFreeLocked(agentID string) error {
	existing := e.graph.ContainersOf(graph.TypeAgentContainer)
	if len(existing) == 0 {
		return nil
	}
	return xerrors.New(CodeAgentContainerExists, "",
		xerrors.WithMetadata("existing_id", existing[0].ID),
		xerrors.WithMetadata("agent_id", agentID))
}

func (e *Editor) dropAgentLocked(p Payload, at graph.Position) (*DropResult, func(context.Context), error) {
	if err := e.agentContainerFreeLocked(p.AgentID); err != nil {
		return nil, nil, err
	}
	minimum := MinimumSize(graph.TypeAgentContainer)
	n := graph.Node{
		ID:       e.nextNodeIDLocked(graph.TypeAgentContainer),
		Type:     graph.TypeAgentContainer,
		Position: at,
		Style:    &minimum,
		Data: map[string]any{
			graph.DataLabel:      p.AgentName,
			graph.DataName:       p.AgentName,
			"agent_id":           p.AgentID,
			graph.DataChildCount: 0,
			graph.DataCollapsed:  false,
			graph.DataLoading:    e.catalog != nil,
		},
	}
	if err := e.graph.AddNode(n); err != nil {
		return nil, nil, err
	}
	e.modes[n.ID] = SizingAuto
	inserted, _ := e.graph.Node(n.ID)
	id := n.ID
	hydrate := func(ctx context.Context) { e.hydrateAgent(ctx, id, p.AgentID) }
	return &DropResult{Kind: PayloadAgent, Node: inserted.Clone()}, hydrate, nil
}

func (e *Editor) dropBlockLocked(p Payload, at graph.Position) (*DropResult, error) {
	if p.BlockType == graph.TypeAgentContainer {
		if err := e.agentContainerFreeLocked(""); err != nil {
			return nil, err
		}
	}
	data := make(map[string]any, len(p.Data)+2)
	for k, v := range p.Data {
		data[k] = v
	}
	label := p.Label
	if label == "" {
		label = string(p.BlockType)
	}
	data[graph.DataLabel] = label

	n := graph.Node{
		ID:   e.nextNodeIDLocked(p.BlockType),
		Type: p.BlockType,
		Data: data,
	}
	if p.BlockType.IsContainer() {
		minimum := MinimumSize(p.BlockType)
		n.Style = &minimum
		n.Position = at
		n.Data[graph.DataChildCount] = 0
		n.Data[graph.DataCollapsed] = false
		if err := e.graph.AddNode(n); err != nil {
			return nil, err
		}
		e.modes[n.ID] = SizingAuto
		inserted, _ := e.graph.Node(n.ID)
		return &DropResult{Kind: PayloadBlock, Node: inserted.Clone()}, nil
	}

	inserted, err := e.placeLocked(n, at)
	if err != nil {
		return nil, err
	}
	return &DropResult{Kind: PayloadBlock, Node: inserted}, nil
}

// placeLocked 插入非容器节点。落点位于展开的容器内时成为其子节点，坐标转换为相对坐标。
func (e *Editor) placeLocked(n graph.Node, at graph.Position) (graph.Node, error) {
	n.Position = at
	if parent, ok := e.containerAtLocked(at); ok {
		n.ParentID = parent.ID
		n.Position = graph.Position{X: at.X - parent.Position.X, Y: at.Y - parent.Position.Y}
	}
	if err := e.graph.AddNode(n); err != nil {
		return graph.Node{}, err
	}
	if n.ParentID != "" {
		e.autoFitLocked(n.ParentID)
	}
	inserted, _ := e.graph.Node(n.ID)
	return inserted.Clone(), nil
}

// containerAtLocked 返回包含该点的最上层展开容器。
func (e *Editor) containerAtLocked(at graph.Position) (graph.Node, bool) {
	for i := len(e.graph.Nodes) - 1; i >= 0; i-- {
		n := e.graph.Nodes[i]
		if !n.Type.IsContainer() || n.ParentID != "" || isCollapsed(n) {
			continue
		}
		if contains(n, at) {
			return n, true
		}
	}
	return graph.Node{}, false
}

// nextNodeIDLocked 生成 "{type}-{毫秒时间戳}" 形式的 id，冲突时递增时间戳。
func (e *Editor) nextNodeIDLocked(t graph.NodeType) string {
	ms := e.now().UnixMilli()
	for {
		id := fmt.Sprintf("%s-%d", t, ms)
		if !e.graph.HasNode(id) {
			return id
		}
		ms++
	}
}

func (e *Editor) hydrateTool(ctx context.Context, nodeID, subnetID string) {
	subnet, err := e.catalog.GetSubnet(ctx, subnetID)

	e.mu.Lock()
	n, ok := e.graph.Node(nodeID)
	if !ok {
		e.mu.Unlock()
		e.log.Debug("节点已删除，丢弃补全结果", slog.String("node_id", nodeID))
		return
	}
	n.Data[graph.DataLoading] = false
	if err != nil {
		n.Data[graph.DataError] = err.Error()
		n.Data["description"] = hydrationFailedDescription
	} else {
		delete(n.Data, graph.DataError)
		n.Data["description"] = subnet.Description
		if subnet.Detail != nil {
			n.Data["detail"] = subnet.Detail
		}
		if subnet.Name != "" {
			n.Data["subnet_name"] = subnet.Name
		}
	}
	e.mu.Unlock()

	e.metrics.EditorMutation("hydrate")
	if err != nil {
		e.degrade(nodeID, err)
	}
}

func (e *Editor) hydrateAgent(ctx context.Context, containerID, agentID string) {
	agent, err := e.catalog.GetAgent(ctx, agentID)

	e.mu.Lock()
	n, ok := e.graph.Node(containerID)
	if !ok {
		e.mu.Unlock()
		e.log.Debug("容器已删除，丢弃补全结果", slog.String("node_id", containerID))
		return
	}
	n.Data[graph.DataLoading] = false
	if err != nil {
		n.Data[graph.DataError] = err.Error()
		n.Data["description"] = "failed to load agent details"
		e.mu.Unlock()
		e.metrics.EditorMutation("hydrate")
		e.degrade(containerID, err)
		return
	}

	delete(n.Data, graph.DataError)
	n.Data["description"] = agent.Description
	n.Data["subnet_list"] = append([]string(nil), agent.SubnetList...)
	if agent.Name != "" {
		n.Data[graph.DataName] = agent.Name
	}

	if len(agent.Layout) > 0 {
		batch := e.layout.buildAgentBatch(containerID, agent.Layout, e.graph.HasNode, e.newEdgeID)
		hidden := isCollapsed(*n)
		for _, child := range batch.nodes {
			child.Hidden = hidden
			if err := e.graph.AddNode(child); err != nil {
				e.log.Warn("预置布局节点插入失败", slog.String("node_id", child.ID), slog.Any("error", err))
			}
		}
		for _, edge := range batch.edges {
			if err := e.graph.AddEdge(edge); err != nil {
				e.log.Warn("预置布局连线插入失败", slog.String("edge_id", edge.ID), slog.Any("error", err))
			}
		}
		e.graph.RecountChildren(containerID)
		e.autoFitLocked(containerID)
	}
	e.mu.Unlock()
	e.metrics.EditorMutation("hydrate")
}

// degrade 记录补全失败并发送通知，节点已在锁内降级为错误态。
func (e *Editor) degrade(nodeID string, cause error) {
	err := xerrors.Wrap(CodeHydrationFailed, cause, "", xerrors.WithMetadata("node_id", nodeID))
	e.log.Warn("详情补全失败", slog.String("node_id", nodeID), slog.Any("error", cause))
	if nerr := e.notifier.Notify(e.baseCtx, notify.FromError(err, nodeID)); nerr != nil {
		e.log.Warn("通知发送失败", slog.Any("error", nerr))
	}
}

// reject 处理被拒绝的用户输入：写审计日志、按需通知，并原样返回错误。
func (e *Editor) reject(ctx context.Context, err error, nodeID string) error {
	logger.Audit().Warn("画布操作被拒绝",
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()))
	if xerrors.ShouldNotify(err) {
		if nerr := e.notifier.Notify(ctx, notify.FromError(err, nodeID)); nerr != nil {
			e.log.Warn("通知发送失败", slog.Any("error", nerr))
		}
	}
	return err
}

// DeleteNode 删除节点。容器级联删除子节点，普通节点删除后对入边与出边做笛卡尔积重连。
func (e *Editor) DeleteNode(ctx context.Context, id string) (graph.RemoveResult, error) {
	e.mu.Lock()
	var parentID string
	if n, ok := e.graph.Node(id); ok {
		parentID = n.ParentID
	}
	result, err := e.graph.RemoveNode(id, e.newEdgeID)
	if err == nil {
		for _, removed := range result.RemovedNodes {
			delete(e.modes, removed)
		}
		if parentID != "" {
			e.autoFitLocked(parentID)
		}
	}
	e.mu.Unlock()

	if err != nil {
		return graph.RemoveResult{}, e.reject(ctx, err, id)
	}
	e.metrics.EditorMutation("delete")
	e.log.Info("节点已删除",
		slog.String("node_id", id),
		slog.Int("removed_edges", len(result.RemovedEdges)),
		slog.Int("added_edges", len(result.AddedEdges)))
	return result, nil
}

// Connect 在两个已存在的节点之间创建连线。
func (e *Editor) Connect(ctx context.Context, source, target string) (graph.Edge, error) {
	if source == target {
		return graph.Edge{}, e.reject(ctx, xerrors.New(xerrors.CodeInvalidArgument, "cannot connect a node to itself"), source)
	}

	e.mu.Lock()
	var err error
	edge := graph.NewEdge(e.newEdgeID(), source, target)
	switch {
	case !e.graph.HasNode(source):
		err = xerrors.Wrap(graph.CodeNodeNotFound, graph.ErrNodeNotFound, source)
	case !e.graph.HasNode(target):
		err = xerrors.Wrap(graph.CodeNodeNotFound, graph.ErrNodeNotFound, target)
	default:
		err = e.graph.AddEdge(edge)
	}
	e.mu.Unlock()

	if err != nil {
		return graph.Edge{}, e.reject(ctx, err, source)
	}
	e.metrics.EditorMutation("connect")
	return edge, nil
}

// MoveNode 更新节点坐标。子节点坐标相对于父容器；容器尺寸由周期性自适应收敛。
func (e *Editor) MoveNode(ctx context.Context, id string, to graph.Position) error {
	e.mu.Lock()
	n, ok := e.graph.Node(id)
	if ok {
		n.Position = to
	}
	e.mu.Unlock()

	if !ok {
		return e.reject(ctx, xerrors.Wrap(graph.CodeNodeNotFound, graph.ErrNodeNotFound, id), id)
	}
	e.metrics.EditorMutation("move")
	return nil
}
