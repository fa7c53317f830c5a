package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/observability/metrics"
	"AgentCanvas/pkg/logger"
)

// RunStatus 是一次运行的整体状态。
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// Timestamps 记录步骤首次进入处理与首次到达终态的时间。
type Timestamps struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Record 是账本中某个身份的最新状态。
type Record struct {
	Step
	Timestamps Timestamps `json:"timestamps"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (r Record) clone() Record {
	dup := r
	dup.Files = append([]File(nil), r.Files...)
	dup.ExtractedImages = append([]string{}, r.ExtractedImages...)
	if r.ResponseData != nil {
		dup.ResponseData = make(map[string]any, len(r.ResponseData))
		for k, v := range r.ResponseData {
			dup.ResponseData[k] = v
		}
	}
	if r.Timestamps.Start != nil {
		start := *r.Timestamps.Start
		dup.Timestamps.Start = &start
	}
	if r.Timestamps.End != nil {
		end := *r.Timestamps.End
		dup.Timestamps.End = &end
	}
	return dup
}

// Snapshot 是运行状态的只读视图，Responses 按账本顺序排列。
type Snapshot struct {
	Status    RunStatus `json:"status"`
	Current   string    `json:"current,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Responses []Record  `json:"responses"`
}

// Option 定义 Reconciler 的可选配置。
type Option func(*Reconciler)

// WithNormalizer 设置归一化规则。
func WithNormalizer(n *Normalizer) Option {
	return func(r *Reconciler) {
		if n != nil {
			r.normalizer = n
		}
	}
}

// WithOutputStore 设置运行隔离的可链接输出存储。
func WithOutputStore(s OutputStore) Option {
	return func(r *Reconciler) {
		if s != nil {
			r.store = s
		}
	}
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// Reconciler 将事件流折叠为一次运行的有序结果集。
type Reconciler struct {
	mu         sync.Mutex
	normalizer *Normalizer
	store      OutputStore
	now        func() time.Time
	metrics    *metrics.Metrics
	log        *slog.Logger

	records map[string]*Record
	ledger  []string
	current string
	status  RunStatus
	reason  string
	// gen 在每次 Reset 时递增，用于丢弃属于上一轮的输出写入。
	gen uint64

	// storeMu 串行化可链接输出的写入与 Reset 的清空，加锁顺序为 storeMu 先于 mu。
	storeMu sync.Mutex
}

// New 创建处于 idle 状态的 Reconciler。
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		normalizer: NewNormalizer(nil, nil),
		store:      NewMemoryOutputStore(),
		now:        time.Now,
		records:    make(map[string]*Record),
		status:     RunIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.log == nil {
		r.log = logger.Named("reconciler")
	}
	return r
}

// UpdateRaw 解码原始事件后折叠。
func (r *Reconciler) UpdateRaw(ctx context.Context, raw []byte) (*Record, bool) {
	return r.Update(ctx, Decode(raw))
}

// Update 归一化并折叠一个事件。被丢弃的事件不改变任何状态，返回 false。
//
// 身份首次出现时追加到账本；同一身份的后续事件就地覆盖，保留首次 processing 的开始时间，
// 首次到达终态时记录结束时间。
func (r *Reconciler) Update(ctx context.Context, ev Event) (*Record, bool) {
	step, err := r.normalizer.normalize(ev)
	if err != nil {
		r.metrics.ReconcilerEvent(metrics.OutcomeDropped)
		r.log.Debug("事件已丢弃", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
		return nil, false
	}

	r.mu.Lock()
	now := r.now()
	rec, seen := r.records[step.ItemID]
	if !seen {
		rec = &Record{}
		r.records[step.ItemID] = rec
		r.ledger = append(r.ledger, step.ItemID)
	}
	rec.Step = *step
	rec.UpdatedAt = now
	switch {
	case step.Status == StatusProcessing:
		if rec.Timestamps.Start == nil {
			rec.Timestamps.Start = &now
		}
		r.current = step.ItemID
		if r.status != RunRunning {
			r.status = RunRunning
		}
	case step.Status.Terminal():
		if rec.Timestamps.End == nil {
			rec.Timestamps.End = &now
		}
		r.current = ""
	}
	out := rec.clone()
	gen := r.gen
	r.mu.Unlock()

	if step.Status == StatusSuccess && step.Message != "" && r.normalizer.IsChainable(step.Name) {
		r.storeOutput(ctx, gen, step.ItemID, step.Message)
	}

	if ev.Kind == KindUnknown {
		r.metrics.ReconcilerEvent(metrics.OutcomeSynthetic)
	} else {
		r.metrics.ReconcilerEvent(metrics.OutcomeApplied)
	}
	return &out, true
}

// storeOutput 仅在折叠时所在的轮次仍然有效时写入输出。
func (r *Reconciler) storeOutput(ctx context.Context, gen uint64, itemID, value string) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.Lock()
	stale := r.gen != gen
	r.mu.Unlock()
	if stale {
		r.log.Debug("运行已重置，丢弃过期输出", slog.String("item_id", itemID))
		return
	}
	if err := r.store.Set(ctx, itemID, value); err != nil {
		r.log.Warn("可链接输出写入失败", slog.String("item_id", itemID), slog.Any("error", err))
	}
}

// MarkCompleted 将运行标记为完成。
func (r *Reconciler) MarkCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunCompleted
	r.reason = ""
}

// MarkError 将运行标记为失败并记录原因。
func (r *Reconciler) MarkError(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunError
	r.reason = reason
}

// Reset 清空记录、账本与当前步骤指针，并清空可链接输出，运行状态回到 idle。
func (r *Reconciler) Reset(ctx context.Context) error {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.Lock()
	r.gen++
	r.records = make(map[string]*Record)
	r.ledger = nil
	r.current = ""
	r.status = RunIdle
	r.reason = ""
	r.mu.Unlock()
	return r.store.Clear(ctx)
}

// Responses 按账本顺序返回记录副本。
func (r *Reconciler) Responses() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responsesLocked()
}

func (r *Reconciler) responsesLocked() []Record {
	out := make([]Record, 0, len(r.ledger))
	for _, id := range r.ledger {
		out = append(out, r.records[id].clone())
	}
	return out
}

// Current 返回当前正在处理的步骤身份。
func (r *Reconciler) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != ""
}

// Status 返回运行状态。
func (r *Reconciler) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot 返回运行状态的只读视图。
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Status:    r.status,
		Current:   r.current,
		Reason:    r.reason,
		Responses: r.responsesLocked(),
	}
}

// ChainedOutput 返回某个步骤保存的可链接输出，供下游步骤拼接输入。
func (r *Reconciler) ChainedOutput(ctx context.Context, itemID string) (string, bool, error) {
	return r.store.Get(ctx, itemID)
}
