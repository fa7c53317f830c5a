package run

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/observability/metrics"
	"AgentCanvas/internal/reconcile"
	"AgentCanvas/pkg/logger"
)

const (
	CodeRunNotFound xerrors.Code = "RUN_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{Message: "run not found", Severity: xerrors.SeverityInfo, Kind: xerrors.KindRejected})
}

// StoreFactory 为运行创建隔离的可链接输出存储。
type StoreFactory func(runID string) (reconcile.OutputStore, error)

// MemoryStoreFactory 为每个运行创建独立的内存存储。
func MemoryStoreFactory(string) (reconcile.OutputStore, error) {
	return reconcile.NewMemoryOutputStore(), nil
}

// StartRequest 描述一次运行的启动参数。
type StartRequest struct {
	ID         string   `json:"id,omitempty"`
	WorkflowID string   `json:"workflowId,omitempty"`
	Items      []string `json:"items,omitempty"`
}

// Snapshot 是运行的对外视图。
type Snapshot struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflowId,omitempty"`
	Items      []string   `json:"items,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	reconcile.Snapshot
}

type entry struct {
	id         string
	workflowID string
	items      []string
	startedAt  time.Time
	finishedAt *time.Time
	reconciler *reconcile.Reconciler
}

func (e *entry) snapshot() Snapshot {
	out := Snapshot{
		ID:         e.id,
		WorkflowID: e.workflowID,
		Items:      append([]string(nil), e.items...),
		StartedAt:  e.startedAt,
		Snapshot:   e.reconciler.Snapshot(),
	}
	if e.finishedAt != nil {
		finished := *e.finishedAt
		out.FinishedAt = &finished
	}
	return out
}

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithArchive 设置终态快照的归档。
func WithArchive(a Archive) Option {
	return func(s *Service) {
		s.archive = a
	}
}

// WithStoreFactory 设置可链接输出存储的创建方式。
func WithStoreFactory(f StoreFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.stores = f
		}
	}
}

// WithNormalizer 设置所有运行共享的归一化规则。
func WithNormalizer(n *reconcile.Normalizer) Option {
	return func(s *Service) {
		s.normalizer = n
	}
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// Service 负责运行的生命周期：创建 Reconciler、投递事件、处理终态并归档。
type Service struct {
	mu         sync.RWMutex
	runs       map[string]*entry
	archive    Archive
	stores     StoreFactory
	normalizer *reconcile.Normalizer
	now        func() time.Time
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewService 创建运行服务。
func NewService(opts ...Option) *Service {
	s := &Service{
		runs:   make(map[string]*entry),
		stores: MemoryStoreFactory,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("run")
	}
	return s
}

// Start 启动运行。未指定 id 时生成新 id；id 已存在时重置该运行并重新开始。
func (s *Service) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.runs[id]; ok {
		if err := existing.reconciler.Reset(ctx); err != nil {
			return Snapshot{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "重置运行输出失败", xerrors.WithMetadata("run_id", id))
		}
		if existing.finishedAt != nil {
			s.metrics.RunStarted()
		}
		existing.workflowID = req.WorkflowID
		existing.items = append([]string(nil), req.Items...)
		existing.startedAt = s.now().UTC()
		existing.finishedAt = nil
		s.log.Info("运行已重置", slog.String("run_id", id))
		return existing.snapshot(), nil
	}

	store, err := s.stores(id)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建运行输出存储失败", xerrors.WithMetadata("run_id", id))
	}
	opts := []reconcile.Option{
		reconcile.WithOutputStore(store),
		reconcile.WithClock(s.now),
		reconcile.WithMetrics(s.metrics),
		reconcile.WithLogger(s.log.With(slog.String("run_id", id))),
	}
	if s.normalizer != nil {
		opts = append(opts, reconcile.WithNormalizer(s.normalizer))
	}
	e := &entry{
		id:         id,
		workflowID: req.WorkflowID,
		items:      append([]string(nil), req.Items...),
		startedAt:  s.now().UTC(),
		reconciler: reconcile.New(opts...),
	}
	s.runs[id] = e
	s.metrics.RunStarted()

	logger.Audit().Info("运行已启动",
		slog.String("run_id", id),
		slog.String("workflow_id", req.WorkflowID),
		slog.Int("items", len(req.Items)),
	)
	return e.snapshot(), nil
}

// Apply 将原始事件折叠进运行。事件被丢弃时 applied 为 false。
func (s *Service) Apply(ctx context.Context, runID string, raw []byte) (*reconcile.Record, bool, error) {
	e, err := s.lookup(runID)
	if err != nil {
		return nil, false, err
	}
	rec, ok := e.reconciler.UpdateRaw(ctx, raw)
	return rec, ok, nil
}

// ApplyEvent 将已解码的事件折叠进运行。
func (s *Service) ApplyEvent(ctx context.Context, runID string, ev reconcile.Event) (*reconcile.Record, bool, error) {
	e, err := s.lookup(runID)
	if err != nil {
		return nil, false, err
	}
	rec, ok := e.reconciler.Update(ctx, ev)
	return rec, ok, nil
}

// Complete 处理执行端的完成信号。
func (s *Service) Complete(ctx context.Context, runID string) (Snapshot, error) {
	return s.finish(ctx, runID, func(r *reconcile.Reconciler) { r.MarkCompleted() }, "")
}

// Fail 处理执行端的失败信号。
func (s *Service) Fail(ctx context.Context, runID, reason string) (Snapshot, error) {
	return s.finish(ctx, runID, func(r *reconcile.Reconciler) { r.MarkError(reason) }, reason)
}

func (s *Service) finish(ctx context.Context, runID string, mark func(*reconcile.Reconciler), reason string) (Snapshot, error) {
	s.mu.Lock()
	e, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, xerrors.New(CodeRunNotFound, "", xerrors.WithMetadata("run_id", runID))
	}
	mark(e.reconciler)
	first := e.finishedAt == nil
	finished := s.now().UTC()
	e.finishedAt = &finished
	snap := e.snapshot()
	s.mu.Unlock()

	if first {
		s.metrics.RunFinished()
	}
	logger.Audit().Info("运行已结束",
		slog.String("run_id", runID),
		slog.String("status", string(snap.Status)),
		slog.String("reason", reason),
		slog.Int("responses", len(snap.Responses)),
	)

	if s.archive != nil {
		archived := Entry{
			RunID:      snap.ID,
			WorkflowID: snap.WorkflowID,
			Status:     snap.Status,
			Reason:     snap.Reason,
			Items:      snap.Items,
			Snapshot:   snap.Snapshot,
			StartedAt:  snap.StartedAt,
			FinishedAt: finished,
		}
		if err := s.archive.Save(ctx, archived); err != nil {
			s.log.Warn("运行归档失败", slog.String("run_id", runID), slog.Any("error", err))
		}
	}
	return snap, nil
}

// Get 返回运行快照。内存中不存在时回退到归档。
func (s *Service) Get(ctx context.Context, runID string) (Snapshot, error) {
	e, err := s.lookup(runID)
	if err == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return e.snapshot(), nil
	}
	if s.archive == nil {
		return Snapshot{}, err
	}
	archived, archErr := s.archive.Get(ctx, runID)
	if archErr != nil {
		return Snapshot{}, archErr
	}
	finished := archived.FinishedAt
	return Snapshot{
		ID:         archived.RunID,
		WorkflowID: archived.WorkflowID,
		Items:      archived.Items,
		StartedAt:  archived.StartedAt,
		FinishedAt: &finished,
		Snapshot:   archived.Snapshot,
	}, nil
}

// List 按启动时间返回内存中的全部运行。
func (s *Service) List() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.runs))
	for _, e := range s.runs {
		out = append(out, e.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ChainedOutput 返回运行中某个步骤保存的可链接输出。
func (s *Service) ChainedOutput(ctx context.Context, runID, itemID string) (string, bool, error) {
	e, err := s.lookup(runID)
	if err != nil {
		return "", false, err
	}
	return e.reconciler.ChainedOutput(ctx, itemID)
}

// Close 释放归档连接。
func (s *Service) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}

func (s *Service) lookup(runID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[runID]
	if !ok {
		return nil, xerrors.New(CodeRunNotFound, "", xerrors.WithMetadata("run_id", runID))
	}
	return e, nil
}
