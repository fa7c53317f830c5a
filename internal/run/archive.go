package run

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/reconcile"
)

// Entry 是一次已结束运行的归档记录。
type Entry struct {
	RunID      string              `json:"runId"`
	WorkflowID string              `json:"workflowId,omitempty"`
	Status     reconcile.RunStatus `json:"status"`
	Reason     string              `json:"reason,omitempty"`
	Items      []string            `json:"items,omitempty"`
	Snapshot   reconcile.Snapshot  `json:"snapshot"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// Archive 保存已结束运行的快照。同一运行重复写入时覆盖旧记录。
type Archive interface {
	Save(ctx context.Context, entry Entry) error
	Get(ctx context.Context, runID string) (*Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// MemoryArchive 是进程内的归档实现。
type MemoryArchive struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryArchive 创建空的内存归档。
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{entries: make(map[string]Entry)}
}

// Save 写入或覆盖归档记录。
func (a *MemoryArchive) Save(_ context.Context, entry Entry) error {
	if entry.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id is empty")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[entry.RunID] = entry
	return nil
}

// Get 返回归档记录。
func (a *MemoryArchive) Get(_ context.Context, runID string) (*Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.entries[runID]
	if !ok {
		return nil, xerrors.New(CodeRunNotFound, "", xerrors.WithMetadata("run_id", runID))
	}
	return &entry, nil
}

// List 按结束时间倒序返回最多 limit 条记录，limit <= 0 表示不限制。
func (a *MemoryArchive) List(_ context.Context, limit int) ([]Entry, error) {
	a.mu.RLock()
	out := make([]Entry, 0, len(a.entries))
	for _, entry := range a.entries {
		out = append(out, entry)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close 实现 Archive 接口。
func (a *MemoryArchive) Close() error { return nil }

var _ Archive = (*MemoryArchive)(nil)
