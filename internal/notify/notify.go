package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/pkg/logger"
)

// Level 表示通知的展示级别。
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification 是一条对用户可见、不阻塞操作的提示。
type Notification struct {
	Level      Level             `json:"level"`
	Code       xerrors.Code      `json:"code,omitempty"`
	Message    string            `json:"message"`
	NodeID     string            `json:"nodeId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Notifier 负责将通知送达某个渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Dispatcher 是编辑器依赖的通知出口。
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// FromError 将统一错误转换为通知，级别取自错误严重程度。
func FromError(err error, nodeID string) Notification {
	n := Notification{
		Level:      LevelError,
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		NodeID:     nodeID,
		OccurredAt: time.Now(),
	}
	if e, ok := xerrors.From(err); ok {
		n.Message = e.Message()
		n.Metadata = e.Metadata()
		switch e.Severity() {
		case xerrors.SeverityInfo:
			n.Level = LevelInfo
		case xerrors.SeverityWarning:
			n.Level = LevelWarning
		}
	}
	return n
}

// Fanout 将通知广播给多个 Notifier。
type Fanout struct {
	notifiers []Notifier
}

// NewFanout 创建 Fanout，忽略 nil 渠道。
func NewFanout(notifiers ...Notifier) *Fanout {
	list := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			list = append(list, n)
		}
	}
	return &Fanout{notifiers: list}
}

// Notify 将通知投递到所有渠道，单个渠道失败不影响其它渠道。
func (f *Fanout) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, notifier := range f.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 将通知写入审计日志。
type LogNotifier struct{}

// Name 返回渠道名称。
func (LogNotifier) Name() string { return "log" }

// Notify 写入审计日志。
func (LogNotifier) Notify(_ context.Context, n Notification) error {
	attrs := []any{
		slog.String("code", string(n.Code)),
		slog.String("node_id", n.NodeID),
	}
	switch n.Level {
	case LevelError:
		logger.Audit().Error(n.Message, attrs...)
	case LevelWarning:
		logger.Audit().Warn(n.Message, attrs...)
	default:
		logger.Audit().Info(n.Message, attrs...)
	}
	return nil
}

// Recorder 在内存中保留最近的通知，供 API 轮询与测试断言。
type Recorder struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

// NewRecorder 创建 Recorder，limit <= 0 时保留 100 条。
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{limit: limit}
}

// Name 返回渠道名称。
func (r *Recorder) Name() string { return "recorder" }

// Notify 记录通知，超过上限时丢弃最旧的一条。
func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
	return nil
}

// List 返回已记录通知的副本，按发生顺序排列。
func (r *Recorder) List() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Len 返回已记录的通知数量。
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
