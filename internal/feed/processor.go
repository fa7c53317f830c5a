package feed

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/observability/metrics"
	"AgentCanvas/internal/reconcile"
	"AgentCanvas/internal/run"
	"AgentCanvas/pkg/logger"
)

// 处理结果标签。
const (
	ResultApplied    = "applied"
	ResultDropped    = "dropped"
	ResultCompleted  = "completed"
	ResultFailed     = "failed"
	ResultUnknownRun = "unknown_run"
	ResultInvalid    = "invalid"
)

// Runs 定义处理器所需的运行服务能力。
type Runs interface {
	Apply(ctx context.Context, runID string, raw []byte) (*reconcile.Record, bool, error)
	Complete(ctx context.Context, runID string) (run.Snapshot, error)
	Fail(ctx context.Context, runID, reason string) (run.Snapshot, error)
}

// Processor 从队列消费消息并投递给运行服务。
//
// 队列以单协程读取以保留到达顺序，随后按运行 id 哈希分片，每个分片由一个 worker 顺序处理，
// 因此同一运行的事件按入队顺序折叠，不同运行之间并行。
type Processor struct {
	runs        Runs
	consumer    Consumer
	workerCount int
	bufferSize  int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置分片 worker 数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithBufferSize 设置每个分片的缓冲长度。
func WithBufferSize(size int) ProcessorOption {
	return func(p *Processor) {
		if size > 0 {
			p.bufferSize = size
		}
	}
}

// WithProcessorMetrics 设置指标采集器。
func WithProcessorMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runs Runs, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runs:        runs,
		consumer:    consumer,
		workerCount: 4,
		bufferSize:  64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.log == nil {
		p.log = logger.Named("feed")
	}
	return p
}

// Start 启动消费循环，直到 ctx 取消或队列出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.runs == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "事件处理器未初始化")
	}

	shards := make([]chan Message, p.workerCount)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan Message, p.bufferSize)
		wg.Add(1)
		go func(in <-chan Message) {
			defer wg.Done()
			for msg := range in {
				p.Handle(ctx, msg)
			}
		}(shards[i])
	}

	var (
		mu     sync.RWMutex
		closed bool
	)
	err := p.consumer.Consume(ctx, 1, func(ctx context.Context, msg Message) error {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return ctx.Err()
		}
		select {
		case shards[shardOf(msg.RunID, len(shards))] <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	mu.Lock()
	closed = true
	for _, ch := range shards {
		close(ch)
	}
	mu.Unlock()
	wg.Wait()
	p.log.Info("事件处理器已停止")
	return err
}

// Handle 处理单条消息并返回结果标签。未知运行与无法识别的事件不视为错误。
func (p *Processor) Handle(ctx context.Context, msg Message) string {
	result, err := p.handle(ctx, msg)
	if err != nil {
		if xerrors.CodeOf(err) == run.CodeRunNotFound {
			result = ResultUnknownRun
			p.log.Debug("跳过未知运行的消息", slog.String("run_id", msg.RunID))
		} else {
			result = ResultInvalid
			p.log.Warn("队列消息处理失败", slog.String("run_id", msg.RunID), slog.Any("error", err))
		}
	}
	p.metrics.FeedMessage(result)
	return result
}

func (p *Processor) handle(ctx context.Context, msg Message) (string, error) {
	switch msg.Signal {
	case SignalComplete:
		if _, err := p.runs.Complete(ctx, msg.RunID); err != nil {
			return "", err
		}
		return ResultCompleted, nil
	case SignalError:
		if _, err := p.runs.Fail(ctx, msg.RunID, msg.Reason); err != nil {
			return "", err
		}
		return ResultFailed, nil
	case SignalEvent:
		_, applied, err := p.runs.Apply(ctx, msg.RunID, msg.Payload)
		if err != nil {
			return "", err
		}
		if !applied {
			return ResultDropped, nil
		}
		return ResultApplied, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown signal", xerrors.WithMetadata("signal", string(msg.Signal)))
	}
}

func shardOf(runID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return int(h.Sum32() % uint32(n))
}
