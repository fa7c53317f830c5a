package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"AgentCanvas/internal/editor"
	"AgentCanvas/internal/export"
	"AgentCanvas/internal/feed"
	"AgentCanvas/internal/graph"
	"AgentCanvas/internal/notify"
	"AgentCanvas/internal/observability/metrics"
	"AgentCanvas/internal/reconcile"
	"AgentCanvas/internal/run"
	"AgentCanvas/pkg/logger"
)

// Canvas 定义 API 使用的画布编辑能力。
type Canvas interface {
	Drop(ctx context.Context, raw []byte, at graph.Position) (*editor.DropResult, error)
	Connect(ctx context.Context, source, target string) (graph.Edge, error)
	DeleteNode(ctx context.Context, id string) (graph.RemoveResult, error)
	ToggleCollapse(ctx context.Context, id string) (bool, error)
	Resize(ctx context.Context, id string, size graph.Size) (graph.Size, error)
	MoveNode(ctx context.Context, id string, to graph.Position) error
	Graph() graph.Graph
	Export() export.Snapshot
	WorkflowItems() []graph.Node
}

// Runs 定义 API 使用的运行管理能力。
type Runs interface {
	Start(ctx context.Context, req run.StartRequest) (run.Snapshot, error)
	Get(ctx context.Context, runID string) (run.Snapshot, error)
	List() []run.Snapshot
	Apply(ctx context.Context, runID string, raw []byte) (*reconcile.Record, bool, error)
	Complete(ctx context.Context, runID string) (run.Snapshot, error)
	Fail(ctx context.Context, runID, reason string) (run.Snapshot, error)
	ChainedOutput(ctx context.Context, runID, itemID string) (string, bool, error)
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithRecorder 设置最近通知的来源。
func WithRecorder(r *notify.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithMetrics 设置指标采集器，并在 /metrics 暴露。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProducer 设置事件队列。设置后运行事件与终态信号经队列投递，与队列中的其他消息共享同一运行内的顺序。
func WithProducer(p feed.Producer) Option {
	return func(s *Server) {
		s.producer = p
	}
}

// WithMaxBodyBytes 限制请求体大小。
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	canvas   Canvas
	runs     Runs
	recorder *notify.Recorder
	metrics  *metrics.Metrics
	producer feed.Producer
	log      *slog.Logger
	maxBody  int64
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, canvas Canvas, runs Runs, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		canvas:  canvas,
		runs:    runs,
		maxBody: 1 << 20,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	return s
}

// Handler 返回挂载了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/canvas", s.instrument("canvas", s.handleCanvas))
	mux.Handle("/api/v1/canvas/drop", s.instrument("drop", s.handleDrop))
	mux.Handle("/api/v1/canvas/edges", s.instrument("edges", s.handleEdges))
	mux.Handle("/api/v1/canvas/nodes/", s.instrument("nodes", s.handleNode))
	mux.Handle("/api/v1/canvas/export", s.instrument("export", s.handleExport))
	mux.Handle("/api/v1/canvas/items", s.instrument("items", s.handleItems))
	mux.Handle("/api/v1/notifications", s.instrument("notifications", s.handleNotifications))
	mux.Handle("/api/v1/runs", s.instrument("runs", s.handleRuns))
	mux.Handle("/api/v1/runs/", s.instrument("run", s.handleRun))
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 为处理器记录请求指标并限制请求体大小。
func (s *Server) instrument(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
