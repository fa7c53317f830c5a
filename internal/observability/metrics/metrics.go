package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 对账结果标签。
const (
	OutcomeApplied   = "applied"
	OutcomeDropped   = "dropped"
	OutcomeSynthetic = "synthetic"
)

// Metrics 汇总 canvasd 暴露的 Prometheus 指标。所有方法对 nil 接收者安全。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	mutations    *prometheus.CounterVec
	autoFits     prometheus.Counter
	reconciles   *prometheus.CounterVec
	activeRuns   prometheus.Gauge
	feedMessages *prometheus.CounterVec
}

// New 创建一组独立注册表上的指标，并附带进程与 Go 运行时采集器。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_http_request_errors_total",
			Help: "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvas_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_editor_mutations_total",
			Help: "Graph mutations applied by the canvas editor.",
		}, []string{"op"}),
		autoFits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvas_autofit_updates_total",
			Help: "Container size updates emitted by auto-fit.",
		}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_reconciler_events_total",
			Help: "Execution events folded by the reconciler, by outcome.",
		}, []string{"outcome"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canvas_runs_active",
			Help: "Runs that have not reached a terminal state.",
		}),
		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_feed_messages_total",
			Help: "Event feed messages handled by the processor.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpErrors, m.httpLatency,
		m.mutations, m.autoFits, m.reconciles, m.activeRuns, m.feedMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// EditorMutation 记录一次画布变更。
func (m *Metrics) EditorMutation(op string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
}

// AutoFitUpdate 记录一次容器尺寸更新。
func (m *Metrics) AutoFitUpdate() {
	if m == nil {
		return
	}
	m.autoFits.Inc()
}

// ReconcilerEvent 记录一次事件折叠结果。
func (m *Metrics) ReconcilerEvent(outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(outcome).Inc()
}

// RunStarted 与 RunFinished 维护活跃运行数。
// RunStarted 记录一次运行开始。
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished 记录一次运行到达终态。
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}

// FeedMessage 记录一条事件队列消息的处理结果。
func (m *Metrics) FeedMessage(result string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(result).Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
